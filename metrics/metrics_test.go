package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	if err != nil {
		t.Fatalf("New() failed: %s", err)
	}

	c.RecordEmitted("ndvi", "2")
	c.RecordEmitted("ndvi", "2")
	c.ReadError("ndvi", "NDVI-2", true)
	c.ReadError("spectral", "spectral", false)
	c.GPSLine(true)
	c.GPSLine(false)
	c.FixQuality(4)
	c.Export("sqlite", true)
	c.Export("sqlite", false)
	c.OptimizerRun(7)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"records", testutil.ToFloat64(c.Records.WithLabelValues("ndvi", "2")), 2},
		{"transient errors", testutil.ToFloat64(c.ReadErrors.WithLabelValues("ndvi", "NDVI-2", "transient")), 1},
		{"fatal errors", testutil.ToFloat64(c.ReadErrors.WithLabelValues("spectral", "spectral", "fatal")), 1},
		{"parsed lines", testutil.ToFloat64(c.GPSLines.WithLabelValues("parsed")), 1},
		{"ignored lines", testutil.ToFloat64(c.GPSLines.WithLabelValues("ignored")), 1},
		{"fix quality", testutil.ToFloat64(c.FixQualityCode), 4},
		{"exported", testutil.ToFloat64(c.Exported.WithLabelValues("sqlite", "success")), 1},
		{"export errors", testutil.ToFloat64(c.Exported.WithLabelValues("sqlite", "error")), 1},
	}
	for _, tc := range tests {
		if tc.got != tc.want {
			t.Errorf("%s = %f, want %f", tc.name, tc.got, tc.want)
		}
	}
	if n := testutil.CollectAndCount(c.OptimizerIterations); n != 1 {
		t.Errorf("optimizer histogram has %d series, want 1", n)
	}
}

func TestNewDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatal(err)
	}
	if _, err := New(reg); err == nil {
		t.Error("second New() on the same registry succeeded")
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.RecordEmitted("ndvi", "2")
	c.ReadError("ndvi", "NDVI-2", true)
	c.GPSLine(true)
	c.FixQuality(1)
	c.Export("csv", true)
	c.OptimizerRun(3)
}
