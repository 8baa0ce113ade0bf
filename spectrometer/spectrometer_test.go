package spectrometer

import (
	"context"
	"testing"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/hb9tf/phenocart/sensor"
	"github.com/hb9tf/phenocart/spectrometer/spectrometertest"
)

func newChannel(t *testing.T, d *spectrometertest.Device, boxcar int) *Channel {
	t.Helper()
	c, err := NewChannel(d, sensor.Downlooking, sensor.PositionCenter, 100, 3, boxcar)
	if err != nil {
		t.Fatalf("NewChannel() failed: %s", err)
	}
	return c
}

func TestOptimizeConverges(t *testing.T) {
	d := spectrometertest.New("HDX1", 10, 400, 1, 500)
	d.SettleReads = 2
	c := newChannel(t, d, 0)

	res, err := c.Optimize(context.Background(), DefaultOptimizer())
	if err != nil {
		t.Fatalf("Optimize() failed: %s", err)
	}
	if !res.Converged || !res.Reachable {
		t.Errorf("Optimize() = %+v, want converged and reachable", res)
	}
	if res.ExposureMS != 102 {
		t.Errorf("ExposureMS = %d, want 102", res.ExposureMS)
	}
	if res.RelativeError >= DefaultTolerance {
		t.Errorf("RelativeError = %f, want < %f", res.RelativeError, DefaultTolerance)
	}
	if got := c.IntegrationTimeMS(); got != 102 {
		t.Errorf("IntegrationTimeMS() = %d after Optimize, want 102", got)
	}
	if got := d.IntegrationTime(); got != 102*time.Millisecond {
		t.Errorf("device integration time = %s, want 102ms", got)
	}
	if !c.Optimized() {
		t.Error("Optimized() = false after Optimize")
	}
	if d.Reads()%signalReads != 0 {
		t.Errorf("device saw %d reads, want a multiple of %d", d.Reads(), signalReads)
	}
}

func TestOptimizeSeedAboveTarget(t *testing.T) {
	d := spectrometertest.New("HDX1", 10, 400, 1, 500)
	res, err := DefaultOptimizer().Optimize(context.Background(), newChannel(t, d, 0), 1000)
	if err != nil {
		t.Fatalf("Optimize() failed: %s", err)
	}
	if !res.Converged || res.ExposureMS != 102 {
		t.Errorf("Optimize() = %+v, want convergence at 102 ms", res)
	}
	if d.Exposures()[1] != 1000*time.Millisecond {
		t.Errorf("first probe at %s, want the seed", d.Exposures()[1])
	}
}

func TestOptimizeUnreachable(t *testing.T) {
	d := spectrometertest.New("HDX1", 10, 400, 1, 1)
	res, err := DefaultOptimizer().Optimize(context.Background(), newChannel(t, d, 0), 100)
	if err != nil {
		t.Fatalf("Optimize() failed: %s", err)
	}
	if res.Reachable || res.Converged {
		t.Errorf("Optimize() = %+v, want unreachable and not converged", res)
	}
	if res.Iterations != DefaultMaxIterations {
		t.Errorf("Iterations = %d, want %d", res.Iterations, DefaultMaxIterations)
	}
	if res.ExposureMS < 9990 || res.ExposureMS > MaxExposureMS {
		t.Errorf("ExposureMS = %d, want close to the %d ms ceiling", res.ExposureMS, MaxExposureMS)
	}
}

func TestOptimizeIterationCap(t *testing.T) {
	d := spectrometertest.New("HDX1", 10, 400, 1, 500)
	o := DefaultOptimizer()
	o.MaxIterations = 3
	res, err := o.Optimize(context.Background(), newChannel(t, d, 0), 100)
	if err != nil {
		t.Fatalf("Optimize() failed: %s", err)
	}
	if res.Converged {
		t.Errorf("Optimize() = %+v, want no convergence", res)
	}
	if res.Iterations != 3 {
		t.Errorf("Iterations = %d, want 3", res.Iterations)
	}
}

func TestSpectrum(t *testing.T) {
	d := spectrometertest.New("HDX1", 10, 400, 1, 500)
	c := newChannel(t, d, 3)
	c.Scans = 4

	s, err := c.Spectrum(context.Background())
	if err != nil {
		t.Fatalf("Spectrum() failed: %s", err)
	}
	if len(s.Intensities) != 8 || len(s.Wavelengths) != 8 {
		t.Fatalf("Spectrum() has %d values on %d wavelengths, want 8", len(s.Intensities), len(s.Wavelengths))
	}
	if s.Wavelengths[0] != 401 || s.Wavelengths[7] != 408 {
		t.Errorf("smoothed axis = %v", s.Wavelengths)
	}
	for _, v := range s.Intensities {
		if v != 51000 {
			t.Fatalf("Intensities = %v, want 51000 everywhere", s.Intensities)
		}
	}
	if s.IntegrationTimeMS != 100 || s.Orientation != sensor.Downlooking {
		t.Errorf("Spectrum() metadata = %d ms, %s", s.IntegrationTimeMS, s.Orientation)
	}
	if d.Reads() != 4 {
		t.Errorf("device saw %d reads, want 4", d.Reads())
	}
}

func TestBoxcar(t *testing.T) {
	for _, tc := range []struct {
		in   []float64
		w    int
		want []float64
	}{
		{[]float64{1, 2, 3, 4}, 2, []float64{1.5, 2.5, 3.5}},
		{[]float64{1, 2, 3, 4}, 4, []float64{2.5}},
		{[]float64{1, 2, 3}, 0, []float64{1, 2, 3}},
		{[]float64{1, 2, 3}, 1, []float64{1, 2, 3}},
	} {
		if got := boxcar(tc.in, tc.w); !floats.Equal(got, tc.want) {
			t.Errorf("boxcar(%v, %d) = %v, want %v", tc.in, tc.w, got, tc.want)
		}
	}
}

func TestNewChannelValidation(t *testing.T) {
	d := spectrometertest.New("HDX1", 4, 400, 1, 500)
	if _, err := NewChannel(d, sensor.Uplooking, sensor.PositionUpside, 100, 0, 0); err == nil {
		t.Error("NewChannel() accepted zero scans")
	}
	if _, err := NewChannel(d, sensor.Uplooking, sensor.PositionUpside, 100, 1, 5); err == nil {
		t.Error("NewChannel() accepted a boxcar wider than the detector")
	}
	if _, err := NewChannel(d, sensor.Uplooking, sensor.PositionUpside, 0, 1, 0); err == nil {
		t.Error("NewChannel() accepted a zero integration time")
	}
}
