// Package metrics exposes the acquisition counters to prometheus.
//
// All methods are safe to call on a nil *Collector, which records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "phenocart"

type Collector struct {
	Records             *prometheus.CounterVec
	ReadErrors          *prometheus.CounterVec
	GPSLines            *prometheus.CounterVec
	FixQualityCode      prometheus.Gauge
	Exported            *prometheus.CounterVec
	OptimizerIterations prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		Records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records emitted by acquisition loops.",
		}, []string{"loop", "sensor"}),
		ReadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_errors_total",
			Help:      "Failed source reads, by severity.",
		}, []string{"loop", "source", "severity"}),
		GPSLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gps_lines_total",
			Help:      "Lines received from the GPS receiver.",
		}, []string{"result"}),
		FixQualityCode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gps_fix_quality",
			Help:      "Quality code of the latest GPS fix.",
		}),
		Exported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exported_records_total",
			Help:      "Records handed to exporters.",
		}, []string{"exporter", "result"}),
		OptimizerIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "optimizer_iterations",
			Help:      "Bisection iterations per integration time optimisation.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50},
		}),
	}
	for _, col := range []prometheus.Collector{c.Records, c.ReadErrors, c.GPSLines, c.FixQualityCode, c.Exported, c.OptimizerIterations} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) RecordEmitted(loop, sensor string) {
	if c == nil {
		return
	}
	c.Records.WithLabelValues(loop, sensor).Inc()
}

func (c *Collector) ReadError(loop, source string, transient bool) {
	if c == nil {
		return
	}
	severity := "fatal"
	if transient {
		severity = "transient"
	}
	c.ReadErrors.WithLabelValues(loop, source, severity).Inc()
}

func (c *Collector) GPSLine(parsed bool) {
	if c == nil {
		return
	}
	result := "ignored"
	if parsed {
		result = "parsed"
	}
	c.GPSLines.WithLabelValues(result).Inc()
}

func (c *Collector) FixQuality(q int) {
	if c == nil {
		return
	}
	c.FixQualityCode.Set(float64(q))
}

func (c *Collector) Export(exporter string, ok bool) {
	if c == nil {
		return
	}
	result := "error"
	if ok {
		result = "success"
	}
	c.Exported.WithLabelValues(exporter, result).Inc()
}

func (c *Collector) OptimizerRun(iterations int) {
	if c == nil {
		return
	}
	c.OptimizerIterations.Observe(float64(iterations))
}
