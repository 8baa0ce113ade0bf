package spectrometer

import (
	"context"
	"fmt"
	"math"

	"github.com/golang/glog"

	"github.com/hb9tf/phenocart/metrics"
)

// Detector reports the peak signal for a given exposure.
type Detector interface {
	MaxSignal(ctx context.Context, exposureMS int) (float64, error)
}

const (
	DefaultTarget        = 52000
	DefaultTolerance     = 0.005
	DefaultMaxIterations = 50
	MinExposureMS        = 6
	MaxExposureMS        = 10000
)

// Optimizer finds the exposure driving the peak signal to Target by
// bracketing and bisection. It assumes the signal does not decrease with
// exposure.
type Optimizer struct {
	// Target peak count, usually about 85% of the detector dynamic range.
	Target float64
	// Tolerance is the relative error at which the search stops.
	Tolerance     float64
	MaxIterations int
	MinExposureMS int
	MaxExposureMS int

	Metrics *metrics.Collector
}

func DefaultOptimizer() Optimizer {
	return Optimizer{
		Target:        DefaultTarget,
		Tolerance:     DefaultTolerance,
		MaxIterations: DefaultMaxIterations,
		MinExposureMS: MinExposureMS,
		MaxExposureMS: MaxExposureMS,
	}
}

type Result struct {
	ExposureMS    int
	Signal        float64
	RelativeError float64
	Iterations    int
	// Converged is set when the signal ended within tolerance of the target.
	Converged bool
	// Reachable is cleared when even the longest exposure stays below target.
	Reachable bool
}

func (o Optimizer) relErr(signal float64) float64 {
	return math.Abs((o.Target - signal) / o.Target)
}

// Optimize runs the search starting at seedMS. The returned exposure is not
// applied to the detector.
func (o Optimizer) Optimize(ctx context.Context, d Detector, seedMS int) (Result, error) {
	if o.Target <= 0 {
		return Result{}, fmt.Errorf("target must be positive, got %f", o.Target)
	}
	if o.MinExposureMS <= 0 || o.MaxExposureMS < o.MinExposureMS {
		return Result{}, fmt.Errorf("invalid exposure range [%d, %d] ms", o.MinExposureMS, o.MaxExposureMS)
	}
	seedMS = max(o.MinExposureMS, min(seedMS, o.MaxExposureMS))

	// Bracket.
	res := Result{Reachable: true}
	signal, err := d.MaxSignal(ctx, seedMS)
	if err != nil {
		return Result{}, err
	}
	a, b := float64(o.MinExposureMS), float64(seedMS)
	if signal <= o.Target {
		a, b = float64(seedMS), float64(2*seedMS)
		for {
			if b >= float64(o.MaxExposureMS) {
				b = float64(o.MaxExposureMS)
				if signal, err = d.MaxSignal(ctx, o.MaxExposureMS); err != nil {
					return Result{}, err
				}
				if signal < o.Target {
					glog.Warningf("target of %.0f counts not reachable within %d ms (%.0f counts)", o.Target, o.MaxExposureMS, signal)
					res.Reachable = false
				}
				break
			}
			if signal, err = d.MaxSignal(ctx, int(b)); err != nil {
				return Result{}, err
			}
			if signal >= o.Target {
				break
			}
			a, b = b, 2*b
		}
	}
	glog.V(1).Infof("bisecting integration time between %.0f and %.0f ms", a, b)

	// Bisect.
	best := math.Inf(1)
	for {
		res.Iterations++
		m := (a + b) / 2
		exposure := int(math.Trunc(m))
		signal, err := d.MaxSignal(ctx, exposure)
		if err != nil {
			return Result{}, err
		}
		e := o.relErr(signal)
		if e < best {
			best = e
			res.ExposureMS = exposure
			res.Signal = signal
			res.RelativeError = e
		}
		if e < o.Tolerance {
			res.Converged = true
			break
		}
		if signal > o.Target {
			b = m
		} else {
			a = m
		}
		if res.Iterations >= o.MaxIterations {
			glog.Warningf("integration time search stopped after %d iterations at %d ms (%.0f counts)", res.Iterations, res.ExposureMS, res.Signal)
			break
		}
	}
	o.Metrics.OptimizerRun(res.Iterations)
	return res, nil
}
