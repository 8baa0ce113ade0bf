package sdi12

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/hb9tf/phenocart/sensor"
)

// DefaultStaleness is how long an uplooking reading is reused.
const DefaultStaleness = 20 * time.Second

// Kind selects the bands and the index formula of a pair.
type Kind string

const (
	// NDVI pairs measure 650 nm (lower) and 810 nm (upper).
	NDVI Kind = "NDVI"
	// PRI pairs measure 532 nm (lower) and 570 nm (upper).
	PRI Kind = "PRI"
)

// Index computes the index from the band reflectance ratios.
func (k Kind) Index(lower, upper float64) float64 {
	if k == PRI {
		return NormalizedDifference(lower, upper)
	}
	return NormalizedDifference(upper, lower)
}

// NormalizedDifference returns (a-b)/(a+b), or 0 when a+b is 0.
func NormalizedDifference(a, b float64) float64 {
	if a+b == 0 {
		return 0
	}
	return (a - b) / (a + b)
}

// Ratios returns the per band down/up reflectance ratios. A zero uplooking
// band makes both ratios 0.
func Ratios(down, up Reading) (lower, upper float64) {
	if up.Lower == 0 || up.Upper == 0 {
		return 0, 0
	}
	return down.Lower / up.Lower, down.Upper / up.Upper
}

// Reference caches the reading of an uplooking sensor shared by several pairs.
type Reference struct {
	Sensor    Sensor
	Staleness time.Duration
	Now       func() time.Time

	mu      sync.Mutex
	reading Reading
	updated time.Time
	valid   bool
}

func NewReference(s Sensor) *Reference {
	return &Reference{
		Sensor:    s,
		Staleness: DefaultStaleness,
		Now:       time.Now,
	}
}

// Reading returns the cached reading, polling the sensor first if it was
// never read or the last successful read is older than Staleness.
func (r *Reference) Reading(ctx context.Context) (Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.Now()
	if r.valid && now.Sub(r.updated) <= r.Staleness {
		return r.reading, nil
	}
	glog.V(2).Infof("sdi12: refreshing uplooking sensor %s", r.Sensor.ID())
	if err := r.Sensor.TriggerMeasurement(ctx); err != nil {
		return Reading{}, err
	}
	reading, err := r.Sensor.ParseResponse(ctx)
	if err != nil {
		return Reading{}, fmt.Errorf("uplooking values can not be updated: %w", err)
	}
	r.reading = reading
	r.updated = now
	r.valid = true
	return reading, nil
}

// Result is one index update.
type Result struct {
	Down  Reading
	Up    Reading
	Lower float64
	Upper float64
	Value float64
}

// IndexPair computes a vegetation index from a downlooking sensor and a
// shared uplooking reference.
type IndexPair struct {
	Kind Kind
	Down Sensor
	Up   *Reference
}

func (p *IndexPair) Update(ctx context.Context) (Result, error) {
	if err := p.Down.TriggerMeasurement(ctx); err != nil {
		return Result{}, err
	}
	down, err := p.Down.ParseResponse(ctx)
	if err != nil {
		return Result{}, err
	}
	up, err := p.Up.Reading(ctx)
	if err != nil {
		return Result{}, err
	}
	lower, upper := Ratios(down, up)
	if lower == 0 && upper == 0 {
		glog.V(1).Infof("sdi12: invalid reflectance for %s %s", p.Kind, p.Down.ID())
	}
	return Result{
		Down:  down,
		Up:    up,
		Lower: lower,
		Upper: upper,
		Value: p.Kind.Index(lower, upper),
	}, nil
}

func (p *IndexPair) Name() string {
	return fmt.Sprintf("%s-%s", p.Kind, p.Down.ID())
}

// Read implements the acquisition source contract.
func (p *IndexPair) Read(ctx context.Context) ([]sensor.Measurement, error) {
	res, err := p.Update(ctx)
	if err != nil {
		return nil, err
	}
	return []sensor.Measurement{{
		SensorID: p.Down.ID(),
		Position: p.Down.Position(),
		Kind:     sensor.KindIndex,
		Index: &sensor.Index{
			Type:  string(p.Kind),
			Value: res.Value,
		},
	}}, nil
}
