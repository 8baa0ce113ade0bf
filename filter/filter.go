package filter

import (
	"github.com/hb9tf/phenocart/gps"
	"github.com/hb9tf/phenocart/sensor"
)

type Filterer interface {
	ShouldIgnore(*sensor.Record) bool
}

// Filter forwards records from input to output unless any filter ignores
// them. output is closed once input is drained.
func Filter(input <-chan sensor.Record, output chan<- sensor.Record, filters []Filterer) error {
	defer close(output)
	for r := range input {
		if ignore(&r, filters) {
			continue
		}
		output <- r
	}
	return nil
}

func ignore(r *sensor.Record, filters []Filterer) bool {
	for _, f := range filters {
		if f.ShouldIgnore(r) {
			return true
		}
	}
	return false
}

// FilterFixQuality drops records whose GPS solution is not in Accept.
type FilterFixQuality struct {
	Accept []gps.Quality
}

func (f *FilterFixQuality) ShouldIgnore(r *sensor.Record) bool {
	for _, q := range f.Accept {
		if r.Fix.Valid && r.Fix.Quality == q {
			return false
		}
	}
	return true
}

// FilterSensor drops records of sensors not listed in IDs.
type FilterSensor struct {
	IDs []string
}

func (f *FilterSensor) ShouldIgnore(r *sensor.Record) bool {
	for _, id := range f.IDs {
		if r.SensorID == id {
			return false
		}
	}
	return true
}

// FilterKind drops records whose Kind is not listed in Kinds.
type FilterKind struct {
	Kinds []sensor.Kind
}

func (f *FilterKind) ShouldIgnore(r *sensor.Record) bool {
	for _, k := range f.Kinds {
		if r.Kind == k {
			return false
		}
	}
	return true
}
