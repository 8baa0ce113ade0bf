package filter

import (
	"testing"

	"github.com/hb9tf/phenocart/gps"
	"github.com/hb9tf/phenocart/sensor"
)

func record(id string, q gps.Quality, valid bool) sensor.Record {
	return sensor.Record{
		Fix:         gps.Fix{Quality: q, Valid: valid},
		Measurement: sensor.Measurement{SensorID: id},
	}
}

func TestFilter(t *testing.T) {
	in := make(chan sensor.Record, 5)
	in <- record("1137", gps.QualityFix, true)
	in <- record("1137", gps.QualityFloat, true)
	in <- record("1138", gps.QualityFix, true)
	in <- record("1137", gps.QualityNone, false)
	in <- record("1137", gps.QualityDGPS, true)
	close(in)

	out := make(chan sensor.Record, 5)
	filters := []Filterer{
		&FilterFixQuality{Accept: []gps.Quality{gps.QualityFix, gps.QualityDGPS}},
		&FilterSensor{IDs: []string{"1137"}},
	}
	if err := Filter(in, out, filters); err != nil {
		t.Fatalf("Filter() failed: %s", err)
	}

	var got []gps.Quality
	for r := range out {
		if r.SensorID != "1137" {
			t.Errorf("record of sensor %s passed", r.SensorID)
		}
		got = append(got, r.Fix.Quality)
	}
	if len(got) != 2 || got[0] != gps.QualityFix || got[1] != gps.QualityDGPS {
		t.Errorf("passed qualities = %v, want [1 4]", got)
	}
}

func TestFilterKind(t *testing.T) {
	f := &FilterKind{Kinds: []sensor.Kind{sensor.KindReflectance}}
	for kind, want := range map[sensor.Kind]bool{
		sensor.KindReflectance: false,
		sensor.KindSpectrum:    true,
		sensor.KindIndex:       true,
	} {
		r := sensor.Record{Measurement: sensor.Measurement{Kind: kind}}
		if got := f.ShouldIgnore(&r); got != want {
			t.Errorf("ShouldIgnore(%s) = %t, want %t", kind, got, want)
		}
	}
}
