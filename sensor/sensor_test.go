package sensor

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
)

type flaky struct{}

func (flaky) Error() string   { return "flaky" }
func (flaky) Transient() bool { return true }

func TestIsTransient(t *testing.T) {
	if !IsTransient(fmt.Errorf("read: %w", flaky{})) {
		t.Error("wrapped transient error not detected")
	}
	if IsTransient(errors.New("boom")) {
		t.Error("plain error reported as transient")
	}
	if IsTransient(nil) {
		t.Error("nil reported as transient")
	}
}

func TestParsePosition(t *testing.T) {
	if p, err := ParsePosition("left"); err != nil || p != PositionLeft {
		t.Errorf("ParsePosition(left) = %q, %v", p, err)
	}
	if _, err := ParsePosition("top"); err == nil {
		t.Error("ParsePosition(top) succeeded")
	}
	if o, err := ParseOrientation("Downlooking"); err != nil || o != Downlooking {
		t.Errorf("ParseOrientation(Downlooking) = %q, %v", o, err)
	}
}

func TestFloatsJSON(t *testing.T) {
	sp := Spectrum{
		Wavelengths: []float64{500, 600, 700},
		Intensities: Floats{42.5, math.NaN(), math.Inf(1)},
		Orientation: Downlooking,
	}
	b, err := json.Marshal(sp)
	if err != nil {
		t.Fatalf("Marshal() failed: %s", err)
	}
	var got Spectrum
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal(%s) failed: %s", b, err)
	}
	if len(got.Intensities) != 3 || got.Intensities[0] != 42.5 {
		t.Fatalf("intensities = %v", got.Intensities)
	}
	for _, i := range []int{1, 2} {
		if !math.IsNaN(got.Intensities[i]) {
			t.Errorf("band %d = %f, want NaN", i, got.Intensities[i])
		}
	}

	var empty Spectrum
	if err := json.Unmarshal([]byte(`{"intensities": null}`), &empty); err != nil {
		t.Fatal(err)
	}
	if empty.Intensities != nil {
		t.Errorf("null intensities = %v, want nil", empty.Intensities)
	}
	if _, err := json.Marshal(Spectrum{}); err != nil {
		t.Errorf("Marshal() of an empty spectrum failed: %s", err)
	}
}
