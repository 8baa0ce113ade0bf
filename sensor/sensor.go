package sensor

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/hb9tf/phenocart/gps"
)

// Position is where on the cart a sensor is mounted.
type Position string

const (
	PositionCenter Position = "CENTER"
	PositionLeft   Position = "LEFT"
	PositionRight  Position = "RIGHT"
	PositionUpside Position = "UPSIDE"
)

// Orientation is the viewing direction of an optical sensor.
type Orientation string

const (
	Uplooking   Orientation = "UPLOOKING"
	Downlooking Orientation = "DOWNLOOKING"
	Undefined   Orientation = "UNDEFINED"
)

func ParsePosition(s string) (Position, error) {
	switch p := Position(strings.ToUpper(s)); p {
	case PositionCenter, PositionLeft, PositionRight, PositionUpside:
		return p, nil
	}
	return "", fmt.Errorf("%q is not a valid position, pick one of: CENTER, LEFT, RIGHT, UPSIDE", s)
}

func ParseOrientation(s string) (Orientation, error) {
	switch o := Orientation(strings.ToUpper(s)); o {
	case Uplooking, Downlooking, Undefined:
		return o, nil
	}
	return "", fmt.Errorf("%q is not a valid orientation, pick one of: UPLOOKING, DOWNLOOKING, UNDEFINED", s)
}

// Kind tells which payload of a Measurement is set.
type Kind string

const (
	KindSpectrum    Kind = "spectrum"
	KindTemperature Kind = "temperature"
	KindIndex       Kind = "index"
	// KindReflectance carries a Spectrum of percent reflectance on the band
	// centres of a calibrated spectrometer pair.
	KindReflectance Kind = "reflectance"
)

// Spectrum is one averaged and smoothed spectral reading. Wavelengths and
// Intensities have the same length.
type Spectrum struct {
	Wavelengths       []float64   `json:"wavelengths,omitempty"`
	Intensities       Floats      `json:"intensities"`
	IntegrationTimeMS int         `json:"integration_time_ms"`
	Orientation       Orientation `json:"orientation"`
}

// Floats is a list of values that may contain NaN, e.g. reflectance in bands
// without a usable correction factor. In JSON, NaN and infinities are null and
// null decodes as NaN.
type Floats []float64

func (f Floats) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("null"), nil
	}
	b := make([]byte, 0, 2+10*len(f))
	b = append(b, '[')
	for i, v := range f {
		if i > 0 {
			b = append(b, ',')
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			b = append(b, "null"...)
			continue
		}
		b = strconv.AppendFloat(b, v, 'g', -1, 64)
	}
	return append(b, ']'), nil
}

func (f *Floats) UnmarshalJSON(data []byte) error {
	var vs []*float64
	if err := json.Unmarshal(data, &vs); err != nil {
		return err
	}
	if vs == nil {
		*f = nil
		return nil
	}
	out := make(Floats, len(vs))
	for i, v := range vs {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	*f = out
	return nil
}

// Temperature is one infrared radiometer reading.
type Temperature struct {
	BodyC   float64 `json:"sensorbody_temp_C"`
	TargetC float64 `json:"target_temp_C"`
}

// Index is one normalised difference vegetation index value.
type Index struct {
	Type  string  `json:"type"`
	Value float64 `json:"index_value"`
}

// Measurement is what a source returns for a single sensor and tick.
// Exactly one of the payloads is set, matching Kind.
type Measurement struct {
	SensorID    string       `json:"sensor_id"`
	Position    Position     `json:"sensor_position"`
	Kind        Kind         `json:"kind"`
	Spectrum    *Spectrum    `json:"spectrum,omitempty"`
	Temperature *Temperature `json:"temperature,omitempty"`
	Index       *Index       `json:"index,omitempty"`
}

// Record is a Measurement stamped with acquisition metadata.
type Record struct {
	// Metadata
	Identifier string    `json:"identifier"`
	Source     string    `json:"source"`
	Sequence   int64     `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
	Fix        gps.Fix   `json:"fix"`

	Measurement
}

// Transient is implemented by errors after which a source can simply be read again.
type Transient interface {
	Transient() bool
}

// IsTransient reports whether any error in err's chain is transient.
func IsTransient(err error) bool {
	var t Transient
	return errors.As(err, &t) && t.Transient()
}
