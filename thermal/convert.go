// Package thermal converts infrared radiometer voltages into sensor body and
// target temperatures.
package thermal

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
)

// Steinhart-Hart constants of the radiometer thermistor.
const (
	shA = 1.129241e-3
	shB = 2.341077e-4
	shC = 8.775468e-8

	// fixResistor is the series resistor of the thermistor circuit in Ω.
	fixResistor = 24900
	// excitationMA is the current source driving the thermistor in mA.
	excitationMA = 0.010
	// dividerMV is the supply of the voltage divider variant in mV.
	dividerMV = 2500

	zeroCelsius = 273.15
)

// Excitation is how the thermistor is driven.
type Excitation int

const (
	CurrentSource Excitation = iota
	VoltageDivider
)

// Coefficients are the per unit calibration coefficients
// mc2, mc1, mc0, bc2, bc1, bc0 of m(T) and b(T).
type Coefficients [6]float64

func (c Coefficients) M(bodyC float64) float64 {
	return c[0]*bodyC*bodyC + c[1]*bodyC + c[2]
}

func (c Coefficients) B(bodyC float64) float64 {
	return c[3]*bodyC*bodyC + c[4]*bodyC + c[5]
}

// Table maps unit serials to their coefficients.
type Table map[string]Coefficients

// DefaultTable returns the coefficients of the known units.
func DefaultTable() Table {
	return Table{
		"1137": {99751.8, 8975590, 1758570000, 5101.13, 177434, -9899180},
		"1138": {99635.4, 9224420, 1777020000, 3108.49, 134684, -2025390},
		"1139": {106007, 9349540, 1810330000, 4577.95, 196889, 1718420},
		"1140": {89738.8, 8845740, 1678800000, 4171.33, 146896, -4733060},
		"1141": {93426.8, 8872840, 1731910000, 4695.67, 274791, 1591430},
		"1142": {95912.5, 9357680, 1815870000, 3248.41, 220819, 3119340},
	}
}

// LoadTable reads a JSON object of unit serials to six element coefficient arrays.
func LoadTable(r io.Reader) (Table, error) {
	t := Table{}
	if err := json.NewDecoder(r).Decode(&t); err != nil {
		return nil, fmt.Errorf("unable to decode coefficient table: %w", err)
	}
	return t, nil
}

// LookupError is returned for units without calibration coefficients.
type LookupError struct {
	Unit string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("no calibration coefficients for unit %q", e.Unit)
}

// ConversionError is returned when voltages do not map to a physical temperature.
type ConversionError struct {
	ThermistorMV float64
	ThermopileMV float64
	Reason       string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("unable to convert thermistor %f mV / thermopile %f mV: %s", e.ThermistorMV, e.ThermopileMV, e.Reason)
}

// Resistance returns the thermistor resistance in Ω for a thermistor voltage in mV.
func Resistance(thermistorMV float64, ex Excitation) float64 {
	if ex == VoltageDivider {
		return fixResistor * (dividerMV/thermistorMV - 1)
	}
	return thermistorMV/excitationMA - fixResistor
}

// Convert returns the body and target temperatures in °C.
func Convert(cc Coefficients, thermistorMV, thermopileMV float64, ex Excitation) (bodyC, targetC float64, err error) {
	fail := func(reason string) (float64, float64, error) {
		return 0, 0, &ConversionError{ThermistorMV: thermistorMV, ThermopileMV: thermopileMV, Reason: reason}
	}
	if ex == VoltageDivider && thermistorMV == 0 {
		return fail("no divider voltage")
	}
	rt := Resistance(thermistorMV, ex)
	if rt <= 0 || math.IsInf(rt, 0) || math.IsNaN(rt) {
		return fail(fmt.Sprintf("thermistor resistance %f Ω", rt))
	}
	lnR := math.Log(rt)
	bodyC = 1/(shA+shB*lnR+shC*lnR*lnR*lnR) - zeroCelsius

	bodyK := bodyC + zeroCelsius
	radicand := bodyK*bodyK*bodyK*bodyK + cc.M(bodyC)*thermopileMV + cc.B(bodyC)
	if radicand < 0 {
		return fail(fmt.Sprintf("negative radiance term %f", radicand))
	}
	// The target leaves Kelvin with the same 273.15 as the body. The 273.5
	// offset of older conversions read 0.35 K low and is intentionally not used.
	return bodyC, math.Pow(radicand, 0.25) - zeroCelsius, nil
}
