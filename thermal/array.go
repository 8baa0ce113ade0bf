package thermal

import (
	"context"
	"errors"
	"fmt"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/physic"

	"github.com/hb9tf/phenocart/sensor"
)

// Thermopile reads are differential at a fixed resolution and gain.
const (
	thermopileResolution = 6
	thermopileGain       = 3
)

// Reader reads analog inputs of the data acquisition device.
type Reader interface {
	ReadAIN(ctx context.Context, channel, resolution, gain int, differential bool) (physic.ElectricPotential, error)
}

// Channel wires one radiometer to the acquisition device.
type Channel struct {
	Unit            string
	Position        sensor.Position
	ThermistorAIN   int
	ThermopileAIN   int
	ResolutionIndex int
	GainIndex       int
}

type Reading struct {
	Channel
	Body   physic.Temperature
	Target physic.Temperature
}

// Array is a set of radiometers whose thermistors form one series chain.
// Channels are ordered from the top of the chain.
type Array struct {
	Reader     Reader
	Channels   []Channel
	Excitation Excitation

	coeffs []Coefficients
}

func NewArray(r Reader, channels []Channel, table Table) (*Array, error) {
	if len(channels) == 0 {
		return nil, errors.New("thermal array needs at least one channel")
	}
	a := &Array{
		Reader:   r,
		Channels: channels,
		coeffs:   make([]Coefficients, len(channels)),
	}
	for i, ch := range channels {
		cc, ok := table[ch.Unit]
		if !ok {
			return nil, &LookupError{Unit: ch.Unit}
		}
		a.coeffs[i] = cc
	}
	return a, nil
}

func (a *Array) Name() string {
	return "thermal"
}

func toMV(v physic.ElectricPotential) float64 {
	return float64(v) / float64(physic.MilliVolt)
}

func celsius(c float64) physic.Temperature {
	return physic.ZeroCelsius + physic.Temperature(c*float64(physic.Kelvin))
}

// Temperatures reads all taps and thermopiles and converts them.
func (a *Array) Temperatures(ctx context.Context) ([]Reading, error) {
	taps := make([]float64, len(a.Channels))
	for i, ch := range a.Channels {
		v, err := a.Reader.ReadAIN(ctx, ch.ThermistorAIN, ch.ResolutionIndex, ch.GainIndex, false)
		if err != nil {
			return nil, fmt.Errorf("unable to read thermistor of %s on AIN%d: %w", ch.Unit, ch.ThermistorAIN, err)
		}
		taps[i] = toMV(v)
	}
	piles := make([]float64, len(a.Channels))
	for i, ch := range a.Channels {
		v, err := a.Reader.ReadAIN(ctx, ch.ThermopileAIN, thermopileResolution, thermopileGain, true)
		if err != nil {
			return nil, fmt.Errorf("unable to read thermopile of %s on AIN%d: %w", ch.Unit, ch.ThermopileAIN, err)
		}
		piles[i] = toMV(v)
	}

	out := make([]Reading, len(a.Channels))
	for i, ch := range a.Channels {
		thermistor := taps[i]
		if i+1 < len(taps) {
			thermistor -= taps[i+1]
		}
		body, target, err := Convert(a.coeffs[i], thermistor, piles[i], a.Excitation)
		if err != nil {
			return nil, fmt.Errorf("unit %s: %w", ch.Unit, err)
		}
		out[i] = Reading{
			Channel: ch,
			Body:    celsius(body),
			Target:  celsius(target),
		}
	}
	return out, nil
}

// Read implements the acquisition source contract.
func (a *Array) Read(ctx context.Context) ([]sensor.Measurement, error) {
	readings, err := a.Temperatures(ctx)
	if err != nil {
		return nil, err
	}
	ms := make([]sensor.Measurement, len(readings))
	for i, r := range readings {
		ms[i] = sensor.Measurement{
			SensorID: r.Unit,
			Position: r.Position,
			Kind:     sensor.KindTemperature,
			Temperature: &sensor.Temperature{
				BodyC:   r.Body.Celsius(),
				TargetC: r.Target.Celsius(),
			},
		}
	}
	return ms, nil
}

// PinReader reads analog inputs through periph ADC pins. Resolution and gain
// are configured on the ADC driver and not per read.
type PinReader struct {
	SingleEnded  map[int]analog.PinADC
	Differential map[int]analog.PinADC
}

func (p *PinReader) ReadAIN(_ context.Context, channel, _, _ int, differential bool) (physic.ElectricPotential, error) {
	pins := p.SingleEnded
	if differential {
		pins = p.Differential
	}
	pin, ok := pins[channel]
	if !ok {
		return 0, fmt.Errorf("no ADC pin for AIN%d (differential: %t)", channel, differential)
	}
	s, err := pin.Read()
	if err != nil {
		return 0, err
	}
	return s.V, nil
}
