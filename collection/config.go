package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hb9tf/phenocart/export"
	"github.com/hb9tf/phenocart/gps"
	"github.com/hb9tf/phenocart/sensor"
	"github.com/hb9tf/phenocart/thermal"
)

// unit is one sensor named on the command line as id:POSITION.
type unit struct {
	ID       string
	Position sensor.Position
}

// parseUnits parses a comma separated list of id:POSITION pairs.
func parseUnits(s string) ([]unit, error) {
	var units []unit
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		id, pos, ok := strings.Cut(field, ":")
		if !ok || id == "" {
			return nil, fmt.Errorf("%q is not of the form id:POSITION", field)
		}
		p, err := sensor.ParsePosition(pos)
		if err != nil {
			return nil, err
		}
		units = append(units, unit{ID: id, Position: p})
	}
	return units, nil
}

// parseQualities parses a comma separated list of fix quality codes.
func parseQualities(s string) ([]gps.Quality, error) {
	var qs []gps.Quality
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		q, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("invalid fix quality %q: %w", field, err)
		}
		qs = append(qs, gps.Quality(q))
	}
	return qs, nil
}

// defaultThermalChannels is the radiometer wiring of the cart, top of the
// thermistor chain first.
func defaultThermalChannels() []thermal.Channel {
	return []thermal.Channel{
		{Unit: "1141", Position: sensor.PositionRight, ThermistorAIN: 13, ThermopileAIN: 10, ResolutionIndex: 12, GainIndex: 0},
		{Unit: "1142", Position: sensor.PositionCenter, ThermistorAIN: 9, ThermopileAIN: 6, ResolutionIndex: 12, GainIndex: 0},
		{Unit: "1140", Position: sensor.PositionLeft, ThermistorAIN: 5, ThermopileAIN: 2, ResolutionIndex: 8, GainIndex: 1},
	}
}

func loadThermalChannels(path string) ([]thermal.Channel, error) {
	if path == "" {
		return defaultThermalChannels(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var chs []thermal.Channel
	if err := json.NewDecoder(f).Decode(&chs); err != nil {
		return nil, fmt.Errorf("unable to decode thermal channels from %q: %w", path, err)
	}
	return chs, nil
}

func loadThermalTable(path string) (thermal.Table, error) {
	if path == "" {
		return thermal.DefaultTable(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return thermal.LoadTable(f)
}

// loadPanel reads the certified panel curve as
// {"wavelengths": [...], "reflectance": [...]}.
func loadPanel(path string) (*export.Panel, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var p struct {
		Wavelengths []float64 `json:"wavelengths"`
		Reflectance []float64 `json:"reflectance"`
	}
	if err := json.NewDecoder(f).Decode(&p); err != nil {
		return nil, fmt.Errorf("unable to decode panel reflectance from %q: %w", path, err)
	}
	if len(p.Wavelengths) != len(p.Reflectance) || len(p.Wavelengths) < 2 {
		return nil, fmt.Errorf("panel reflectance in %q needs at least two matching wavelength/reflectance values", path)
	}
	return &export.Panel{Wavelengths: p.Wavelengths, Reflectance: p.Reflectance}, nil
}
