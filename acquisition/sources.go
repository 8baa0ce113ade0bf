package acquisition

import (
	"context"
	"fmt"

	"github.com/hb9tf/phenocart/reflectance"
	"github.com/hb9tf/phenocart/sensor"
	"github.com/hb9tf/phenocart/spectrometer"
)

// Spectral reads one averaged spectrum per channel, in order. The shared
// uplooking channel usually comes first.
//
// Every pair in Pairs also yields a reflectance spectrum, in percent on the
// pair's band centres, computed from the captures of the same tick. Pairs
// must be calibrated before the loop starts and both of their spectrometers
// must be among Channels.
type Spectral struct {
	Channels []*spectrometer.Channel
	Pairs    []*reflectance.Pair
}

func (s *Spectral) Name() string {
	return "spectral"
}

func (s *Spectral) Read(ctx context.Context) ([]sensor.Measurement, error) {
	ms := make([]sensor.Measurement, 0, len(s.Channels)+len(s.Pairs))
	captures := make(map[string]sensor.Spectrum, len(s.Channels))
	for _, c := range s.Channels {
		sp, err := c.Spectrum(ctx)
		if err != nil {
			return nil, err
		}
		captures[c.Serial()] = sp
		ms = append(ms, sensor.Measurement{
			SensorID: c.Serial(),
			Position: c.Position,
			Kind:     sensor.KindSpectrum,
			Spectrum: &sp,
		})
	}

	for _, p := range s.Pairs {
		ref, err := p.Reference()
		if err != nil {
			return nil, fmt.Errorf("pair %s: %w", p.Position, err)
		}
		up, ok := captures[p.Up.Serial()]
		if !ok {
			return nil, fmt.Errorf("pair %s: uplooking spectrometer %s is not read", p.Position, p.Up.Serial())
		}
		down, ok := captures[p.Down.Serial()]
		if !ok {
			return nil, fmt.Errorf("pair %s: downlooking spectrometer %s is not read", p.Position, p.Down.Serial())
		}
		values, err := ref.Reflectance(up.Intensities, down.Intensities)
		if err != nil {
			return nil, fmt.Errorf("pair %s: %w", p.Position, err)
		}
		ms = append(ms, sensor.Measurement{
			SensorID: p.Down.Serial(),
			Position: p.Position,
			Kind:     sensor.KindReflectance,
			Spectrum: &sensor.Spectrum{
				Wavelengths:       ref.BandCenters,
				Intensities:       values,
				IntegrationTimeMS: down.IntegrationTimeMS,
				Orientation:       sensor.Downlooking,
			},
		})
	}
	return ms, nil
}
