// Package reflectance turns a pair of uplooking and downlooking spectrometers
// into a calibrated reflectance sensor.
package reflectance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/hb9tf/phenocart/sensor"
	"github.com/hb9tf/phenocart/spectrometer"
)

var ErrUncalibrated = errors.New("reflectance pair is not calibrated")

type State int

const (
	Uncalibrated State = iota
	Collecting
	Calibrated
)

func (s State) String() string {
	switch s {
	case Uncalibrated:
		return "uncalibrated"
	case Collecting:
		return "collecting"
	case Calibrated:
		return "calibrated"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Spectrometer is the view of a spectral channel the pair needs.
type Spectrometer interface {
	Serial() string
	Wavelengths() []float64
	Spectrum(ctx context.Context) (sensor.Spectrum, error)
}

// Optimizable spectrometers can re-tune their integration time before the
// panel capture.
type Optimizable interface {
	Optimize(ctx context.Context, o spectrometer.Optimizer) (spectrometer.Result, error)
}

// Pair combines an uplooking (irradiance) and a downlooking (radiance) spectrometer.
type Pair struct {
	Up       Spectrometer
	Down     Spectrometer
	Position sensor.Position
	// Optimizer is used when the downlooking channel is re-tuned during calibration.
	Optimizer spectrometer.Optimizer

	mu          sync.Mutex
	state       State
	bandCenters []float64
	ref         *Reference
	panel       []float64
}

func NewPair(up, down Spectrometer, position sensor.Position) *Pair {
	return &Pair{
		Up:        up,
		Down:      down,
		Position:  position,
		Optimizer: spectrometer.DefaultOptimizer(),
	}
}

func (p *Pair) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// BandCenters is the shared wavelength axis of the pair. It defaults to the
// downlooking wavelengths.
func (p *Pair) BandCenters() []float64 {
	p.mu.Lock()
	bc := p.bandCenters
	p.mu.Unlock()
	if bc == nil {
		return p.Down.Wavelengths()
	}
	return bc
}

// SetBandCenters changes the shared axis. It takes effect with the next calibration.
func (p *Pair) SetBandCenters(bc []float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bandCenters = append([]float64(nil), bc...)
}

// Reference returns the current calibration.
func (p *Pair) Reference() (*Reference, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ref == nil {
		return nil, ErrUncalibrated
	}
	return p.ref, nil
}

// SetPanelReflectance records the certified reflectance curve of the white
// panel, resampled onto the band centres. It is kept for reporting and is not
// applied to the correction factors.
func (p *Pair) SetPanelReflectance(wavelengths, reflectance []float64) error {
	panel, err := Resample(p.BandCenters(), wavelengths, reflectance)
	if err != nil {
		return fmt.Errorf("unable to resample panel reflectance: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.panel = panel
	return nil
}

func (p *Pair) PanelReflectance() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.panel
}

type capture struct {
	prompt   string
	spec     Spectrometer
	optimize bool
	dst      *sensor.Spectrum
}

// Calibrate walks the operator through the four reference captures and
// derives new correction factors. The previous calibration stays in effect
// if any step fails.
func (p *Pair) Calibrate(ctx context.Context, prompter Prompter, optimizeDown bool) error {
	p.mu.Lock()
	if p.state == Collecting {
		p.mu.Unlock()
		return errors.New("calibration already in progress")
	}
	prev := p.state
	p.state = Collecting
	p.mu.Unlock()

	ref, err := p.collect(ctx, prompter, optimizeDown)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.state = prev
		return err
	}
	p.ref = ref
	p.state = Calibrated
	if bands := ref.InvalidBands(); len(bands) > 0 {
		glog.Warningf("reflectance pair %s: %d bands have no usable correction factor", p.Position, len(bands))
	}
	glog.Infof("reflectance pair %s: calibration complete", p.Position)
	return nil
}

func (p *Pair) collect(ctx context.Context, prompter Prompter, optimizeDown bool) (*Reference, error) {
	var upWhite, downWhite, upDark, downDark sensor.Spectrum
	steps := []capture{
		{"Place the uplooking spectrometer under direct sunlight and press enter", p.Up, false, &upWhite},
		{fmt.Sprintf("Place the %s downlooking spectrometer on the white reflectance standard and press enter", p.Position), p.Down, optimizeDown, &downWhite},
		{"Please cover the uplooking spectrometer and press enter", p.Up, false, &upDark},
		{fmt.Sprintf("Please cover the %s downlooking spectrometer and press enter", p.Position), p.Down, false, &downDark},
	}
	for _, s := range steps {
		if err := prompter.Prompt(ctx, s.prompt); err != nil {
			return nil, fmt.Errorf("calibration aborted: %w", err)
		}
		if s.optimize {
			o, ok := s.spec.(Optimizable)
			if !ok {
				return nil, fmt.Errorf("spectrometer %s can not be optimized", s.spec.Serial())
			}
			if _, err := o.Optimize(ctx, p.Optimizer); err != nil {
				return nil, fmt.Errorf("unable to optimize %s: %w", s.spec.Serial(), err)
			}
		}
		spec, err := s.spec.Spectrum(ctx)
		if err != nil {
			return nil, fmt.Errorf("unable to capture %s: %w", s.spec.Serial(), err)
		}
		*s.dst = spec
	}

	ref, err := NewReference(p.BandCenters(),
		upWhite.Wavelengths, upWhite.Intensities, upDark.Intensities,
		downWhite.Wavelengths, downWhite.Intensities, downDark.Intensities)
	if err != nil {
		return nil, err
	}
	ref.Time = time.Now()
	ref.UpIntegrationMS = upWhite.IntegrationTimeMS
	ref.DownIntegrationMS = downWhite.IntegrationTimeMS
	return ref, nil
}

// Reflectance captures both channels and returns percent reflectance on the
// band centres.
func (p *Pair) Reflectance(ctx context.Context) ([]float64, error) {
	ref, err := p.Reference()
	if err != nil {
		return nil, err
	}
	up, err := p.Up.Spectrum(ctx)
	if err != nil {
		return nil, err
	}
	down, err := p.Down.Spectrum(ctx)
	if err != nil {
		return nil, err
	}
	return ref.Reflectance(up.Intensities, down.Intensities)
}
