package spectrometer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"gonum.org/v1/gonum/floats"

	"github.com/hb9tf/phenocart/sensor"
)

// Device is a single spectrometer as exposed by its driver.
type Device interface {
	Serial() string
	// Wavelengths returns the wavelength axis of the detector in nm.
	Wavelengths() []float64
	// Intensities triggers one scan at the current integration time.
	Intensities(correctNonlinearity bool) ([]float64, error)
	SetIntegrationTime(time.Duration) error
}

// signalReads is the number of reads taken per exposure when probing the peak
// signal. Only the last one is used, the others let the photodiodes settle.
const signalReads = 3

// Channel wraps a Device with exposure control, scan averaging and boxcar smoothing.
type Channel struct {
	Device      Device
	Orientation sensor.Orientation
	Position    sensor.Position
	// Scans is the number of scans averaged per spectrum.
	Scans int
	// Boxcar is the width of the moving average applied to spectra and
	// wavelengths. Widths below 2 disable smoothing.
	Boxcar int

	mu            sync.Mutex
	integrationMS int
	optimized     bool
}

func NewChannel(d Device, orientation sensor.Orientation, position sensor.Position, integrationMS, scans, boxcar int) (*Channel, error) {
	if scans < 1 {
		return nil, fmt.Errorf("scans to average must be at least 1, got %d", scans)
	}
	if boxcar > len(d.Wavelengths()) {
		return nil, fmt.Errorf("boxcar width %d exceeds %d detector pixels", boxcar, len(d.Wavelengths()))
	}
	c := &Channel{
		Device:      d,
		Orientation: orientation,
		Position:    position,
		Scans:       scans,
		Boxcar:      boxcar,
	}
	if err := c.SetIntegrationTime(integrationMS); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Channel) Serial() string {
	return c.Device.Serial()
}

// IntegrationTimeMS is the exposure used for spectra.
func (c *Channel) IntegrationTimeMS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.integrationMS
}

// SetIntegrationTime programs the device and records ms as the exposure used for spectra.
func (c *Channel) SetIntegrationTime(ms int) error {
	if ms <= 0 {
		return fmt.Errorf("integration time must be positive, got %d ms", ms)
	}
	if err := c.Device.SetIntegrationTime(time.Duration(ms) * time.Millisecond); err != nil {
		return fmt.Errorf("unable to set integration time of %s to %d ms: %w", c.Serial(), ms, err)
	}
	c.mu.Lock()
	c.integrationMS = ms
	c.mu.Unlock()
	return nil
}

// Optimized reports whether the integration time was set by Optimize.
func (c *Channel) Optimized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.optimized
}

// Wavelengths returns the detector axis smoothed like the spectra.
func (c *Channel) Wavelengths() []float64 {
	return boxcar(c.Device.Wavelengths(), c.Boxcar)
}

// Spectrum averages Scans scans and applies the boxcar.
func (c *Channel) Spectrum(ctx context.Context) (sensor.Spectrum, error) {
	if !c.Optimized() {
		glog.V(2).Infof("spectrometer %s: reading spectrum with unoptimized integration time", c.Serial())
	}
	var sum []float64
	for i := 0; i < c.Scans; i++ {
		if err := ctx.Err(); err != nil {
			return sensor.Spectrum{}, err
		}
		scan, err := c.Device.Intensities(true)
		if err != nil {
			return sensor.Spectrum{}, fmt.Errorf("scan %d of %s failed: %w", i, c.Serial(), err)
		}
		if sum == nil {
			sum = make([]float64, len(scan))
		}
		if len(scan) != len(sum) {
			return sensor.Spectrum{}, fmt.Errorf("scan %d of %s has %d pixels, want %d", i, c.Serial(), len(scan), len(sum))
		}
		floats.Add(sum, scan)
	}
	floats.Scale(1/float64(c.Scans), sum)
	return sensor.Spectrum{
		Wavelengths:       c.Wavelengths(),
		Intensities:       boxcar(sum, c.Boxcar),
		IntegrationTimeMS: c.IntegrationTimeMS(),
		Orientation:       c.Orientation,
	}, nil
}

// MaxSignal programs the device to exposureMS and returns the peak count of
// the last of three consecutive raw scans.
func (c *Channel) MaxSignal(ctx context.Context, exposureMS int) (float64, error) {
	if err := c.Device.SetIntegrationTime(time.Duration(exposureMS) * time.Millisecond); err != nil {
		return 0, fmt.Errorf("unable to set integration time of %s to %d ms: %w", c.Serial(), exposureMS, err)
	}
	var peak float64
	for i := 0; i < signalReads; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		scan, err := c.Device.Intensities(false)
		if err != nil {
			return 0, err
		}
		if len(scan) == 0 {
			return 0, errors.New("empty scan")
		}
		peak = floats.Max(scan)
	}
	glog.V(2).Infof("spectrometer %s: %d ms gets %.0f counts", c.Serial(), exposureMS, peak)
	return peak, nil
}

// Optimize searches the integration time starting at the current one and
// applies the result.
func (c *Channel) Optimize(ctx context.Context, o Optimizer) (Result, error) {
	res, err := o.Optimize(ctx, c, c.IntegrationTimeMS())
	if err != nil {
		return res, err
	}
	if err := c.SetIntegrationTime(res.ExposureMS); err != nil {
		return res, err
	}
	c.mu.Lock()
	c.optimized = true
	c.mu.Unlock()
	glog.Infof("spectrometer %s: integration time set to %d ms (%.0f counts, converged: %t)", c.Serial(), res.ExposureMS, res.Signal, res.Converged)
	return res, nil
}

// boxcar returns the moving average of width w over x, keeping only
// positions where the window fits entirely.
func boxcar(x []float64, w int) []float64 {
	if w < 2 {
		out := make([]float64, len(x))
		copy(out, x)
		return out
	}
	if w > len(x) {
		return nil
	}
	out := make([]float64, len(x)-w+1)
	for i := range out {
		out[i] = floats.Sum(x[i:i+w]) / float64(w)
	}
	return out
}
