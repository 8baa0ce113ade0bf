// Package spectrometertest provides a simulated spectrometer.
package spectrometertest

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Device is a fake spectrometer whose counts grow linearly with exposure:
//
//	counts[i] = Dark + Light * Response[i] * exposure_ms
//
// clipped at Saturation.
type Device struct {
	SerialNumber string
	Axis         []float64
	// Response is the count rate per millisecond of each pixel in full light.
	Response   []float64
	Dark       float64
	Saturation float64
	// SettleReads is the number of reads after an exposure change returning
	// only half the signal.
	SettleReads int

	mu        sync.Mutex
	light     float64
	exposure  time.Duration
	sinceSet  int
	reads     int
	exposures []time.Duration
	failNext  error
}

// New returns a device with n pixels spanning start..start+(n-1)*step nm and
// a flat response of rate counts/ms.
func New(serial string, n int, start, step, rate float64) *Device {
	d := &Device{
		SerialNumber: serial,
		Axis:         make([]float64, n),
		Response:     make([]float64, n),
		Dark:         1000,
		Saturation:   65535,
		light:        1,
		exposure:     100 * time.Millisecond,
	}
	for i := 0; i < n; i++ {
		d.Axis[i] = start + float64(i)*step
		d.Response[i] = rate
	}
	return d
}

func (d *Device) Serial() string { return d.SerialNumber }

func (d *Device) Wavelengths() []float64 {
	out := make([]float64, len(d.Axis))
	copy(out, d.Axis)
	return out
}

// SetLight scales the incoming light, 0 covers the optics.
func (d *Device) SetLight(l float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.light = l
}

// FailNext makes the next Intensities call return err.
func (d *Device) FailNext(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = err
}

func (d *Device) SetIntegrationTime(t time.Duration) error {
	if t <= 0 {
		return fmt.Errorf("invalid integration time %s", t)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.exposure = t
	d.sinceSet = 0
	d.exposures = append(d.exposures, t)
	return nil
}

func (d *Device) Intensities(bool) ([]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failNext; err != nil {
		d.failNext = nil
		return nil, err
	}
	d.reads++
	scale := 1.0
	if d.sinceSet < d.SettleReads {
		scale = 0.5
	}
	d.sinceSet++
	ms := float64(d.exposure) / float64(time.Millisecond)
	out := make([]float64, len(d.Response))
	for i, r := range d.Response {
		out[i] = math.Min(d.Dark+scale*d.light*r*ms, d.Saturation)
	}
	return out, nil
}

// Reads is the number of scans taken so far.
func (d *Device) Reads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

// Exposures lists every integration time programmed so far.
func (d *Device) Exposures() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Duration(nil), d.exposures...)
}

func (d *Device) IntegrationTime() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exposure
}
