package main

import (
	"context"

	"github.com/golang/glog"
	"periph.io/x/conn/v3/physic"

	"github.com/hb9tf/phenocart/acquisition"
	"github.com/hb9tf/phenocart/reflectance"
	"github.com/hb9tf/phenocart/sdi12"
	"github.com/hb9tf/phenocart/sdi12/sdi12test"
	"github.com/hb9tf/phenocart/sensor"
	"github.com/hb9tf/phenocart/spectrometer"
	"github.com/hb9tf/phenocart/spectrometer/spectrometertest"
	"github.com/hb9tf/phenocart/thermal"
	"github.com/hb9tf/phenocart/thermal/thermaltest"
)

// Simulated detector: 512 pixels from 340 nm in 1.5 nm steps.
const (
	fakePixels      = 512
	fakeStartNM     = 340
	fakeStepNM      = 1.5
	fakeCountsPerMS = 100
)

// indexPairs returns one source per downlooking sensor, all sharing the
// uplooking sensor at upAddr.
func indexPairs(bus *sdi12.Bus, kind sdi12.Kind, upAddr string, downs []unit) []acquisition.Source {
	up := sdi12.NewReference(sdi12.NewDualband(bus, upAddr, sensor.PositionCenter, sensor.Uplooking))
	sources := make([]acquisition.Source, 0, len(downs))
	for _, d := range downs {
		sources = append(sources, &sdi12.IndexPair{
			Kind: kind,
			Down: sdi12.NewDualband(bus, d.ID, d.Position, sensor.Downlooking),
			Up:   up,
		})
	}
	return sources
}

// indexSources lists the NDVI pairs before the PRI pairs. All of them share
// one bus and must be read by a single loop.
func indexSources(bus *sdi12.Bus, ndviUp string, ndviDowns []unit, priUp string, priDowns []unit) []acquisition.Source {
	var sources []acquisition.Source
	if len(ndviDowns) > 0 {
		sources = append(sources, indexPairs(bus, sdi12.NDVI, ndviUp, ndviDowns)...)
	}
	if len(priDowns) > 0 {
		sources = append(sources, indexPairs(bus, sdi12.PRI, priUp, priDowns)...)
	}
	return sources
}

// fakeSDI12Port answers for all configured addresses with vegetation-like
// band values: low red and high near infrared reflectance for NDVI, a slight
// green slope for PRI.
func fakeSDI12Port(ndviUp string, ndviDowns []unit, priUp string, priDowns []unit) *sdi12test.Port {
	p := &sdi12test.Port{}
	p.Set(ndviUp, 0.5, 0.5)
	for _, d := range ndviDowns {
		p.Set(d.ID, 0.05, 0.3)
	}
	p.Set(priUp, 0.5, 0.5)
	for _, d := range priDowns {
		p.Set(d.ID, 0.2, 0.21)
	}
	return p
}

// fakeThermalReader puts 349 mV across every thermistor of the chain and
// 0.5 mV on every thermopile.
func fakeThermalReader(chs []thermal.Channel) *thermaltest.Reader {
	r := &thermaltest.Reader{}
	for i, ch := range chs {
		r.Set(ch.ThermistorAIN, false, physic.ElectricPotential(len(chs)-i)*349*physic.MilliVolt)
		r.Set(ch.ThermopileAIN, true, 500*physic.MicroVolt)
	}
	return r
}

// spectralRig is one uplooking spectrometer shared by the downlooking ones.
type spectralRig struct {
	up    *spectrometer.Channel
	downs []*spectrometer.Channel
	pairs []*reflectance.Pair
}

func (r *spectralRig) channels() []*spectrometer.Channel {
	return append([]*spectrometer.Channel{r.up}, r.downs...)
}

func newSpectralRig(devices map[string]spectrometer.Device, upSerial string, downs []unit, integrationMS, scans, boxcar int) (*spectralRig, error) {
	up, err := spectrometer.NewChannel(devices[upSerial], sensor.Uplooking, sensor.PositionCenter, integrationMS, scans, boxcar)
	if err != nil {
		return nil, err
	}
	rig := &spectralRig{up: up}
	for _, d := range downs {
		down, err := spectrometer.NewChannel(devices[d.ID], sensor.Downlooking, d.Position, integrationMS, scans, boxcar)
		if err != nil {
			return nil, err
		}
		rig.downs = append(rig.downs, down)
		rig.pairs = append(rig.pairs, reflectance.NewPair(up, down, d.Position))
	}
	return rig, nil
}

func fakeSpectrometers(upSerial string, downs []unit) ([]*spectrometertest.Device, map[string]spectrometer.Device) {
	serials := []string{upSerial}
	for _, d := range downs {
		serials = append(serials, d.ID)
	}
	fakes := make([]*spectrometertest.Device, 0, len(serials))
	devices := map[string]spectrometer.Device{}
	for _, s := range serials {
		d := spectrometertest.New(s, fakePixels, fakeStartNM, fakeStepNM, fakeCountsPerMS)
		fakes = append(fakes, d)
		devices[s] = d
	}
	return fakes, devices
}

// simulatedOperator answers the four calibration prompts of a pair by
// switching the light of the simulated spectrometers: lit for the sunlight
// and panel captures, dark for the covered ones.
type simulatedOperator struct {
	devices []*spectrometertest.Device
	// confirm, when set, is asked before the light changes.
	confirm reflectance.Prompter
	step    int
}

func (s *simulatedOperator) Prompt(ctx context.Context, msg string) error {
	if s.confirm != nil {
		if err := s.confirm.Prompt(ctx, msg); err != nil {
			return err
		}
	}
	light := 1.0
	if s.step%4 >= 2 {
		light = 0
	}
	s.step++
	glog.Infof("simulated operator: %s", msg)
	for _, d := range s.devices {
		d.SetLight(light)
	}
	return nil
}

// uncover restores full light after a calibration, complete or not.
func (s *simulatedOperator) uncover() {
	s.step = 0
	for _, d := range s.devices {
		d.SetLight(1)
	}
}
