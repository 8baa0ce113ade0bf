package export

import (
	"context"
	"errors"
	"sync"

	"github.com/hb9tf/phenocart/filter"
	"github.com/hb9tf/phenocart/sensor"
)

// Multi hands every record to all of its exporters, e.g. a local file and a
// live MQTT feed. A slow exporter holds back the others.
type Multi []Exporter

func (m Multi) Write(ctx context.Context, records <-chan sensor.Record) error {
	chans := make([]chan sensor.Record, len(m))
	errs := make([]error, len(m))
	var wg sync.WaitGroup
	for i, e := range m {
		chans[i] = make(chan sensor.Record, 100)
		wg.Add(1)
		go func(i int, e Exporter) {
			defer wg.Done()
			errs[i] = e.Write(ctx, chans[i])
			// Keep draining so the others are not blocked.
			for range chans[i] {
			}
		}(i, e)
	}
	for r := range records {
		for _, c := range chans {
			c <- r
		}
	}
	for _, c := range chans {
		close(c)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Filtered passes Exporter only the records none of Filters ignores, e.g. the
// reflectance spectra of a loop that also reads raw ones.
type Filtered struct {
	Exporter Exporter
	Filters  []filter.Filterer
}

func (f *Filtered) Write(ctx context.Context, records <-chan sensor.Record) error {
	kept := make(chan sensor.Record)
	go filter.Filter(records, kept, f.Filters)
	err := f.Exporter.Write(ctx, kept)
	for range kept {
	}
	return err
}
