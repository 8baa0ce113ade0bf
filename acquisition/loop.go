// Package acquisition runs the periodic sensor loops and feeds their records
// to an exporter.
package acquisition

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/hb9tf/phenocart/export"
	"github.com/hb9tf/phenocart/filter"
	"github.com/hb9tf/phenocart/gps"
	"github.com/hb9tf/phenocart/metrics"
	"github.com/hb9tf/phenocart/sensor"
)

// Source is a group of sensors read together once per tick.
type Source interface {
	Name() string
	Read(context.Context) ([]sensor.Measurement, error)
}

// Positioner provides the latest position fix, typically a *gps.Feed.
type Positioner interface {
	Fix() gps.Fix
}

type Loop struct {
	Name       string
	Identifier string
	Sources    []Source
	// Interval is the pause between the end of one tick and the start of the next.
	Interval time.Duration
	// Position is optional. Records get a placeholder fix when it is nil or
	// has no valid fix.
	Position Positioner
	Metrics  *metrics.Collector
	// Now defaults to time.Now.
	Now func() time.Time
}

func (l *Loop) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Loop) fix(t time.Time) gps.Fix {
	if l.Position == nil {
		return gps.Placeholder(t)
	}
	f := l.Position.Fix()
	if !f.Valid {
		return gps.Placeholder(t)
	}
	return f
}

// Run reads all sources once per tick and sends the stamped records to out
// until ctx is cancelled. The position fix is taken just before each source
// is read. Reads already in progress are not interrupted.
// Transient read errors skip the source for the tick, any other error ends
// the loop. out is closed when Run returns.
func (l *Loop) Run(ctx context.Context, out chan<- sensor.Record) error {
	defer close(out)

	glog.Infof("%s: starting with %d sources every %s", l.Name, len(l.Sources), l.Interval)
	sequences := map[string]int64{}
	for {
		if ctx.Err() != nil {
			glog.Infof("%s: stopped", l.Name)
			return nil
		}

		for _, src := range l.Sources {
			// Reads can take seconds, so each source gets the position at its own read.
			fix := l.fix(l.now())
			measurements, err := src.Read(context.WithoutCancel(ctx))
			if err != nil {
				transient := sensor.IsTransient(err)
				l.Metrics.ReadError(l.Name, src.Name(), transient)
				if transient {
					glog.Warningf("%s: skipping %s this tick: %s", l.Name, src.Name(), err)
					continue
				}
				return fmt.Errorf("%s: reading %s failed: %w", l.Name, src.Name(), err)
			}
			ts := l.now()
			for _, m := range measurements {
				key := src.Name() + "/" + string(m.Kind) + "/" + m.SensorID
				r := sensor.Record{
					Identifier:  l.Identifier,
					Source:      src.Name(),
					Sequence:    sequences[key],
					Timestamp:   ts,
					Fix:         fix,
					Measurement: m,
				}
				sequences[key]++
				out <- r
				l.Metrics.RecordEmitted(l.Name, m.SensorID)
				glog.V(2).Infof("%s: %s %s #%d", l.Name, m.Kind, m.SensorID, r.Sequence)
			}
		}

		t := time.NewTimer(l.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
	}
}

// Run connects loop, filters and exporter and blocks until the loop has ended
// and the exporter has drained every record. It returns the loop's error
// first, then the exporter's.
func Run(ctx context.Context, loop *Loop, exporter export.Exporter, filters ...filter.Filterer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	records := make(chan sensor.Record)
	filtered := make(chan sensor.Record)
	loopErr := make(chan error, 1)
	go func() {
		loopErr <- loop.Run(ctx, records)
	}()
	go filter.Filter(records, filtered, filters)

	exportErr := exporter.Write(ctx, filtered)
	// An exporter that gave up early must not block the loop.
	cancel()
	for range filtered {
	}

	if err := <-loopErr; err != nil {
		return err
	}
	if exportErr != nil {
		return fmt.Errorf("%s: export failed: %w", loop.Name, exportErr)
	}
	return nil
}
