// Package thermaltest provides a simulated data acquisition device.
package thermaltest

import (
	"context"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/physic"
)

// Read records one ReadAIN call.
type Read struct {
	Channel      int
	Resolution   int
	Gain         int
	Differential bool
}

// Reader returns fixed voltages per analog input.
type Reader struct {
	SingleEnded  map[int]physic.ElectricPotential
	Differential map[int]physic.ElectricPotential

	mu    sync.Mutex
	reads []Read
}

func (r *Reader) ReadAIN(ctx context.Context, channel, resolution, gain int, differential bool) (physic.ElectricPotential, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads = append(r.reads, Read{channel, resolution, gain, differential})
	src := r.SingleEnded
	if differential {
		src = r.Differential
	}
	v, ok := src[channel]
	if !ok {
		return 0, fmt.Errorf("AIN%d not connected", channel)
	}
	return v, nil
}

// Set changes the voltage of an input.
func (r *Reader) Set(channel int, differential bool, v physic.ElectricPotential) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if differential {
		if r.Differential == nil {
			r.Differential = map[int]physic.ElectricPotential{}
		}
		r.Differential[channel] = v
		return
	}
	if r.SingleEnded == nil {
		r.SingleEnded = map[int]physic.ElectricPotential{}
	}
	r.SingleEnded[channel] = v
}

func (r *Reader) Reads() []Read {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Read(nil), r.reads...)
}
