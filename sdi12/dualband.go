package sdi12

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hb9tf/phenocart/sensor"
)

// DefaultSettle is the wait between a measurement request and its acknowledgement.
const DefaultSettle = 840 * time.Millisecond

var responseRE = regexp.MustCompile(`^([a-zA-Z0-9])([+-][0-9]\.[0-9]+)([+-][0-9]\.[0-9]+)([+-][0-9]*)?`)

// ProtocolError is a malformed or mismatched sensor response. The measurement
// can be retried on the next tick.
type ProtocolError struct {
	Address  string
	Response string
	Err      error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("sensor %s: bad response %q: %s", e.Address, e.Response, e.Err)
}

func (e *ProtocolError) Unwrap() error   { return e.Err }
func (e *ProtocolError) Transient() bool { return true }

// Reading holds the two calibrated band values of a dual-band sensor in W/m².
type Reading struct {
	Address string
	Lower   float64
	Upper   float64
	// Extra is the optional third field, as sent.
	Extra string
}

// Sensor is one addressable dual-band sensor.
type Sensor interface {
	ID() string
	Position() sensor.Position
	TriggerMeasurement(ctx context.Context) error
	ParseResponse(ctx context.Context) (Reading, error)
}

type Dualband struct {
	Bus         *Bus
	Address     string
	Pos         sensor.Position
	Orientation sensor.Orientation
	Settle      time.Duration
}

func NewDualband(bus *Bus, address string, position sensor.Position, orientation sensor.Orientation) *Dualband {
	return &Dualband{
		Bus:         bus,
		Address:     address,
		Pos:         position,
		Orientation: orientation,
		Settle:      DefaultSettle,
	}
}

func (d *Dualband) ID() string                { return d.Address }
func (d *Dualband) Position() sensor.Position { return d.Pos }

// TriggerMeasurement starts a concurrent measurement and discards the acknowledgement.
func (d *Dualband) TriggerMeasurement(ctx context.Context) error {
	if _, err := d.Bus.Command(ctx, d.Address+"C!", d.Settle); err != nil && err != errReadTimeout {
		return err
	}
	return nil
}

// ParseResponse requests and parses the data of the last measurement.
func (d *Dualband) ParseResponse(ctx context.Context) (Reading, error) {
	line, err := d.Bus.Command(ctx, d.Address+"D0!", 0)
	if err == errReadTimeout {
		return Reading{}, &ProtocolError{Address: d.Address, Response: line, Err: err}
	}
	if err != nil {
		return Reading{}, err
	}
	return ParseReading(d.Address, line)
}

// ParseReading parses a data response addressed to address.
func ParseReading(address, line string) (Reading, error) {
	resp := strings.TrimSpace(strings.ReplaceAll(line, "\x00", ""))
	m := responseRE.FindStringSubmatch(resp)
	if m == nil {
		return Reading{}, &ProtocolError{Address: address, Response: resp, Err: fmt.Errorf("does not match %s", responseRE)}
	}
	if m[1] != address {
		return Reading{}, &ProtocolError{Address: address, Response: resp, Err: fmt.Errorf("answered by sensor %s", m[1])}
	}
	lower, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return Reading{}, &ProtocolError{Address: address, Response: resp, Err: err}
	}
	upper, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return Reading{}, &ProtocolError{Address: address, Response: resp, Err: err}
	}
	return Reading{
		Address: address,
		Lower:   lower,
		Upper:   upper,
		Extra:   m[4],
	}, nil
}
