// Package sdi12 talks to dual-band reflectance sensors on an SDI-12 bus
// and derives normalised difference indices from them.
package sdi12

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	DefaultBaudRate    = 9600
	DefaultReadTimeout = 2 * time.Second
)

var errReadTimeout = errors.New("timed out waiting for end of line")

// Bus serialises command/response transactions on one port. All sensors on
// the same physical bus must share one Bus.
type Bus struct {
	// Timeout bounds the wait for a complete response line.
	Timeout time.Duration

	mu   sync.Mutex
	port io.ReadWriter
}

func NewBus(port io.ReadWriter) *Bus {
	return &Bus{
		Timeout: DefaultReadTimeout,
		port:    port,
	}
}

// OpenSerial opens the serial adapter at name. A nil mode uses 9600 8N1.
func OpenSerial(name string, mode *serial.Mode) (*Bus, error) {
	if mode == nil {
		mode = &serial.Mode{
			BaudRate: DefaultBaudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("unable to open serial port %q: %w", name, err)
	}
	// Short reads so that readLine can enforce its own deadline.
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("unable to set read timeout on %q: %w", name, err)
	}
	return NewBus(port), nil
}

func (b *Bus) Close() error {
	if c, ok := b.port.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Command sends cmd terminated by CRLF, waits settle and returns the next
// response line. The line is returned even when incomplete.
func (b *Bus) Command(ctx context.Context, cmd string, settle time.Duration) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := io.WriteString(b.port, cmd+"\r\n"); err != nil {
		return "", fmt.Errorf("unable to send %q: %w", cmd, err)
	}
	if settle > 0 {
		t := time.NewTimer(settle)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		}
	}
	return b.readLine()
}

func (b *Bus) readLine() (string, error) {
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	deadline := time.Now().Add(timeout)
	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := b.port.Read(buf)
		if err != nil {
			return string(line), err
		}
		if n == 0 {
			if time.Now().After(deadline) {
				return string(line), errReadTimeout
			}
			continue
		}
		line = append(line, buf[0])
		if buf[0] == '\n' {
			return string(line), nil
		}
	}
}
