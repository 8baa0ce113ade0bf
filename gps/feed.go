package gps

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/hb9tf/phenocart/metrics"
)

// DefaultTimeout bounds both the connect and every single receive.
const DefaultTimeout = 5 * time.Second

// LinkError is returned when the receiver stream can't be reached or goes quiet.
type LinkError struct {
	Addr string
	Err  error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("gps link %s: %s", e.Addr, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

// Feed keeps the latest fix read from a receiver streaming text lines over TCP.
type Feed struct {
	Addr    string
	Timeout time.Duration
	Metrics *metrics.Collector

	mu      sync.Mutex
	fix     Fix
	running bool
}

func NewFeed(addr string) *Feed {
	return &Feed{
		Addr:    addr,
		Timeout: DefaultTimeout,
	}
}

// Fix returns a copy of the latest fix.
func (f *Feed) Fix() Fix {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fix
}

// Running reports whether Run is currently connected.
func (f *Feed) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Status is the display colour of the current fix.
func (f *Feed) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running || !f.fix.Valid {
		return StatusWaiting
	}
	return f.fix.Quality.Status()
}

// Update parses a line and replaces the latest fix. Empty or malformed lines
// leave the previous fix in place and return false.
func (f *Feed) Update(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	fix, err := ParseLine(line)
	if err != nil {
		glog.V(2).Infof("ignoring gps line %q: %s", line, err)
		f.Metrics.GPSLine(false)
		return false
	}
	f.mu.Lock()
	f.fix = fix
	f.mu.Unlock()
	f.Metrics.GPSLine(true)
	f.Metrics.FixQuality(int(fix.Quality))
	return true
}

func (f *Feed) timeout() time.Duration {
	if f.Timeout > 0 {
		return f.Timeout
	}
	return DefaultTimeout
}

func (f *Feed) setRunning(running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = running
	if !running {
		f.fix = Fix{}
	}
}

// Run connects to the receiver and consumes lines until ctx is cancelled or
// the link fails. Once Run returns the latest fix is reset to the unset fix.
// A cancelled ctx returns nil, link failures return a *LinkError.
func (f *Feed) Run(ctx context.Context) error {
	d := net.Dialer{Timeout: f.timeout()}
	conn, err := d.DialContext(ctx, "tcp", f.Addr)
	if err != nil {
		return &LinkError{Addr: f.Addr, Err: err}
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	glog.Infof("gps: connected to %s", f.Addr)
	f.setRunning(true)
	defer f.setRunning(false)
	f.Metrics.FixQuality(int(QualityNone))

	r := bufio.NewReader(conn)
	var line []byte
	for {
		if err := conn.SetReadDeadline(time.Now().Add(f.timeout())); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &LinkError{Addr: f.Addr, Err: err}
		}
		b, err := r.ReadByte()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &LinkError{Addr: f.Addr, Err: err}
		}
		if b == '\n' || b == '\r' {
			f.Update(string(line))
			line = line[:0]
			continue
		}
		line = append(line, b)
	}
}
