// Package sdi12test simulates dual-band sensors sharing an SDI-12 bus.
package sdi12test

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"time"
)

// emptyReadDelay stands in for the read timeout of a real serial port.
const emptyReadDelay = 10 * time.Millisecond

// Port answers concurrent measurement (aC!) and data (aD0!) commands for the
// addresses in Values. Other addresses stay silent like an unpopulated bus.
type Port struct {
	// Values maps sensor addresses to their lower and upper band readings.
	Values map[string][2]float64

	mu       sync.Mutex
	out      bytes.Buffer
	commands []string
}

// Set changes the readings of the sensor at address.
func (p *Port) Set(address string, lower, upper float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Values == nil {
		p.Values = map[string][2]float64{}
	}
	p.Values[address] = [2]float64{lower, upper}
}

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cmd := strings.TrimSpace(string(b))
	p.commands = append(p.commands, cmd)
	if len(cmd) < 2 || !strings.HasSuffix(cmd, "!") {
		return len(b), nil
	}
	addr, body := cmd[:1], cmd[1:len(cmd)-1]
	v, ok := p.Values[addr]
	if !ok {
		return len(b), nil
	}
	switch body {
	case "C":
		// One second until ready, two values.
		fmt.Fprintf(&p.out, "%s00102\r\n", addr)
	case "D0":
		fmt.Fprintf(&p.out, "%s%+.4f%+.4f\r\n", addr, v[0], v[1])
	}
	return len(b), nil
}

func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.out.Len() > 0 {
		defer p.mu.Unlock()
		return p.out.Read(b)
	}
	p.mu.Unlock()
	time.Sleep(emptyReadDelay)
	return 0, nil
}

// Commands returns the commands received so far without line endings.
func (p *Port) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}
