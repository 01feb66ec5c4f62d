// Package testutils provides a scripted stand-in for the serial port.
package testutils

import (
	"strings"
	"sync"

	"github.com/luhtfiimanal/go-esp-harness/serial"
)

// Read is one scripted ReadLine result.
type Read struct {
	Line string
	Err  error
}

// Lines turns plain lines into scripted reads.
func Lines(lines ...string) []Read {
	reads := make([]Read, len(lines))
	for i, l := range lines {
		reads[i] = Read{Line: l}
	}
	return reads
}

// Timeout is a scripted read that reports no data.
var Timeout = Read{Err: serial.ErrTimeout}

// FakePort plays back scripted reads and records writes. When a command is
// written, the reads registered for its first word in Replies are queued
// behind whatever is still pending, the way the firmware answers.
type FakePort struct {
	mu sync.Mutex

	Pending []Read
	Replies map[string][]Read

	// OnDrain runs each time ReadLine finds the queue empty. ReadLine then
	// reports serial.ErrTimeout, or DrainErr if set.
	OnDrain  func()
	DrainErr error

	WriteErr error

	Writes    []string
	ReadCount int
	Closes    int
}

func (p *FakePort) ReadLine() (string, error) {
	p.mu.Lock()
	if len(p.Pending) == 0 {
		onDrain, err := p.OnDrain, p.DrainErr
		p.ReadCount++
		p.mu.Unlock()
		if onDrain != nil {
			onDrain()
		}
		if err != nil {
			return "", err
		}
		return "", serial.ErrTimeout
	}
	defer p.mu.Unlock()
	r := p.Pending[0]
	p.Pending = p.Pending[1:]
	p.ReadCount++
	return r.Line, r.Err
}

func (p *FakePort) WriteLine(line string, newline string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.WriteErr != nil {
		return p.WriteErr
	}
	p.Writes = append(p.Writes, line+newline)
	name, _, _ := strings.Cut(line, " ")
	p.Pending = append(p.Pending, p.Replies[name]...)
	return nil
}

func (p *FakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closes++
	return nil
}

// Commands returns the written commands without their line terminator.
func (p *FakePort) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Writes))
	for i, w := range p.Writes {
		out[i] = strings.TrimSuffix(w, "\n")
	}
	return out
}
