// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package serialport

import (
	"bytes"
	"errors"
	"sync"
)

// ErrClosed is returned by a TestPort after Close.
var ErrClosed = errors.New("serial port closed")

// TestPort is an in-memory port that records every write as a separate
// frame and can be told to fail.
type TestPort struct {
	mu sync.Mutex

	// WriteError is returned by the next Write only.
	WriteError error
	// FailWrites, when set, is returned by every Write.
	FailWrites error
	// CloseError is returned by Close.
	CloseError error

	frames     [][]byte
	readBuffer bytes.Buffer
	writeCalls int
	closed     bool
}

// NewTestPort returns an open, empty port.
func NewTestPort() *TestPort {
	return &TestPort{}
}

func (p *TestPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.writeCalls++
	if p.closed {
		return 0, ErrClosed
	}
	if p.WriteError != nil {
		err := p.WriteError
		p.WriteError = nil
		return 0, err
	}
	if p.FailWrites != nil {
		return 0, p.FailWrites
	}
	p.frames = append(p.frames, bytes.Clone(b))
	return len(b), nil
}

// Read drains data queued with AddReadData.
func (p *TestPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	return p.readBuffer.Read(b)
}

// AddReadData queues bytes for Read.
func (p *TestPort) AddReadData(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readBuffer.Write(b)
}

func (p *TestPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.CloseError
}

// Frames returns a copy of every successful write, in order.
func (p *TestPort) Frames() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.frames))
	for i, f := range p.frames {
		out[i] = bytes.Clone(f)
	}
	return out
}

// LastFrame returns the most recent successful write, or nil.
func (p *TestPort) LastFrame() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.frames) == 0 {
		return nil
	}
	return bytes.Clone(p.frames[len(p.frames)-1])
}

// WriteCalls counts Write calls, failed ones included.
func (p *TestPort) WriteCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeCalls
}

// Closed reports whether Close was called.
func (p *TestPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Reset clears recorded frames and counters and reopens the port.
func (p *TestPort) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = nil
	p.readBuffer.Reset()
	p.writeCalls = 0
	p.closed = false
	p.WriteError = nil
	p.FailWrites = nil
}
