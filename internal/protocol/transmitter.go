// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package protocol

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"log"
	"strings"
	"sync"
	"time"
)

// Logf is the package diagnostic logger. Tests may replace it.
var Logf func(format string, v ...interface{}) = log.Printf

// Layout selects how commands are framed onto the transport(s).
type Layout int

const (
	// LayoutCombined sends one frame carrying both axes.
	LayoutCombined Layout = iota
	// LayoutSplit sends one axis frame per axis, each on its own channel.
	LayoutSplit
)

func (l Layout) String() string {
	if l == LayoutSplit {
		return "split"
	}
	return "combined"
}

// ParseLayout converts a config value into a Layout.
func ParseLayout(value string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "combined", "single":
		return LayoutCombined, nil
	case "split", "dual":
		return LayoutSplit, nil
	default:
		return LayoutCombined, fmt.Errorf("unknown frame layout %q", value)
	}
}

// Config describes the transmitter.
type Config struct {
	Layout         Layout
	DeviceID       byte // combined layout
	Axis1ID        byte // split layout
	Axis2ID        byte // split layout
	Reverse1       bool
	Reverse2       bool
	StepsPerDegree float64
	MinInterval    time.Duration
}

// DefaultConfig is the combined single-UART rig: device 1, yaw inverted,
// 100 steps per degree, at most one frame every 20 ms.
func DefaultConfig() Config {
	return Config{
		Layout:         LayoutCombined,
		DeviceID:       DefaultDeviceID,
		Axis1ID:        0x01,
		Axis2ID:        0x02,
		Reverse1:       true,
		StepsPerDegree: DefaultStepsPerDegree,
		MinInterval:    20 * time.Millisecond,
	}
}

// Stats counts frames per outcome across all channels.
type Stats struct {
	Sent    uint64 `json:"sent"`
	Skipped uint64 `json:"skipped"`
	Failed  uint64 `json:"failed"`
}

type channel struct {
	name     string
	w        io.Writer
	lastSent time.Time
	shared   bool // w is also an earlier channel's transport; Close skips it
}

// Transmitter converts angles into frames and writes them, rate limited per
// channel. It is safe for concurrent use.
type Transmitter struct {
	cfg Config

	mu       sync.Mutex
	channels []*channel
	stats    Stats
}

// NewTransmitter builds a transmitter. The combined layout writes to axis1
// only; the split layout writes axis 1 frames to axis1 and axis 2 frames to
// axis2, falling back to axis1 when axis2 is nil.
func NewTransmitter(cfg Config, axis1, axis2 io.Writer) (*Transmitter, error) {
	if axis1 == nil {
		return nil, errors.New("transmitter: nil transport")
	}
	if cfg.StepsPerDegree <= 0 {
		return nil, fmt.Errorf("transmitter: steps per degree must be > 0, got %v", cfg.StepsPerDegree)
	}
	if cfg.MinInterval < 0 {
		return nil, fmt.Errorf("transmitter: negative min interval %v", cfg.MinInterval)
	}

	t := &Transmitter{cfg: cfg}
	switch cfg.Layout {
	case LayoutCombined:
		t.channels = []*channel{{name: "combined", w: axis1}}
	case LayoutSplit:
		shared := axis2 == nil || sameWriter(axis1, axis2)
		if axis2 == nil {
			axis2 = axis1
		}
		t.channels = []*channel{{name: "axis1", w: axis1}, {name: "axis2", w: axis2, shared: shared}}
	default:
		return nil, fmt.Errorf("transmitter: unknown layout %d", cfg.Layout)
	}
	return t, nil
}

// Config returns the transmitter configuration.
func (t *Transmitter) Config() Config { return t.cfg }

// Pulses returns the pulse counts that Send would put on the wire.
func (t *Transmitter) Pulses(angle1, angle2 float64) (int32, int32) {
	return AngleToPulses(angle1, t.cfg.StepsPerDegree, t.cfg.Reverse1),
		AngleToPulses(angle2, t.cfg.StepsPerDegree, t.cfg.Reverse2)
}

func (t *Transmitter) frames(p1, p2 int32) [][]byte {
	if t.cfg.Layout == LayoutSplit {
		return [][]byte{EncodeAxisFrame(t.cfg.Axis1ID, p1), EncodeAxisFrame(t.cfg.Axis2ID, p2)}
	}
	return [][]byte{EncodeFrame(t.cfg.DeviceID, p1, p2)}
}

// Send commands the actuator to the given angles in degrees. A channel whose
// last successful write is less than MinInterval before now is skipped.
// sent is true when at least one channel wrote a frame. Write failures are
// counted and returned; the rate limiter is only advanced on success.
func (t *Transmitter) Send(angle1, angle2 float64, now time.Time) (bool, error) {
	p1, p2 := t.Pulses(angle1, angle2)
	frames := t.frames(p1, p2)

	t.mu.Lock()
	defer t.mu.Unlock()

	var (
		sent bool
		errs []error
	)
	for i, ch := range t.channels {
		if !ch.lastSent.IsZero() && now.Sub(ch.lastSent) < t.cfg.MinInterval {
			t.stats.Skipped++
			continue
		}
		if err := write(ch.w, frames[i]); err != nil {
			t.stats.Failed++
			errs = append(errs, fmt.Errorf("%s: %w", ch.name, err))
			continue
		}
		ch.lastSent = now
		t.stats.Sent++
		sent = true
	}
	return sent, errors.Join(errs...)
}

// SendStop commands zero pulses on every channel, ignoring the rate limit.
// The limiter is left untouched so the caller's clock stays the only time
// base Send compares against.
func (t *Transmitter) SendStop() error {
	frames := t.frames(0, 0)

	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	for i, ch := range t.channels {
		if err := write(ch.w, frames[i]); err != nil {
			t.stats.Failed++
			Logf("protocol: stop frame on %s failed: %v", ch.name, err)
			errs = append(errs, fmt.Errorf("%s: %w", ch.name, err))
			continue
		}
		t.stats.Sent++
	}
	return errors.Join(errs...)
}

// Stats returns a snapshot of the counters.
func (t *Transmitter) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// Close closes every distinct transport that implements io.Closer.
func (t *Transmitter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	for _, ch := range t.channels {
		if ch.shared {
			continue
		}
		if c, ok := ch.w.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", ch.name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// sameWriter reports whether a and b are the same transport. Writers whose
// dynamic type cannot be compared are treated as distinct.
func sameWriter(a, b io.Writer) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || ta == nil || !ta.Comparable() {
		return false
	}
	return a == b
}

func write(w io.Writer, b []byte) error {
	n, err := w.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return io.ErrShortWrite
	}
	return nil
}
