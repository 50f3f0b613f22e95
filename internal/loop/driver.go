// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package loop runs the perception-to-actuation pipeline: one synchronous
// pass per tick through filter, estimator, controller and transmitter.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/laser_tracker/internal/estimator"
	"github.com/relabs-tech/laser_tracker/internal/pid"
	"github.com/relabs-tech/laser_tracker/internal/protocol"
	"github.com/relabs-tech/laser_tracker/internal/telemetry"
	"github.com/relabs-tech/laser_tracker/internal/vision"
)

// Logf is the package diagnostic logger. Tests may replace it.
var Logf func(format string, v ...interface{}) = log.Printf

// State is the stage the driver is in.
type State int32

const (
	AwaitingFrame State = iota
	Detecting
	Estimating
	Controlling
	Transmitting
	ShuttingDown
)

func (s State) String() string {
	switch s {
	case AwaitingFrame:
		return "awaiting_frame"
	case Detecting:
		return "detecting"
	case Estimating:
		return "estimating"
	case Controlling:
		return "controlling"
	case Transmitting:
		return "transmitting"
	case ShuttingDown:
		return "shutting_down"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Source yields candidate frames. ok=false with a nil error means no frame
// arrived in time; the tick is skipped.
type Source interface {
	Next(ctx context.Context) (vision.Frame, bool, error)
}

// Actuator is the command side of the loop, implemented by
// protocol.Transmitter.
type Actuator interface {
	Send(angle1, angle2 float64, now time.Time) (bool, error)
	SendStop() error
	Pulses(angle1, angle2 float64) (int32, int32)
	Stats() protocol.Stats
	Close() error
}

// Config tunes the driver.
type Config struct {
	// Interval is slept between ticks. Zero runs ticks back to back.
	Interval time.Duration
	// StaleAfter stops control once either estimate has missed more than
	// this many consecutive frames. Zero never stops.
	StaleAfter int

	StartupCheck bool
	CheckAngles  [2]float64
	CheckHold    time.Duration

	// Pinhole enables the marker range estimate when set.
	Pinhole *vision.PinholeConfig
}

// DefaultConfig paces at 10 ms and gives up on targets unseen for 50 frames.
func DefaultConfig() Config {
	return Config{
		Interval:    10 * time.Millisecond,
		StaleAfter:  50,
		CheckAngles: [2]float64{30, 15},
		CheckHold:   time.Second,
	}
}

// Components are the pipeline stages the driver owns.
type Components struct {
	Source     Source
	Filter     *vision.Filter
	Estimator  *estimator.Estimator
	Controller *pid.Controller
	Actuator   Actuator
}

// Stats counts ticks by outcome.
type Stats struct {
	Ticks        uint64 `json:"ticks"`
	Frames       uint64 `json:"frames"`
	Controlled   uint64 `json:"controlled"`
	SourceErrors uint64 `json:"source_errors"`
	TxErrors     uint64 `json:"tx_errors"`
}

// Driver owns every pipeline stage and runs them from one goroutine.
type Driver struct {
	cfg Config
	c   Components

	sinks []telemetry.Sink
	now   func() time.Time

	state       atomic.Int32
	seq         uint64
	controlling bool
	stats       Stats

	shutdownOnce sync.Once
	shutdownErr  error
}

// New checks the components and returns an idle driver.
func New(cfg Config, c Components, sinks ...telemetry.Sink) (*Driver, error) {
	switch {
	case c.Source == nil:
		return nil, errors.New("loop: nil source")
	case c.Filter == nil:
		return nil, errors.New("loop: nil filter")
	case c.Estimator == nil:
		return nil, errors.New("loop: nil estimator")
	case c.Controller == nil:
		return nil, errors.New("loop: nil controller")
	case c.Actuator == nil:
		return nil, errors.New("loop: nil actuator")
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("loop: negative interval %v", cfg.Interval)
	}
	return &Driver{cfg: cfg, c: c, sinks: sinks, now: time.Now}, nil
}

// AddSink registers another tick consumer. Call before Run.
func (d *Driver) AddSink(s telemetry.Sink) {
	d.sinks = append(d.sinks, s)
}

// State returns the current stage. Safe from any goroutine.
func (d *Driver) State() State {
	return State(d.state.Load())
}

func (d *Driver) setState(s State) {
	d.state.Store(int32(s))
}

// Stats returns the tick counters. Not safe while Run is active.
func (d *Driver) Stats() Stats {
	return d.stats
}

// Tick performs one pass. Stages with nothing to act on are skipped; no
// error escapes a tick.
func (d *Driver) Tick(ctx context.Context) (t telemetry.Tick) {
	start := d.now()
	d.seq++
	d.stats.Ticks++
	t = telemetry.Tick{Seq: d.seq, Time: start}
	defer func() {
		t.Duration = d.now().Sub(start)
		t.TxStats = d.c.Actuator.Stats()
		for _, s := range d.sinks {
			s.Record(t)
		}
		if d.State() != ShuttingDown {
			d.setState(AwaitingFrame)
		}
	}()

	d.enter(&t, AwaitingFrame)
	frame, ok, err := d.c.Source.Next(ctx)
	if err != nil {
		if ctx.Err() == nil {
			d.stats.SourceErrors++
			if d.stats.SourceErrors%100 == 1 {
				Logf("loop: source error: %v", err)
			}
		}
		return t
	}
	if !ok {
		return t
	}
	d.stats.Frames++
	t.HaveFrame = true
	t.FrameSeq = frame.Seq

	d.enter(&t, Detecting)
	var prev *vision.Point
	if m := d.c.Estimator.Marker(); m.Valid {
		p := m.Point()
		prev = &p
	}
	sel := d.c.Filter.Select(frame, prev)
	t.SpotDetected = sel.Spot != nil
	t.MarkerDetected = sel.Marker != nil
	t.MarkerCandidates = len(frame.Markers)
	t.MarkerRejected = sel.Rejections.Total()
	if sel.MarkerBox != nil && d.cfg.Pinhole != nil {
		if dist, ok := vision.EstimateDistance(*d.cfg.Pinhole, *sel.MarkerBox); ok {
			t.Distance = &dist
		}
	}

	d.enter(&t, Estimating)
	spot, marker := d.c.Estimator.Update(sel.Spot, sel.Marker)
	t.Spot, t.Marker = spot, marker

	if !d.controllable(spot, marker) {
		if d.controlling {
			d.c.Controller.Reset()
			d.controlling = false
		}
		return t
	}
	// No marker this frame: nothing to aim at. The integral carries over.
	if sel.Marker == nil {
		return t
	}

	d.enter(&t, Controlling)
	now := d.now()
	out := d.c.Controller.Compute(marker.X, marker.Y, spot.X, spot.Y, now)
	d.controlling = true
	d.stats.Controlled++
	t.Controlled = true
	t.ErrX, t.ErrY = out.ErrX, out.ErrY
	t.Band = out.Band.String()
	t.Angle1, t.Angle2 = out.Angle1, out.Angle2
	t.Pulses1, t.Pulses2 = d.c.Actuator.Pulses(out.Angle1, out.Angle2)
	t.Integral1, t.Integral2 = d.c.Controller.Integral()

	d.enter(&t, Transmitting)
	sent, err := d.c.Actuator.Send(out.Angle1, out.Angle2, now)
	t.Sent = sent
	if err != nil {
		d.stats.TxErrors++
		t.TxError = err.Error()
		if d.stats.TxErrors%50 == 1 {
			Logf("loop: transmit failed (%d so far): %v", d.stats.TxErrors, err)
		}
	}
	return t
}

func (d *Driver) enter(t *telemetry.Tick, s State) {
	d.setState(s)
	t.State = s.String()
}

func (d *Driver) controllable(spot, marker estimator.Estimate) bool {
	if !spot.Valid || !marker.Valid {
		return false
	}
	return !spot.Stale(d.cfg.StaleAfter) && !marker.Stale(d.cfg.StaleAfter)
}

// Run ticks until ctx is cancelled, finishing the tick in progress, then
// shuts down. Cancellation is a normal exit and returns the shutdown error
// only.
func (d *Driver) Run(ctx context.Context) error {
	if d.cfg.StartupCheck {
		if err := d.startupCheck(ctx); err != nil {
			Logf("loop: startup check: %v", err)
		}
	}

	Logf("loop: running, interval=%v", d.cfg.Interval)
	for ctx.Err() == nil {
		d.Tick(ctx)
		if d.cfg.Interval <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(d.cfg.Interval):
		}
	}
	Logf("loop: stopping after %d ticks (%d controlled)", d.stats.Ticks, d.stats.Controlled)
	return d.Shutdown()
}

// startupCheck swings the actuator to CheckAngles, holds, and returns it to
// zero so the operator can see both axes respond.
func (d *Driver) startupCheck(ctx context.Context) error {
	a := d.cfg.CheckAngles
	Logf("loop: startup check, moving to (%.1f, %.1f)", a[0], a[1])
	if _, err := d.c.Actuator.Send(a[0], a[1], d.now()); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-time.After(d.cfg.CheckHold):
	}
	return d.c.Actuator.SendStop()
}

// Shutdown sends the stop frame and closes the actuator. Only the first call
// does anything; later calls return the same error.
func (d *Driver) Shutdown() error {
	d.shutdownOnce.Do(func() {
		d.setState(ShuttingDown)
		var errs []error
		if err := d.c.Actuator.SendStop(); err != nil {
			errs = append(errs, fmt.Errorf("stop frame: %w", err))
		}
		if err := d.c.Actuator.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close actuator: %w", err))
		}
		d.shutdownErr = errors.Join(errs...)
		if d.shutdownErr != nil {
			Logf("loop: shutdown: %v", d.shutdownErr)
		}
	})
	return d.shutdownErr
}
