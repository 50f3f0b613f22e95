// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package telemetry carries the per-tick diagnostics record of the control
// loop and the sinks that consume it: MQTT, SQLite and the log.
package telemetry

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/relabs-tech/laser_tracker/internal/estimator"
	"github.com/relabs-tech/laser_tracker/internal/protocol"
	"github.com/relabs-tech/laser_tracker/internal/vision"
)

// Logf is the package diagnostic logger. Tests may replace it.
var Logf func(format string, v ...interface{}) = log.Printf

// Tick is one pass of the control loop.
type Tick struct {
	Seq      uint64        `json:"seq"`
	Time     time.Time     `json:"time"`
	Duration time.Duration `json:"duration_ns"`
	State    string        `json:"state"` // last stage reached

	HaveFrame bool   `json:"have_frame"`
	FrameSeq  uint64 `json:"frame_seq,omitempty"`

	SpotDetected     bool `json:"spot_detected"`
	MarkerDetected   bool `json:"marker_detected"`
	MarkerCandidates int  `json:"marker_candidates"`
	MarkerRejected   int  `json:"marker_rejected"`

	Spot   estimator.Estimate `json:"spot"`
	Marker estimator.Estimate `json:"marker"`

	Distance *vision.Distance `json:"distance,omitempty"`

	Controlled bool    `json:"controlled"`
	ErrX       float64 `json:"err_x"`
	ErrY       float64 `json:"err_y"`
	Band       string  `json:"band,omitempty"`
	Angle1     float64 `json:"angle1"`
	Angle2     float64 `json:"angle2"`
	Pulses1    int32   `json:"pulses1"`
	Pulses2    int32   `json:"pulses2"`
	Integral1  float64 `json:"integral1"`
	Integral2  float64 `json:"integral2"`

	Sent    bool           `json:"sent"`
	TxError string         `json:"tx_error,omitempty"`
	TxStats protocol.Stats `json:"tx_stats"`
}

func (t Tick) String() string {
	if !t.Controlled {
		return fmt.Sprintf("tick %d state=%s spot=%v marker=%v", t.Seq, t.State, t.SpotDetected, t.MarkerDetected)
	}
	return fmt.Sprintf("tick %d err=(%+.1f,%+.1f) band=%s angle=(%+.2f,%+.2f) pulses=(%d,%d) sent=%v",
		t.Seq, t.ErrX, t.ErrY, t.Band, t.Angle1, t.Angle2, t.Pulses1, t.Pulses2, t.Sent)
}

// Sink receives every tick. Record must not block the loop for long.
type Sink interface {
	Record(Tick)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Tick)

func (f SinkFunc) Record(t Tick) { f(t) }

// Latest keeps the most recent tick for readers on other goroutines.
type Latest struct {
	mu   sync.RWMutex
	tick Tick
	ok   bool
}

func (l *Latest) Record(t Tick) {
	l.mu.Lock()
	l.tick, l.ok = t, true
	l.mu.Unlock()
}

// Get returns the last recorded tick and whether there was one.
func (l *Latest) Get() (Tick, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tick, l.ok
}

// LogSink logs every Nth tick, and every tick whose transmit failed.
type LogSink struct {
	Every uint64
}

func (s LogSink) Record(t Tick) {
	if t.TxError != "" {
		Logf("tracker: %s tx_error=%s", t, t.TxError)
		return
	}
	if s.Every > 0 && t.Seq%s.Every == 0 {
		Logf("tracker: %s", t)
	}
}
