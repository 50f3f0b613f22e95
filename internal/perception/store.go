// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package perception delivers candidate frames to the control loop, either
// from the camera process over MQTT or from a synthetic generator.
package perception

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/relabs-tech/laser_tracker/internal/vision"
)

// Logf is the package diagnostic logger. Tests may replace it.
var Logf func(format string, v ...interface{}) = log.Printf

// Store holds the latest frame handed over by a producer goroutine. Frames
// that arrive faster than the consumer reads them overwrite each other; the
// consumer always gets the most recent one.
type Store struct {
	mu        sync.Mutex
	frame     vision.Frame
	seq       uint64 // frames stored
	delivered uint64 // seq of the last frame returned by Next
	dropped   uint64
	notify    chan struct{}
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{notify: make(chan struct{}, 1)}
}

// Put replaces the pending frame and wakes a waiting reader.
func (s *Store) Put(f vision.Frame) {
	s.mu.Lock()
	if s.seq > s.delivered {
		s.dropped++
	}
	s.frame = f
	s.seq++
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Store) take() (vision.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq == s.delivered {
		return vision.Frame{}, false
	}
	s.delivered = s.seq
	return s.frame, true
}

// Next returns the newest frame not yet delivered. It waits up to timeout
// for one to arrive; on timeout it returns ok=false and no error. A
// cancelled ctx returns ctx.Err().
func (s *Store) Next(ctx context.Context, timeout time.Duration) (vision.Frame, bool, error) {
	if f, ok := s.take(); ok {
		return f, true, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return vision.Frame{}, false, ctx.Err()
		case <-timer.C:
			return vision.Frame{}, false, nil
		case <-s.notify:
			if f, ok := s.take(); ok {
				return f, true, nil
			}
		}
	}
}

// Stats returns how many frames were stored and how many were overwritten
// before being read.
func (s *Store) Stats() (received, dropped uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq, s.dropped
}
