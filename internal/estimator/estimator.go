// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package estimator smooths the per-frame spot and marker detections into
// stable positions, holding the last value across missed frames.
package estimator

import (
	"errors"
	"fmt"

	"github.com/relabs-tech/laser_tracker/internal/vision"
)

// ErrAlpha is returned when the smoothing weight is outside (0, 1].
var ErrAlpha = errors.New("smoothing alpha must be in (0, 1]")

// DefaultAlpha is the weight given to the newest sample.
const DefaultAlpha = 0.7

// Estimate is the best-known position of one tracked channel.
type Estimate struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`

	Valid       bool   `json:"valid"`        // false until the first detection
	Fresh       bool   `json:"fresh"`        // updated by a detection this tick
	MissedTicks int    `json:"missed_ticks"` // consecutive ticks without a detection
	Updates     uint64 `json:"updates"`
}

// Point returns the estimate as a vision.Point.
func (e Estimate) Point() vision.Point {
	return vision.Point{X: e.X, Y: e.Y}
}

// Stale reports whether the channel has gone more than maxMissed ticks
// without a detection. maxMissed <= 0 never reports stale.
func (e Estimate) Stale(maxMissed int) bool {
	return maxMissed > 0 && e.MissedTicks > maxMissed
}

// Channel is the exponential smoother for a single position.
type Channel struct {
	alpha float64
	est   Estimate
}

// Update folds in a detection, or holds the current value when p is nil.
func (c *Channel) Update(p *vision.Point) Estimate {
	if p == nil {
		c.est.Fresh = false
		if c.est.Valid {
			c.est.MissedTicks++
		}
		return c.est
	}

	if !c.est.Valid {
		c.est.X, c.est.Y = p.X, p.Y
		c.est.Valid = true
	} else {
		c.est.X = c.est.X*(1-c.alpha) + p.X*c.alpha
		c.est.Y = c.est.Y*(1-c.alpha) + p.Y*c.alpha
	}
	c.est.Fresh = true
	c.est.MissedTicks = 0
	c.est.Updates++
	return c.est
}

// Current returns the estimate without touching it.
func (c *Channel) Current() Estimate {
	return c.est
}

// Estimator owns the spot and marker channels.
type Estimator struct {
	alpha  float64
	spot   Channel
	marker Channel
}

// New returns an estimator with the given newest-sample weight.
func New(alpha float64) (*Estimator, error) {
	if !(alpha > 0 && alpha <= 1) {
		return nil, fmt.Errorf("%w: got %v", ErrAlpha, alpha)
	}
	return &Estimator{
		alpha:  alpha,
		spot:   Channel{alpha: alpha},
		marker: Channel{alpha: alpha},
	}, nil
}

// Update advances both channels by one tick.
func (e *Estimator) Update(spot, marker *vision.Point) (Estimate, Estimate) {
	return e.spot.Update(spot), e.marker.Update(marker)
}

// Spot returns the current spot estimate.
func (e *Estimator) Spot() Estimate { return e.spot.Current() }

// Marker returns the current marker estimate.
func (e *Estimator) Marker() Estimate { return e.marker.Current() }

// Reset forgets both channels; the next detection initialises them again.
func (e *Estimator) Reset() {
	e.spot = Channel{alpha: e.alpha}
	e.marker = Channel{alpha: e.alpha}
}
