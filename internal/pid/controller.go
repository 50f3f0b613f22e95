// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package pid implements the two-axis adaptive PID controller that turns the
// pixel error between marker and spot into actuator angles.
//
// Gains are scheduled on the error magnitude: far from the target the
// proportional term dominates, close to it the integral term takes over to
// remove the steady-state offset. The integral accumulator itself is clamped
// so a long saturation leaves no windup to unwind.
//
// Not safe for concurrent use.
package pid

import (
	"fmt"
	"math"
	"time"
)

// Terms is the P/I/D contribution on one axis before angle scaling.
type Terms struct {
	P float64 `json:"p"`
	I float64 `json:"i"`
	D float64 `json:"d"`
}

// Sum returns P+I+D.
func (t Terms) Sum() float64 { return t.P + t.I + t.D }

// Output is the result of one Compute call.
type Output struct {
	Angle1 float64 `json:"angle1"` // horizontal axis, degrees
	Angle2 float64 `json:"angle2"` // vertical axis, degrees
	ErrX   float64 `json:"err_x"`
	ErrY   float64 `json:"err_y"`

	Band      Band          `json:"band"`
	Magnitude float64       `json:"magnitude"`
	Dt        time.Duration `json:"dt"`
	X         Terms         `json:"x"`
	Y         Terms         `json:"y"`
	Clamped   bool          `json:"clamped"`
}

type axis struct {
	lastErr  float64
	integral float64
}

// Controller is the stateful two-axis PID.
type Controller struct {
	cfg Config

	x, y       axis
	lastUpdate time.Time
	started    bool

	scaleX float64
	scaleY float64
}

// New validates cfg and returns a controller with zeroed state.
func New(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{
		cfg:    cfg,
		scaleX: cfg.MaxAngle / float64(cfg.SensorWidth/2),
		scaleY: cfg.MaxAngle / float64(cfg.SensorHeight/2),
	}, nil
}

// Config returns the tuning in use.
func (c *Controller) Config() Config { return c.cfg }

// Compute runs one control update for the target (marker) and current
// (spot) positions observed at now.
func (c *Controller) Compute(targetX, targetY, currentX, currentY float64, now time.Time) Output {
	dt := c.cfg.MinDt
	if c.started {
		if elapsed := now.Sub(c.lastUpdate); elapsed > dt {
			dt = elapsed
		}
	}
	first := !c.started
	c.lastUpdate = now
	c.started = true
	dts := dt.Seconds()

	errX := targetX - currentX
	errY := targetY - currentY

	band, mag := c.band(errX, errY)
	g := c.cfg.Base.Scale(c.multipliers(band))

	tx := c.step(&c.x, errX, dts, g, first)
	ty := c.step(&c.y, errY, dts, g, first)

	out := Output{
		Angle1:    tx.Sum() * c.scaleX,
		Angle2:    ty.Sum() * c.scaleY,
		ErrX:      errX,
		ErrY:      errY,
		Band:      band,
		Magnitude: mag,
		Dt:        dt,
		X:         tx,
		Y:         ty,
	}
	if c.cfg.ClampOutput {
		a1, c1 := clamp(out.Angle1, c.cfg.MaxAngle)
		a2, c2 := clamp(out.Angle2, c.cfg.MaxAngle)
		out.Angle1, out.Angle2 = a1, a2
		out.Clamped = c1 || c2
	}
	return out
}

// step updates one axis and returns its terms.
func (c *Controller) step(a *axis, e, dt float64, g Gains, first bool) Terms {
	if c.cfg.IntegralLeak > 0 && math.Abs(e) <= c.cfg.LeakDeadband {
		a.integral *= math.Exp(-c.cfg.IntegralLeak * dt)
	}
	a.integral += e * dt
	a.integral, _ = clamp(a.integral, c.cfg.MaxIntegral)

	var d float64
	if !first {
		d = g.D * (e - a.lastErr) / dt
	}
	a.lastErr = e

	return Terms{P: g.P * e, I: g.I * a.integral, D: d}
}

func (c *Controller) band(ex, ey float64) (Band, float64) {
	var mag float64
	if c.cfg.Schedule.Metric == MetricEuclidean {
		mag = math.Hypot(ex, ey)
	} else {
		mag = math.Max(math.Abs(ex), math.Abs(ey))
	}
	switch {
	case mag > c.cfg.Schedule.LargeAbove:
		return BandLarge, mag
	case mag > c.cfg.Schedule.MediumAbove:
		return BandMedium, mag
	default:
		return BandSmall, mag
	}
}

func (c *Controller) multipliers(b Band) Gains {
	switch b {
	case BandLarge:
		return c.cfg.Schedule.Large
	case BandMedium:
		return c.cfg.Schedule.Medium
	default:
		return c.cfg.Schedule.Small
	}
}

// Integral returns the raw accumulators for both axes.
func (c *Controller) Integral() (float64, float64) {
	return c.x.integral, c.y.integral
}

// Reset clears the accumulators, last errors and timestamp.
func (c *Controller) Reset() {
	c.x, c.y = axis{}, axis{}
	c.started = false
	c.lastUpdate = time.Time{}
}

func (o Output) String() string {
	return fmt.Sprintf("err=(%+.1f,%+.1f) band=%s angle=(%+.3f,%+.3f)", o.ErrX, o.ErrY, o.Band, o.Angle1, o.Angle2)
}

func clamp(v, limit float64) (float64, bool) {
	if v > limit {
		return limit, true
	}
	if v < -limit {
		return -limit, true
	}
	return v, false
}
