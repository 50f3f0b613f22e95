// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package vision

import "math"

// FilterConfig holds the marker validity gates. A zero or negative value
// disables the corresponding gate.
type FilterConfig struct {
	MinAspect       float64 // inclusive lower bound on width/height
	MaxAspect       float64 // inclusive upper bound on width/height
	MinMagnitude    float64
	BlackThreshold  float64 // border gray must be below this
	BrightThreshold float64 // centre gray must be above this
}

// DefaultFilterConfig mirrors the thresholds used on the bench setup.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		MinAspect:       1.1,
		MaxAspect:       1.8,
		MinMagnitude:    100000,
		BlackThreshold:  149,
		BrightThreshold: 128,
	}
}

// Reason says why a marker candidate was rejected.
type Reason int

const (
	ReasonAspect Reason = iota
	ReasonMagnitude
	ReasonBorder
	ReasonCenter
	numReasons
)

func (r Reason) String() string {
	switch r {
	case ReasonAspect:
		return "aspect"
	case ReasonMagnitude:
		return "magnitude"
	case ReasonBorder:
		return "border"
	case ReasonCenter:
		return "center"
	default:
		return "unknown"
	}
}

// Rejections counts rejected marker candidates by reason for one frame.
type Rejections [numReasons]int

// Total is the number of rejected candidates.
func (r Rejections) Total() int {
	n := 0
	for _, v := range r {
		n += v
	}
	return n
}

// Selection is the filter output: at most one spot and one marker.
type Selection struct {
	Spot       *Point
	Marker     *Point
	MarkerBox  *Candidate
	Rejections Rejections
}

// Filter picks the accepted spot and marker out of a frame's candidates.
// It holds no state between frames.
type Filter struct {
	cfg FilterConfig
}

func NewFilter(cfg FilterConfig) *Filter {
	return &Filter{cfg: cfg}
}

// Config returns the gates in use.
func (f *Filter) Config() FilterConfig {
	return f.cfg
}

// Select applies the gates to one frame. prev is the previously accepted
// marker position, used only to break area ties.
func (f *Filter) Select(frame Frame, prev *Point) Selection {
	var sel Selection

	if spot, ok := largest(frame.Spots, nil); ok {
		p := spot.SpotPoint()
		sel.Spot = &p
	}

	passing := make([]Candidate, 0, len(frame.Markers))
	for _, c := range frame.Markers {
		if reason, ok := f.check(c); !ok {
			sel.Rejections[reason]++
			continue
		}
		passing = append(passing, c)
	}
	if marker, ok := largest(passing, prev); ok {
		p := marker.AimPoint()
		sel.Marker = &p
		sel.MarkerBox = &marker
	}
	return sel
}

// check runs the marker gates in order and returns the first failing one.
func (f *Filter) check(c Candidate) (Reason, bool) {
	if f.cfg.MinAspect > 0 || f.cfg.MaxAspect > 0 {
		ar := c.AspectRatio()
		if ar <= 0 {
			return ReasonAspect, false
		}
		if f.cfg.MinAspect > 0 && ar < f.cfg.MinAspect {
			return ReasonAspect, false
		}
		if f.cfg.MaxAspect > 0 && ar > f.cfg.MaxAspect {
			return ReasonAspect, false
		}
	}
	if f.cfg.MinMagnitude > 0 && c.Magnitude < f.cfg.MinMagnitude {
		return ReasonMagnitude, false
	}
	if c.Intensity != nil {
		if f.cfg.BlackThreshold > 0 && !(c.Intensity.BorderGray < f.cfg.BlackThreshold) {
			return ReasonBorder, false
		}
		if f.cfg.BrightThreshold > 0 && !(c.Intensity.CenterGray > f.cfg.BrightThreshold) {
			return ReasonCenter, false
		}
	}
	return 0, true
}

// largest returns the candidate with the biggest area. Equal areas are
// resolved in favour of the one closest to near, then by input order.
func largest(cs []Candidate, near *Point) (Candidate, bool) {
	if len(cs) == 0 {
		return Candidate{}, false
	}
	best := 0
	for i := 1; i < len(cs); i++ {
		a, b := cs[i].BoxArea(), cs[best].BoxArea()
		if a > b {
			best = i
			continue
		}
		if a == b && near != nil && dist(cs[i].AimPoint(), *near) < dist(cs[best].AimPoint(), *near) {
			best = i
		}
	}
	return cs[best], true
}

func dist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
