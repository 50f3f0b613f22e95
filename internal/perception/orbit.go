// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package perception

import (
	"context"
	"math"
	"time"

	"github.com/relabs-tech/laser_tracker/internal/vision"
)

// Orbit generates synthetic frames: a fixed A4 marker at the sensor centre
// and a laser spot travelling on a circle around it. It stands in for the
// camera on a bench.
type Orbit struct {
	Width, Height int
	MarkerWidth   float64 // px
	MarkerHeight  float64 // px
	Radius        float64 // spot circle radius, px
	Period        time.Duration
	SpotSize      float64 // px
	Interval      time.Duration

	// DropEvery hides the spot on every Nth frame to exercise the hold path.
	DropEvery uint64

	start time.Time
	seq   uint64
	now   func() time.Time
}

// NewOrbit returns the default 800x480 bench scene.
func NewOrbit() *Orbit {
	return &Orbit{
		Width:        800,
		Height:       480,
		MarkerWidth:  148,
		MarkerHeight: 105,
		Radius:       60,
		Period:       4 * time.Second,
		SpotSize:     6,
		Interval:     33 * time.Millisecond,
		now:          time.Now,
	}
}

// FrameAt builds the frame for elapsed time t since the start of the scan.
func (o *Orbit) FrameAt(seq uint64, t time.Duration, ts time.Time) vision.Frame {
	cx, cy := float64(o.Width)/2, float64(o.Height)/2

	mx, my := cx-o.MarkerWidth/2, cy-o.MarkerHeight/2
	marker := vision.Candidate{
		Kind:   vision.KindMarker,
		X:      mx,
		Y:      my,
		Width:  o.MarkerWidth,
		Height: o.MarkerHeight,
		Corners: []vision.Point{
			{X: mx, Y: my},
			{X: mx + o.MarkerWidth, Y: my},
			{X: mx + o.MarkerWidth, Y: my + o.MarkerHeight},
			{X: mx, Y: my + o.MarkerHeight},
		},
		Area:      o.MarkerWidth * o.MarkerHeight,
		Magnitude: 150000,
		Intensity: &vision.Intensity{BorderGray: 40, CenterGray: 210},
	}

	f := vision.Frame{
		Seq:       seq,
		Timestamp: ts,
		Width:     o.Width,
		Height:    o.Height,
		Markers:   []vision.Candidate{marker},
	}
	if o.DropEvery > 0 && seq%o.DropEvery == 0 {
		return f
	}

	var theta float64
	if o.Period > 0 {
		theta = 2 * math.Pi * float64(t%o.Period) / float64(o.Period)
	}
	sx := cx + o.Radius*math.Cos(theta)
	sy := cy + o.Radius*math.Sin(theta)
	f.Spots = []vision.Candidate{{
		Kind:     vision.KindSpot,
		X:        sx - o.SpotSize/2,
		Y:        sy - o.SpotSize/2,
		Width:    o.SpotSize,
		Height:   o.SpotSize,
		Area:     math.Pi * o.SpotSize * o.SpotSize / 4,
		Centroid: &vision.Point{X: sx, Y: sy},
	}}
	return f
}

// Next implements the loop source, producing one frame per Interval.
func (o *Orbit) Next(ctx context.Context) (vision.Frame, bool, error) {
	if o.now == nil {
		o.now = time.Now
	}
	if o.Interval > 0 {
		select {
		case <-ctx.Done():
			return vision.Frame{}, false, ctx.Err()
		case <-time.After(o.Interval):
		}
	} else if err := ctx.Err(); err != nil {
		return vision.Frame{}, false, err
	}

	now := o.now()
	if o.start.IsZero() {
		o.start = now
	}
	o.seq++
	return o.FrameAt(o.seq, now.Sub(o.start), now), true, nil
}

// ScanAngles returns the actuator angles, in degrees, that trace a circle of
// radius r on a plane at distance d, sampled at steps points. Angle 1 turns
// about the vertical axis (x), angle 2 about the horizontal axis (y).
func ScanAngles(r, d float64, steps int) [][2]float64 {
	if steps < 2 || d <= 0 {
		return nil
	}
	out := make([][2]float64, steps)
	for i := range out {
		theta := 2 * math.Pi * float64(i) / float64(steps-1)
		x, y := r*math.Cos(theta), r*math.Sin(theta)
		out[i] = [2]float64{
			math.Atan(x/d) * 180 / math.Pi,
			math.Atan(y/d) * 180 / math.Pi,
		}
	}
	return out
}
