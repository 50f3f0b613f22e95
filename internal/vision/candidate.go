// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package vision

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind tags a candidate as either a laser spot blob or a marker rectangle.
type Kind int

const (
	KindSpot Kind = iota + 1
	KindMarker
)

func (k Kind) String() string {
	switch k {
	case KindSpot:
		return "spot"
	case KindMarker:
		return "marker"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// MarshalJSON writes the kind as its lowercase name.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON accepts "spot"/"marker" (any case) or the numeric value.
func (k *Kind) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "spot":
			*k = KindSpot
		case "marker":
			*k = KindMarker
		default:
			return fmt.Errorf("unknown candidate kind %q", name)
		}
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*k = Kind(n)
	return nil
}

// Point is a position in sensor pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Intensity holds the gray-level samples the detector took around a rectangle.
type Intensity struct {
	BorderGray float64 `json:"border_gray"` // mean gray of a thin strip along the top edge
	CenterGray float64 `json:"center_gray"` // mean gray of a small patch at the centre
}

// Candidate is one detector result for a single frame. The core only reads it.
type Candidate struct {
	Kind Kind `json:"kind"`

	X      float64 `json:"x"` // bounding box, top-left
	Y      float64 `json:"y"`
	Width  float64 `json:"w"`
	Height float64 `json:"h"`

	Centroid  *Point     `json:"centroid,omitempty"` // blob centroid, spots only
	Corners   []Point    `json:"corners,omitempty"`
	Area      float64    `json:"area"`
	Magnitude float64    `json:"magnitude,omitempty"`
	Intensity *Intensity `json:"intensity,omitempty"`
}

// Center returns the bounding box centre.
func (c Candidate) Center() Point {
	return Point{X: c.X + c.Width/2, Y: c.Y + c.Height/2}
}

// SpotPoint is the laser spot position: the blob centroid when the detector
// reported one, the box centre otherwise.
func (c Candidate) SpotPoint() Point {
	if c.Centroid != nil {
		return *c.Centroid
	}
	return c.Center()
}

// AimPoint is the marker position the spot should be driven to: the corner
// centroid when the detector supplied four corners, the box centre otherwise.
func (c Candidate) AimPoint() Point {
	if len(c.Corners) != 4 {
		return c.Center()
	}
	var sx, sy float64
	for _, p := range c.Corners {
		sx += p.X
		sy += p.Y
	}
	return Point{X: sx / 4, Y: sy / 4}
}

// AspectRatio returns width/height, or 0 when the height is not positive.
func (c Candidate) AspectRatio() float64 {
	if c.Height <= 0 {
		return 0
	}
	return c.Width / c.Height
}

// BoxArea is the area used for ranking: the detector score when set,
// otherwise width*height.
func (c Candidate) BoxArea() float64 {
	if c.Area > 0 {
		return c.Area
	}
	return c.Width * c.Height
}

// Frame is everything the perception source reports for one camera frame.
type Frame struct {
	Seq       uint64      `json:"seq"`
	Timestamp time.Time   `json:"timestamp"`
	Width     int         `json:"width"`
	Height    int         `json:"height"`
	Spots     []Candidate `json:"spots"`
	Markers   []Candidate `json:"markers"`
}

// Empty reports whether the frame carries no candidates at all.
func (f Frame) Empty() bool {
	return len(f.Spots) == 0 && len(f.Markers) == 0
}
