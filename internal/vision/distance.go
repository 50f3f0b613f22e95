// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package vision

// PinholeConfig describes the physical marker and the camera focal length
// for the linear distance approximation.
type PinholeConfig struct {
	MarkerWidthMM  float64
	MarkerHeightMM float64
	FocalLengthPx  float64
	MinMM          float64
	MaxMM          float64
	SensorWidth    int
	SensorHeight   int
}

// DefaultPinholeConfig is an A4 sheet seen by the 500 px lens on an 800x480 sensor.
func DefaultPinholeConfig() PinholeConfig {
	return PinholeConfig{
		MarkerWidthMM:  210,
		MarkerHeightMM: 297,
		FocalLengthPx:  500,
		MinMM:          500,
		MaxMM:          1600,
		SensorWidth:    800,
		SensorHeight:   480,
	}
}

// Distance is the estimated range to the marker and the marker centre
// offset from the optical axis, all in millimetres.
type Distance struct {
	RangeMM   float64 `json:"range_mm"`
	OffsetXMM float64 `json:"offset_x_mm"`
	OffsetYMM float64 `json:"offset_y_mm"`
}

// EstimateDistance averages the range implied by the marker width and by its
// height, then clamps it. It returns false for a degenerate box or an unset
// focal length.
func EstimateDistance(cfg PinholeConfig, c Candidate) (Distance, bool) {
	if c.Width <= 0 || c.Height <= 0 || cfg.FocalLengthPx <= 0 {
		return Distance{}, false
	}

	byWidth := cfg.MarkerWidthMM * cfg.FocalLengthPx / c.Width
	byHeight := cfg.MarkerHeightMM * cfg.FocalLengthPx / c.Height
	rng := (byWidth + byHeight) / 2
	if cfg.MinMM > 0 && rng < cfg.MinMM {
		rng = cfg.MinMM
	}
	if cfg.MaxMM > 0 && rng > cfg.MaxMM {
		rng = cfg.MaxMM
	}

	center := c.Center()
	dxPx := center.X - float64(cfg.SensorWidth)/2
	dyPx := center.Y - float64(cfg.SensorHeight)/2

	return Distance{
		RangeMM:   rng,
		OffsetXMM: dxPx * cfg.MarkerWidthMM / c.Width,
		OffsetYMM: dyPx * cfg.MarkerHeightMM / c.Height,
	}, true
}
