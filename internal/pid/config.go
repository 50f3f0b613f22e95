// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package pid

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrConfig wraps every configuration validation failure.
var ErrConfig = errors.New("invalid pid config")

// Gains is a P/I/D triple. It is used both for the base gains and for the
// per-band multipliers.
type Gains struct {
	P float64 `json:"p"`
	I float64 `json:"i"`
	D float64 `json:"d"`
}

// Scale multiplies each gain by the matching multiplier.
func (g Gains) Scale(m Gains) Gains {
	return Gains{P: g.P * m.P, I: g.I * m.I, D: g.D * m.D}
}

// Metric selects how the two axis errors are reduced to one magnitude for
// band selection.
type Metric int

const (
	MetricMaxAxis Metric = iota
	MetricEuclidean
)

func (m Metric) String() string {
	if m == MetricEuclidean {
		return "euclidean"
	}
	return "max-axis"
}

// ParseMetric converts a config value into a Metric.
func ParseMetric(value string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "max", "max-axis", "max_axis":
		return MetricMaxAxis, nil
	case "euclidean", "norm":
		return MetricEuclidean, nil
	default:
		return MetricMaxAxis, fmt.Errorf("unknown band metric %q", value)
	}
}

// Band names the gain-scheduling regime chosen for a tick.
type Band int

const (
	BandSmall Band = iota
	BandMedium
	BandLarge
)

func (b Band) String() string {
	switch b {
	case BandLarge:
		return "large"
	case BandMedium:
		return "medium"
	default:
		return "small"
	}
}

// Schedule is the gain-scheduling table. Errors above LargeAbove pixels use
// Large, above MediumAbove use Medium, otherwise Small.
type Schedule struct {
	Metric      Metric
	LargeAbove  float64
	MediumAbove float64
	Large       Gains
	Medium      Gains
	Small       Gains
}

// Config holds the controller tuning.
type Config struct {
	Base         Gains
	Schedule     Schedule
	MaxIntegral  float64 // accumulator bound, pixel-seconds
	MaxAngle     float64 // degrees at half the sensor dimension
	SensorWidth  int
	SensorHeight int
	MinDt        time.Duration

	// ClampOutput limits the final angles to ±MaxAngle.
	ClampOutput bool

	// IntegralLeak is a per-second decay rate applied to an axis integral
	// while that axis error is within LeakDeadband pixels.
	IntegralLeak float64
	LeakDeadband float64
}

// DefaultConfig is the single-UART bench tuning.
func DefaultConfig() Config {
	return Config{
		Base: Gains{P: 0.005, I: 0.0005, D: 0.0001},
		Schedule: Schedule{
			Metric:      MetricMaxAxis,
			LargeAbove:  100,
			MediumAbove: 30,
			Large:       Gains{P: 2.0, I: 0.5, D: 0.8},
			Medium:      Gains{P: 1.5, I: 1.0, D: 1.0},
			Small:       Gains{P: 0.8, I: 1.5, D: 1.2},
		},
		MaxIntegral:  20000,
		MaxAngle:     40,
		SensorWidth:  800,
		SensorHeight: 480,
		MinDt:        time.Millisecond,
		ClampOutput:  true,
		IntegralLeak: 2.0,
		LeakDeadband: 0.5,
	}
}

// DualAxisSchedule is the table tuned for the two-UART rig, which bands on
// the euclidean error and drives harder when close.
func DualAxisSchedule() Schedule {
	return Schedule{
		Metric:      MetricEuclidean,
		LargeAbove:  100,
		MediumAbove: 30,
		Large:       Gains{P: 0.8, I: 0.5, D: 1.2},
		Medium:      Gains{P: 1.2, I: 0.8, D: 1.0},
		Small:       Gains{P: 1.5, I: 1.5, D: 0.8},
	}
}

// Validate checks the config. The integral multiplier must not decrease as
// the band gets smaller.
func (c Config) Validate() error {
	if c.MaxIntegral <= 0 {
		return fmt.Errorf("%w: max integral must be > 0", ErrConfig)
	}
	if c.MaxAngle <= 0 {
		return fmt.Errorf("%w: max angle must be > 0", ErrConfig)
	}
	if c.SensorWidth < 2 || c.SensorHeight < 2 {
		return fmt.Errorf("%w: sensor size %dx%d too small", ErrConfig, c.SensorWidth, c.SensorHeight)
	}
	if c.MinDt <= 0 {
		return fmt.Errorf("%w: min dt must be > 0", ErrConfig)
	}
	s := c.Schedule
	if s.MediumAbove < 0 || s.LargeAbove < s.MediumAbove {
		return fmt.Errorf("%w: band thresholds must satisfy 0 <= medium (%v) <= large (%v)",
			ErrConfig, s.MediumAbove, s.LargeAbove)
	}
	if s.Small.I < s.Medium.I || s.Medium.I < s.Large.I {
		return fmt.Errorf("%w: integral multipliers must not decrease toward small errors (large %v, medium %v, small %v)",
			ErrConfig, s.Large.I, s.Medium.I, s.Small.I)
	}
	if c.IntegralLeak < 0 || c.LeakDeadband < 0 {
		return fmt.Errorf("%w: integral leak and deadband must be >= 0", ErrConfig)
	}
	return nil
}
