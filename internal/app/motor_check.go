// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/laser_tracker/internal/config"
	"github.com/relabs-tech/laser_tracker/internal/loop"
	"github.com/relabs-tech/laser_tracker/internal/perception"
)

// motorCheck describes the bench exercise: one swing to Angles, then a circle
// of CircleRadiusMM projected on a wall CircleDistanceMM away.
type motorCheck struct {
	Angles           [2]float64
	Hold             time.Duration
	CircleRadiusMM   float64
	CircleDistanceMM float64
	CircleSteps      int
	StepInterval     time.Duration
}

func defaultMotorCheck() motorCheck {
	l := loop.DefaultConfig()
	return motorCheck{
		Angles:           l.CheckAngles,
		Hold:             l.CheckHold,
		CircleRadiusMM:   100,
		CircleDistanceMM: 1000,
		CircleSteps:      73,
		StepInterval:     50 * time.Millisecond,
	}
}

// RunMotorCheck drives the actuator through the bench exercise without any
// perception, then parks it.
func RunMotorCheck() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("motor check: config not initialized")
	}
	tx, err := openActuator(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mc := defaultMotorCheck()
	mc.StepInterval = max(mc.StepInterval, tx.Config().MinInterval)
	return mc.run(ctx, tx)
}

// run always ends with a stop frame and closes act.
func (mc motorCheck) run(ctx context.Context, act loop.Actuator) (err error) {
	defer func() {
		if stopErr := act.SendStop(); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("stop frame: %w", stopErr))
		}
		if closeErr := act.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	log.Printf("motor check: moving to (%.1f, %.1f)", mc.Angles[0], mc.Angles[1])
	if _, err := act.Send(mc.Angles[0], mc.Angles[1], time.Now()); err != nil {
		return err
	}
	if !sleepCtx(ctx, mc.Hold) {
		return nil
	}
	if err := act.SendStop(); err != nil {
		return err
	}

	scan := perception.ScanAngles(mc.CircleRadiusMM, mc.CircleDistanceMM, mc.CircleSteps)
	log.Printf("motor check: tracing %.0f mm circle at %.0f mm (%d points)",
		mc.CircleRadiusMM, mc.CircleDistanceMM, len(scan))
	for _, a := range scan {
		if !sleepCtx(ctx, mc.StepInterval) {
			return nil
		}
		if _, err := act.Send(a[0], a[1], time.Now()); err != nil {
			return err
		}
	}
	log.Printf("motor check: done, sent=%d", act.Stats().Sent)
	return nil
}

// sleepCtx waits d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
