// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// stopPoll bounds how long WaitForEdge blocks before ctx is checked again.
const stopPoll = 200 * time.Millisecond

// watchStopButton arms the named GPIO as an active-low push button that
// cancels the run when pressed.
func watchStopButton(ctx context.Context, name string, cancel context.CancelFunc) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("stop button: periph host init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return fmt.Errorf("stop button: pin %q not found", name)
	}
	if err := p.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return fmt.Errorf("stop button: configure %s: %w", name, err)
	}
	log.Printf("tracker: stop button armed on %s", p)
	go waitForPress(ctx, p, cancel)
	return nil
}

func waitForPress(ctx context.Context, p gpio.PinIn, cancel context.CancelFunc) {
	for ctx.Err() == nil {
		if !p.WaitForEdge(stopPoll) {
			continue
		}
		if p.Read() == gpio.Low {
			log.Printf("tracker: stop button pressed on %s", p)
			cancel()
			return
		}
	}
}
