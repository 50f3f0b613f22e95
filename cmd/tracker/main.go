// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"log"

	"github.com/relabs-tech/laser_tracker/internal/app"
	"github.com/relabs-tech/laser_tracker/internal/config"
)

func main() {
	log.Println("starting laser-tracker control loop")

	// Load configuration
	if err := config.InitGlobal(config.DefaultPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	log.Println("Note: set SERIAL_PORT=mock to run without the actuator attached")

	if err := app.RunTracker(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
