// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/laser_tracker/internal/config"
	"github.com/relabs-tech/laser_tracker/internal/telemetry"
	"github.com/relabs-tech/laser_tracker/internal/vision"
)

// RunConsoleMQTT prints tracker telemetry and candidate frames to stdout.
func RunConsoleMQTT() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("console: config not initialized")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	// Subscribe to tracker telemetry
	telToken := client.Subscribe(cfg.TopicTelemetry, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var t telemetry.Tick
		if err := json.Unmarshal(msg.Payload(), &t); err != nil {
			log.Printf("console: telemetry unmarshal error: %v", err)
			return
		}
		fmt.Println(formatTick(t))
	})
	telToken.Wait()
	if telToken.Error() != nil {
		return telToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicTelemetry)

	// Subscribe to perception candidates
	candToken := client.Subscribe(cfg.TopicCandidates, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var f vision.Frame
		if err := json.Unmarshal(msg.Payload(), &f); err != nil {
			log.Printf("console: candidates unmarshal error: %v", err)
			return
		}
		fmt.Println(formatFrame(f))
	})
	candToken.Wait()
	if candToken.Error() != nil {
		return candToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicCandidates)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}

func formatTick(t telemetry.Tick) string {
	line := "[TICK]  " + t.String()
	if t.Distance != nil {
		line += fmt.Sprintf(" range=%.0fmm", t.Distance.RangeMM)
	}
	if t.TxError != "" {
		line += " tx_error=" + t.TxError
	}
	return line
}

func formatFrame(f vision.Frame) string {
	return fmt.Sprintf("[CAND]  frame=%d %dx%d spots=%d markers=%d",
		f.Seq, f.Width, f.Height, len(f.Spots), len(f.Markers))
}
