// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/laser_tracker/internal/config"
	"github.com/relabs-tech/laser_tracker/internal/perception"
)

// RunPerceptionMock publishes synthetic orbit frames on the candidates topic
// so the tracker can run on a bench without the camera process.
func RunPerceptionMock() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("perception: config not initialized")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDPerception)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("perception: connected to MQTT broker at %s", cfg.MQTTBroker)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	o := perception.NewOrbit()
	o.Width, o.Height = cfg.SensorWidth, cfg.SensorHeight
	log.Printf("perception: publishing %dx%d orbit frames to %s every %v",
		o.Width, o.Height, cfg.TopicCandidates, o.Interval)

	n, err := publishFrames(ctx, client, cfg.TopicCandidates, o)
	log.Printf("perception: stopped after %d frames", n)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// publishFrames drains src into topic until ctx ends. Publish failures are
// logged and skipped.
func publishFrames(ctx context.Context, client mqtt.Client, topic string, src *perception.Orbit) (uint64, error) {
	var n uint64
	for {
		f, ok, err := src.Next(ctx)
		if err != nil {
			return n, err
		}
		if !ok {
			continue
		}
		b, err := json.Marshal(f)
		if err != nil {
			log.Printf("perception: marshal frame %d: %v", f.Seq, err)
			continue
		}
		token := client.Publish(topic, 0, false, b)
		if token.WaitTimeout(time.Second) && token.Error() != nil {
			log.Printf("perception: publish frame %d: %v", f.Seq, token.Error())
			continue
		}
		n++
	}
}
