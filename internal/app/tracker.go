// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/laser_tracker/internal/config"
	"github.com/relabs-tech/laser_tracker/internal/estimator"
	"github.com/relabs-tech/laser_tracker/internal/loop"
	"github.com/relabs-tech/laser_tracker/internal/perception"
	"github.com/relabs-tech/laser_tracker/internal/pid"
	"github.com/relabs-tech/laser_tracker/internal/protocol"
	"github.com/relabs-tech/laser_tracker/internal/serialport"
	"github.com/relabs-tech/laser_tracker/internal/telemetry"
	"github.com/relabs-tech/laser_tracker/internal/vision"
)

// RunTracker runs the control loop until SIGINT, SIGTERM or the stop button.
func RunTracker() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("tracker: config not initialized")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tx, err := openActuator(cfg)
	if err != nil {
		return err
	}
	log.Printf("tracker: actuator on %s (%s layout)", cfg.SerialPort, tx.Config().Layout)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDTracker).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		tx.Close()
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("tracker: connected to MQTT broker at %s", cfg.MQTTBroker)

	src, closeSrc, err := newSource(cfg, client)
	if err != nil {
		tx.Close()
		return err
	}
	defer closeSrc()

	pub := telemetry.NewPublisher(client, cfg.TopicTelemetry, telemetry.DefaultBuffer)
	defer pub.Close()
	sinks := []telemetry.Sink{telemetry.LogSink{Every: uint64(cfg.LogEveryNTicks)}, pub}

	if cfg.RecordDBPath != "" {
		rec, err := telemetry.OpenRecorder(cfg.RecordDBPath)
		if err != nil {
			tx.Close()
			return err
		}
		defer rec.Close()
		sinks = append(sinks, rec)
		log.Printf("tracker: recording ticks to %s", cfg.RecordDBPath)
	}

	driver, err := newDriver(cfg, src, tx, sinks...)
	if err != nil {
		tx.Close()
		return err
	}

	if cfg.StopButtonPin != "" {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := watchStopButton(runCtx, cfg.StopButtonPin, cancel); err != nil {
			log.Printf("tracker: stop button disabled: %v", err)
		}
		ctx = runCtx
	}

	err = driver.Run(ctx)
	s := driver.Stats()
	log.Printf("tracker: done, ticks=%d frames=%d controlled=%d tx_errors=%d dropped_telemetry=%d",
		s.Ticks, s.Frames, s.Controlled, s.TxErrors, pub.Dropped())
	return err
}

// openActuator opens the UART(s) and wraps them in a transmitter. A split
// layout without SERIAL_PORT_AXIS2 sends both axes down the primary port.
func openActuator(cfg *config.Config) (*protocol.Transmitter, error) {
	txCfg, err := cfg.TransmitterConfig()
	if err != nil {
		return nil, err
	}

	axis1, err := serialport.Open(cfg.SerialOptions())
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.SerialPort, err)
	}

	var axis2 io.Writer
	if o, ok := cfg.Axis2SerialOptions(); ok && txCfg.Layout == protocol.LayoutSplit {
		p, err := serialport.Open(o)
		if err != nil {
			axis1.Close()
			return nil, fmt.Errorf("open serial %s: %w", o.PortName, err)
		}
		axis2 = p
	}

	tx, err := protocol.NewTransmitter(txCfg, axis1, axis2)
	if err != nil {
		axis1.Close()
		if c, ok := axis2.(io.Closer); ok {
			c.Close()
		}
		return nil, err
	}
	return tx, nil
}

// newSource picks the frame source named by PERCEPTION_SOURCE. The returned
// func releases it.
func newSource(cfg *config.Config, client mqtt.Client) (loop.Source, func(), error) {
	switch cfg.PerceptionSource {
	case "orbit":
		o := perception.NewOrbit()
		o.Width, o.Height = cfg.SensorWidth, cfg.SensorHeight
		log.Printf("tracker: using synthetic orbit source %dx%d", o.Width, o.Height)
		return o, func() {}, nil
	default:
		s, err := perception.NewMQTTSource(client, cfg.TopicCandidates, cfg.FrameTimeout())
		if err != nil {
			return nil, nil, err
		}
		log.Printf("tracker: subscribed to %s", cfg.TopicCandidates)
		return s, func() {
			received, dropped, malformed := s.Stats()
			log.Printf("tracker: frames received=%d dropped=%d malformed=%d", received, dropped, malformed)
			s.Close()
		}, nil
	}
}

// newDriver builds the pipeline stages from cfg around a source and actuator.
func newDriver(cfg *config.Config, src loop.Source, act loop.Actuator, sinks ...telemetry.Sink) (*loop.Driver, error) {
	est, err := estimator.New(cfg.EstimatorAlpha())
	if err != nil {
		return nil, err
	}
	pc, err := cfg.PIDConfig()
	if err != nil {
		return nil, err
	}
	ctrl, err := pid.New(pc)
	if err != nil {
		return nil, err
	}
	return loop.New(cfg.LoopConfig(), loop.Components{
		Source:     src,
		Filter:     vision.NewFilter(cfg.FilterConfig()),
		Estimator:  est,
		Controller: ctrl,
		Actuator:   act,
	}, sinks...)
}
