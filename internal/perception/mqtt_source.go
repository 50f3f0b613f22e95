// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package perception

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/laser_tracker/internal/vision"
)

// MQTTSource receives JSON frames published by the camera process.
type MQTTSource struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
	store   *Store

	malformed atomic.Uint64
}

// NewMQTTSource subscribes to topic. Next waits at most timeout for a frame.
func NewMQTTSource(client mqtt.Client, topic string, timeout time.Duration) (*MQTTSource, error) {
	s := &MQTTSource{
		client:  client,
		topic:   topic,
		timeout: timeout,
		store:   NewStore(),
	}
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		s.handle(msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	Logf("perception: subscribed to %s", topic)
	return s, nil
}

func (s *MQTTSource) handle(payload []byte) {
	var f vision.Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		if s.malformed.Add(1)%50 == 1 {
			Logf("perception: frame unmarshal error: %v", err)
		}
		return
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	s.store.Put(f)
}

// Next implements the loop source.
func (s *MQTTSource) Next(ctx context.Context) (vision.Frame, bool, error) {
	return s.store.Next(ctx, s.timeout)
}

// Stats reports received, overwritten and malformed frame counts.
func (s *MQTTSource) Stats() (received, dropped, malformed uint64) {
	received, dropped = s.store.Stats()
	return received, dropped, s.malformed.Load()
}

// Close unsubscribes. The client stays connected.
func (s *MQTTSource) Close() error {
	token := s.client.Unsubscribe(s.topic)
	if !token.WaitTimeout(time.Second) {
		return fmt.Errorf("unsubscribe %s: timeout", s.topic)
	}
	return token.Error()
}
