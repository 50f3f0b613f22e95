// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultBuffer is the publisher queue depth, about one second of ticks.
const DefaultBuffer = 128

// Publisher sends ticks to an MQTT topic from its own goroutine. Record never
// blocks: when the queue is full the tick is dropped and counted.
type Publisher struct {
	client mqtt.Client
	topic  string

	queue   chan Tick
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewPublisher starts the publishing goroutine.
func NewPublisher(client mqtt.Client, topic string, buffer int) *Publisher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	p := &Publisher{
		client: client,
		topic:  topic,
		queue:  make(chan Tick, buffer),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Publisher) Record(t Tick) {
	select {
	case p.queue <- t:
	default:
		if p.dropped.Add(1)%100 == 1 {
			Logf("telemetry: publish queue full, %d ticks dropped so far", p.dropped.Load())
		}
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for t := range p.queue {
		payload, err := json.Marshal(t)
		if err != nil {
			p.failed.Add(1)
			Logf("telemetry: marshal error: %v", err)
			continue
		}
		token := p.client.Publish(p.topic, 0, false, payload)
		if !token.WaitTimeout(time.Second) || token.Error() != nil {
			p.failed.Add(1)
			if p.failed.Load()%100 == 1 {
				Logf("telemetry: publish to %s failed: %v", p.topic, token.Error())
			}
		}
	}
}

// Dropped counts ticks discarded because the queue was full.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Failed counts ticks that could not be marshalled or published.
func (p *Publisher) Failed() uint64 { return p.failed.Load() }

// Close stops accepting ticks and waits for the queue to drain.
// Record must not be called after Close.
func (p *Publisher) Close() error {
	p.once.Do(func() { close(p.queue) })
	<-p.done
	return nil
}
