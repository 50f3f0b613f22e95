// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/laser_tracker/internal/config"
	"github.com/relabs-tech/laser_tracker/internal/telemetry"
)

const (
	displayWidth  = 128
	displayHeight = 64
	lineHeight    = 13
)

// RunDisplay shows the tracker status on an SSD1306 OLED.
func RunDisplay() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("display: config not initialized")
	}

	// Initialize periph
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	// Open I2C bus; empty name picks the first one
	bus, err := i2creg.Open(cfg.DisplayI2CBus)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(&addrBus{Bus: bus, addr: cfg.DisplayI2CAddr}, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Printf("display: initialized at 0x%02X", cfg.DisplayI2CAddr)

	if err := dev.Draw(dev.Bounds(), renderLines(splashLines()), image.Point{}); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	var latest telemetry.Latest

	// Connect to MQTT
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDDisplay)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("display: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicTelemetry, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var t telemetry.Tick
		if err := json.Unmarshal(msg.Payload(), &t); err != nil {
			log.Printf("display: telemetry unmarshal error: %v", err)
			return
		}
		latest.Record(t)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: subscribed to %s", cfg.TopicTelemetry)

	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")

	for range ticker.C {
		t, ok := latest.Get()
		img := renderLines(statusLines(t, ok, time.Now()))
		if err := dev.Draw(dev.Bounds(), img, image.Point{}); err != nil {
			log.Printf("display: error updating display: %v", err)
		}
	}

	return nil
}

// addrBus pins every transaction to addr. The ssd1306 driver always talks to
// 0x3C; modules strapped to 0x3D need the rewrite.
type addrBus struct {
	i2c.Bus
	addr uint16
}

func (b *addrBus) Tx(_ uint16, w, r []byte) error {
	return b.Bus.Tx(b.addr, w, r)
}

func splashLines() []string {
	return []string{"", "Laser Tracker", "Waiting for", "telemetry"}
}

// statusLines lays out up to four 7x13 lines for one tick. A tick older than
// two seconds means the tracker has stopped publishing.
func statusLines(t telemetry.Tick, ok bool, now time.Time) []string {
	if !ok {
		return splashLines()
	}
	if now.Sub(t.Time) > 2*time.Second {
		return []string{"Tracker", "no telemetry", fmt.Sprintf("last #%d", t.Seq)}
	}
	if !t.Controlled {
		return []string{
			fmt.Sprintf("#%d %s", t.Seq%100000, shortState(t.State)),
			"spot:   " + seen(t.Spot.Valid, t.Spot.MissedTicks),
			"marker: " + seen(t.Marker.Valid, t.Marker.MissedTicks),
			fmt.Sprintf("tx %d err %d", t.TxStats.Sent, t.TxStats.Failed),
		}
	}
	lines := []string{
		fmt.Sprintf("E %+5.0f %+5.0f", t.ErrX, t.ErrY),
		fmt.Sprintf("%-6s %s", t.Band, sentMark(t)),
		fmt.Sprintf("P %6d", t.Pulses1),
		fmt.Sprintf("  %6d", t.Pulses2),
	}
	if t.Distance != nil {
		lines[1] = fmt.Sprintf("%-6s %4.0fmm", t.Band, t.Distance.RangeMM)
	}
	return lines
}

func shortState(s string) string {
	if len(s) > 10 {
		return s[:10]
	}
	return s
}

func seen(valid bool, missed int) string {
	switch {
	case !valid:
		return "--"
	case missed == 0:
		return "ok"
	default:
		return fmt.Sprintf("hold %d", missed)
	}
}

func sentMark(t telemetry.Tick) string {
	switch {
	case t.TxError != "":
		return "TXERR"
	case t.Sent:
		return "sent"
	default:
		return "held"
	}
}

// renderLines draws text lines on a blank 128x64 frame.
func renderLines(lines []string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayWidth, displayHeight))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		if (i+1)*lineHeight > displayHeight {
			break
		}
		drawer.Dot = fixed.P(0, (i+1)*lineHeight)
		drawer.DrawBytes([]byte(line))
	}
	return img
}
