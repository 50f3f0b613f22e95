// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/laser_tracker/internal/config"
	"github.com/relabs-tech/laser_tracker/internal/telemetry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboard is served from the tracker host itself
	},
}

const (
	wsWriteWait  = 2 * time.Second
	wsClientBuf  = 16
	historyLimit = 1000
)

// tickHistory is the read side of the SQLite recorder.
type tickHistory interface {
	Recent(n int) ([]telemetry.Row, error)
}

// telemetryHub holds the latest tick from MQTT and fans raw payloads out to
// websocket clients.
type telemetryHub struct {
	latest  telemetry.Latest
	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

func newTelemetryHub() *telemetryHub {
	return &telemetryHub{clients: make(map[chan []byte]struct{})}
}

// publish decodes one telemetry payload. Slow clients miss ticks rather than
// holding up the others.
func (h *telemetryHub) publish(payload []byte) error {
	var t telemetry.Tick
	if err := json.Unmarshal(payload, &t); err != nil {
		return err
	}
	h.latest.Record(t)

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c <- payload:
		default:
		}
	}
	return nil
}

func (h *telemetryHub) subscribe() (<-chan []byte, func()) {
	c := make(chan []byte, wsClientBuf)
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c, func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
	}
}

func (h *telemetryHub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// handler serves the dashboard API. history may be nil.
func (h *telemetryHub) handler(history tickHistory, staticDir string) http.Handler {
	mux := http.NewServeMux()

	// JSON API endpoint: latest tick
	mux.HandleFunc("/api/telemetry", func(w http.ResponseWriter, r *http.Request) {
		t, ok := h.latest.Get()
		if !ok {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(t); err != nil {
			log.Printf("web: json encode error: %v", err)
		}
	})

	mux.HandleFunc("/api/history", func(w http.ResponseWriter, r *http.Request) {
		if history == nil {
			http.Error(w, "recording disabled", http.StatusNotFound)
			return
		}
		n := 100
		if s := r.URL.Query().Get("n"); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v <= 0 {
				http.Error(w, "invalid n", http.StatusBadRequest)
				return
			}
			n = min(v, historyLimit)
		}
		rows, err := history.Recent(n)
		if err != nil {
			log.Printf("web: history query: %v", err)
			http.Error(w, "history unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(rows); err != nil {
			log.Printf("web: json encode error: %v", err)
		}
	})

	mux.HandleFunc("/ws", h.serveWS)

	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return mux
}

// serveWS streams every telemetry payload to the client until it goes away.
func (h *telemetryHub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ticks, unsubscribe := h.subscribe()
	defer unsubscribe()

	// Reads only detect the close; the dashboard sends nothing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("web: websocket error: %v", err)
				}
				return
			}
		}
	}()

	if t, ok := h.latest.Get(); ok {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(t); err != nil {
			return
		}
	}

	for {
		select {
		case <-gone:
			return
		case payload := <-ticks:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}

// RunWeb serves the tracker dashboard from MQTT telemetry.
func RunWeb() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("web: config not initialized")
	}
	hub := newTelemetryHub()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDWeb)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("web: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicTelemetry, 0, func(_ mqtt.Client, msg mqtt.Message) {
		if err := hub.publish(msg.Payload()); err != nil {
			log.Printf("web: telemetry unmarshal error: %v", err)
		}
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: subscribed to %s", cfg.TopicTelemetry)

	var history tickHistory
	if cfg.RecordDBPath != "" {
		rec, err := telemetry.OpenRecorder(cfg.RecordDBPath)
		if err != nil {
			return err
		}
		defer rec.Close()
		history = rec
	}

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web: server listening on %s", addr)
	return http.ListenAndServe(addr, hub.handler(history, "web"))
}
