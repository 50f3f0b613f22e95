package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/laser_tracker/internal/telemetry"
)

type fakeHistory struct {
	rows  []telemetry.Row
	err   error
	asked int
}

func (h *fakeHistory) Recent(n int) ([]telemetry.Row, error) {
	h.asked = n
	return h.rows, h.err
}

func tickPayload(t *testing.T, seq uint64) []byte {
	t.Helper()
	b, err := json.Marshal(telemetry.Tick{Seq: seq, State: "transmitting", Controlled: true, Band: "small"})
	require.NoError(t, err)
	return b
}

func TestHub_TelemetryEndpoint(t *testing.T) {
	hub := newTelemetryHub()
	h := hub.handler(nil, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/telemetry", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, hub.publish(tickPayload(t, 42)))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/telemetry", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got telemetry.Tick
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, uint64(42), got.Seq)
	assert.Equal(t, "small", got.Band)
}

func TestHub_RejectsMalformedPayload(t *testing.T) {
	hub := newTelemetryHub()
	assert.Error(t, hub.publish([]byte("{nope")))
	_, ok := hub.latest.Get()
	assert.False(t, ok)
}

func TestHub_History(t *testing.T) {
	hist := &fakeHistory{rows: []telemetry.Row{{Seq: 9, State: "controlling"}}}
	h := newTelemetryHub().handler(hist, "")

	tests := []struct {
		name  string
		query string
		code  int
		asked int
	}{
		{"default", "", http.StatusOK, 100},
		{"explicit", "?n=5", http.StatusOK, 5},
		{"capped", "?n=99999", http.StatusOK, historyLimit},
		{"bad", "?n=zero", http.StatusBadRequest, 0},
		{"negative", "?n=-1", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hist.asked = 0
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history"+tt.query, nil))
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.asked, hist.asked)
		})
	}

	hist.err = errors.New("db locked")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHub_HistoryDisabled(t *testing.T) {
	rec := httptest.NewRecorder()
	newTelemetryHub().handler(nil, "").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func dialHub(t *testing.T, hub *telemetryHub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(hub.handler(nil, ""))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	return conn
}

func TestHub_WebsocketStreamsTicks(t *testing.T) {
	hub := newTelemetryHub()
	conn := dialHub(t, hub)
	require.Eventually(t, func() bool { return hub.clientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	payload := tickPayload(t, 1)
	require.NoError(t, hub.publish(payload))

	kind, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.JSONEq(t, string(payload), string(msg))

	conn.Close()
	assert.Eventually(t, func() bool { return hub.clientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHub_WebsocketSendsLatestOnConnect(t *testing.T) {
	hub := newTelemetryHub()
	require.NoError(t, hub.publish(tickPayload(t, 77)))

	conn := dialHub(t, hub)
	var got telemetry.Tick
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, uint64(77), got.Seq)
}
