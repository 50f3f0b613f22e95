package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/laser_tracker/internal/serialport"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func mute(t *testing.T) {
	t.Helper()
	orig := Logf
	Logf = func(string, ...interface{}) {}
	t.Cleanup(func() { Logf = orig })
}

func TestSend_CombinedFrame(t *testing.T) {
	port := serialport.NewTestPort()
	tx, err := NewTransmitter(DefaultConfig(), port, nil)
	require.NoError(t, err)

	sent, err := tx.Send(12.5, -3, t0)
	require.NoError(t, err)
	assert.True(t, sent)

	// Axis 1 is reversed by default.
	want := EncodeFrame(0x01, -1250, -300)
	if diff := cmp.Diff(want, port.LastFrame()); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
}

func TestSend_RateLimit(t *testing.T) {
	port := serialport.NewTestPort()
	tx, err := NewTransmitter(DefaultConfig(), port, nil)
	require.NoError(t, err)

	sent, err := tx.Send(1, 1, t0)
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = tx.Send(2, 2, t0.Add(10*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Len(t, port.Frames(), 1)

	sent, err = tx.Send(3, 3, t0.Add(20*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Len(t, port.Frames(), 2)

	assert.Equal(t, Stats{Sent: 2, Skipped: 1}, tx.Stats())
}

func TestSend_FailureDoesNotAdvanceLimiter(t *testing.T) {
	port := serialport.NewTestPort()
	tx, err := NewTransmitter(DefaultConfig(), port, nil)
	require.NoError(t, err)

	boom := errors.New("uart gone")
	port.WriteError = boom
	sent, err := tx.Send(1, 1, t0)
	assert.False(t, sent)
	assert.ErrorIs(t, err, boom)

	// Retry right away is allowed since nothing went out.
	sent, err = tx.Send(1, 1, t0.Add(time.Millisecond))
	require.NoError(t, err)
	assert.True(t, sent)

	assert.Equal(t, Stats{Sent: 1, Failed: 1}, tx.Stats())
}

func TestSend_ShortWrite(t *testing.T) {
	tx, err := NewTransmitter(DefaultConfig(), shortWriter{}, nil)
	require.NoError(t, err)
	_, err = tx.Send(1, 1, t0)
	assert.Error(t, err)
	assert.Equal(t, uint64(1), tx.Stats().Failed)
}

type shortWriter struct{}

func (shortWriter) Write(b []byte) (int, error) { return len(b) - 1, nil }

func TestSendStop_BypassesRateLimit(t *testing.T) {
	mute(t)
	port := serialport.NewTestPort()
	cfg := DefaultConfig()
	cfg.MinInterval = time.Hour
	tx, err := NewTransmitter(cfg, port, nil)
	require.NoError(t, err)

	_, err = tx.Send(5, 5, time.Now())
	require.NoError(t, err)
	require.NoError(t, tx.SendStop())

	frames := port.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, StopFrame(0x01), frames[1])
}

func TestSend_SplitLayout(t *testing.T) {
	yaw := serialport.NewTestPort()
	pitch := serialport.NewTestPort()
	cfg := DefaultConfig()
	cfg.Layout = LayoutSplit
	cfg.Reverse1 = false
	cfg.Reverse2 = true
	tx, err := NewTransmitter(cfg, yaw, pitch)
	require.NoError(t, err)

	sent, err := tx.Send(30, 15, t0)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, [][]byte{EncodeAxisFrame(0x01, 3000)}, yaw.Frames())
	assert.Equal(t, [][]byte{EncodeAxisFrame(0x02, -1500)}, pitch.Frames())

	// Each channel is limited on its own: a failed pitch write leaves the
	// pitch channel free to retry while yaw is still inside its interval.
	pitch.WriteError = errors.New("busy")
	_, err = tx.Send(1, 1, t0.Add(25*time.Millisecond))
	assert.Error(t, err)
	sent, err = tx.Send(2, 2, t0.Add(30*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Len(t, yaw.Frames(), 2)
	assert.Len(t, pitch.Frames(), 2)

	require.NoError(t, tx.SendStop())
	assert.Equal(t, EncodeAxisFrame(0x01, 0), yaw.LastFrame())
	assert.Equal(t, EncodeAxisFrame(0x02, 0), pitch.LastFrame())
}

func TestSplitLayout_SharedPort(t *testing.T) {
	port := serialport.NewTestPort()
	cfg := DefaultConfig()
	cfg.Layout = LayoutSplit
	tx, err := NewTransmitter(cfg, port, nil)
	require.NoError(t, err)

	_, err = tx.Send(1, 2, t0)
	require.NoError(t, err)
	assert.Len(t, port.Frames(), 2)

	require.NoError(t, tx.Close())
	assert.True(t, port.Closed())
}

func TestSendStop_ReportsFailure(t *testing.T) {
	mute(t)
	port := serialport.NewTestPort()
	port.FailWrites = errors.New("dead")
	tx, err := NewTransmitter(DefaultConfig(), port, nil)
	require.NoError(t, err)
	assert.Error(t, tx.SendStop())
	assert.Equal(t, uint64(1), tx.Stats().Failed)
}

func TestNewTransmitter_Validation(t *testing.T) {
	_, err := NewTransmitter(DefaultConfig(), nil, nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.StepsPerDegree = 0
	_, err = NewTransmitter(cfg, serialport.NewTestPort(), nil)
	assert.Error(t, err)
}

func TestParseLayout(t *testing.T) {
	l, err := ParseLayout("Split")
	require.NoError(t, err)
	assert.Equal(t, LayoutSplit, l)
	_, err = ParseLayout("triple")
	assert.Error(t, err)
}

func TestSendStop_DoesNotMoveLimiter(t *testing.T) {
	port := serialport.NewTestPort()
	tx, err := NewTransmitter(DefaultConfig(), port, nil)
	require.NoError(t, err)

	// t0 lies well before the wall clock; a stop frame must not push the
	// caller's next send into the future.
	_, err = tx.Send(1, 1, t0)
	require.NoError(t, err)
	require.NoError(t, tx.SendStop())

	sent, err := tx.Send(2, 2, t0.Add(25*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Len(t, port.Frames(), 3)
}

// funcWriter has a func field, so its dynamic type is not comparable.
type funcWriter struct {
	onClose func()
}

func (funcWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w funcWriter) Close() error {
	w.onClose()
	return nil
}

func TestClose_UncomparableTransports(t *testing.T) {
	closed := 0
	w := funcWriter{onClose: func() { closed++ }}
	cfg := DefaultConfig()
	cfg.Layout = LayoutSplit
	tx, err := NewTransmitter(cfg, w, w)
	require.NoError(t, err)

	assert.NotPanics(t, func() { require.NoError(t, tx.Close()) })
	assert.Equal(t, 2, closed)
}

type countingPort struct {
	closes int
}

func (p *countingPort) Write(b []byte) (int, error) { return len(b), nil }
func (p *countingPort) Close() error {
	p.closes++
	return nil
}

func TestClose_SameTransportTwice(t *testing.T) {
	port := &countingPort{}
	cfg := DefaultConfig()
	cfg.Layout = LayoutSplit
	tx, err := NewTransmitter(cfg, port, port)
	require.NoError(t, err)

	require.NoError(t, tx.Close())
	assert.Equal(t, 1, port.closes)
}
