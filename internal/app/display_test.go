package app

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"

	"github.com/relabs-tech/laser_tracker/internal/estimator"
	"github.com/relabs-tech/laser_tracker/internal/protocol"
	"github.com/relabs-tech/laser_tracker/internal/telemetry"
	"github.com/relabs-tech/laser_tracker/internal/vision"
)

func TestStatusLines(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		tick telemetry.Tick
		ok   bool
		want []string
	}{
		{
			name: "no telemetry yet",
			want: splashLines(),
		},
		{
			name: "stale",
			tick: telemetry.Tick{Seq: 12, Time: now.Add(-5 * time.Second)},
			ok:   true,
			want: []string{"Tracker", "no telemetry", "last #12"},
		},
		{
			name: "searching",
			tick: telemetry.Tick{
				Seq: 5, Time: now, State: "estimating",
				Spot:    estimator.Estimate{Valid: true, MissedTicks: 3},
				TxStats: protocol.Stats{Sent: 4, Failed: 1},
			},
			ok:   true,
			want: []string{"#5 estimating", "spot:   hold 3", "marker: --", "tx 4 err 1"},
		},
		{
			name: "controlling",
			tick: telemetry.Tick{
				Seq: 9, Time: now, Controlled: true, Sent: true,
				ErrX: 120, ErrY: -8, Band: "large", Pulses1: -1500, Pulses2: 42,
			},
			ok:   true,
			want: []string{"E  +120    -8", "large  sent", "P  -1500", "      42"},
		},
		{
			name: "controlling with range and tx error",
			tick: telemetry.Tick{
				Seq: 9, Time: now, Controlled: true, TxError: "boom", Band: "small",
				Distance: &vision.Distance{RangeMM: 950},
			},
			ok:   true,
			want: []string{"E    +0    +0", "small   950mm", "P      0", "       0"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusLines(tt.tick, tt.ok, now))
		})
	}
}

func TestSentMark(t *testing.T) {
	assert.Equal(t, "TXERR", sentMark(telemetry.Tick{TxError: "x", Sent: true}))
	assert.Equal(t, "sent", sentMark(telemetry.Tick{Sent: true}))
	assert.Equal(t, "held", sentMark(telemetry.Tick{}))
}

func TestRenderLines(t *testing.T) {
	blank := renderLines(nil)
	require.Equal(t, 128, blank.Bounds().Dx())
	require.Equal(t, 64, blank.Bounds().Dy())
	assert.Equal(t, 0, litBytes(blank.Pix))

	img := renderLines([]string{"Laser Tracker"})
	assert.Positive(t, litBytes(img.Pix))

	// Lines past the fourth do not fit and are dropped.
	four := renderLines([]string{"a", "b", "c", "d"})
	five := renderLines([]string{"a", "b", "c", "d", strings.Repeat("W", 18)})
	assert.Equal(t, four.Pix, five.Pix)
}

func litBytes(pix []byte) int {
	n := 0
	for _, b := range pix {
		if b != 0 {
			n++
		}
	}
	return n
}

func TestAddrBus_RewritesAddress(t *testing.T) {
	rec := &i2ctest.Record{}
	b := &addrBus{Bus: rec, addr: 0x3D}
	require.NoError(t, b.Tx(0x3C, []byte{0x00, 0xAE}, nil))
	require.Len(t, rec.Ops, 1)
	assert.Equal(t, uint16(0x3D), rec.Ops[0].Addr)
	assert.Equal(t, []byte{0x00, 0xAE}, rec.Ops[0].W)
	assert.Equal(t, "record", b.String())
}
