package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateDistance(t *testing.T) {
	cfg := DefaultPinholeConfig()

	// 105 px wide, 148.5 px tall => both edges imply 1000 mm.
	c := Candidate{X: 400 - 52.5, Y: 240 - 74.25, Width: 105, Height: 148.5}
	d, ok := EstimateDistance(cfg, c)
	assert.True(t, ok)
	assert.InDelta(t, 1000, d.RangeMM, 1e-9)
	assert.InDelta(t, 0, d.OffsetXMM, 1e-9)
	assert.InDelta(t, 0, d.OffsetYMM, 1e-9)
}

func TestEstimateDistance_Clamped(t *testing.T) {
	cfg := DefaultPinholeConfig()

	near, ok := EstimateDistance(cfg, Candidate{Width: 600, Height: 600})
	assert.True(t, ok)
	assert.Equal(t, cfg.MinMM, near.RangeMM)

	far, ok := EstimateDistance(cfg, Candidate{Width: 10, Height: 10})
	assert.True(t, ok)
	assert.Equal(t, cfg.MaxMM, far.RangeMM)
}

func TestEstimateDistance_Offset(t *testing.T) {
	cfg := DefaultPinholeConfig()
	c := Candidate{X: 500 - 52.5, Y: 240 - 74.25, Width: 105, Height: 148.5}
	d, ok := EstimateDistance(cfg, c)
	assert.True(t, ok)
	// 100 px right of centre at 2 mm/px.
	assert.InDelta(t, 200, d.OffsetXMM, 1e-9)
}

func TestEstimateDistance_Degenerate(t *testing.T) {
	_, ok := EstimateDistance(DefaultPinholeConfig(), Candidate{Width: 0, Height: 10})
	assert.False(t, ok)

	cfg := DefaultPinholeConfig()
	cfg.FocalLengthPx = 0
	_, ok = EstimateDistance(cfg, Candidate{Width: 10, Height: 10})
	assert.False(t, ok)
}
