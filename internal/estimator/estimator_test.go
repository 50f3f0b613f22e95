package estimator

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/laser_tracker/internal/vision"
)

func pt(x, y float64) *vision.Point { return &vision.Point{X: x, Y: y} }

func TestNew_RejectsBadAlpha(t *testing.T) {
	for _, a := range []float64{0, -0.1, 1.01, math.NaN()} {
		_, err := New(a)
		assert.ErrorIs(t, err, ErrAlpha, "alpha=%v", a)
	}
	_, err := New(1)
	assert.NoError(t, err)
}

func TestUpdate_Uninitialised(t *testing.T) {
	e, err := New(DefaultAlpha)
	require.NoError(t, err)

	spot, marker := e.Update(nil, nil)
	assert.False(t, spot.Valid)
	assert.False(t, marker.Valid)
	assert.Zero(t, spot.MissedTicks)
}

func TestUpdate_FirstDetectionInitialisesDirectly(t *testing.T) {
	e, err := New(DefaultAlpha)
	require.NoError(t, err)

	spot, _ := e.Update(pt(120, 80), nil)
	assert.True(t, spot.Valid)
	assert.True(t, spot.Fresh)
	assert.Equal(t, 120.0, spot.X)
	assert.Equal(t, 80.0, spot.Y)
}

func TestUpdate_Blend(t *testing.T) {
	e, err := New(0.7)
	require.NoError(t, err)

	e.Update(pt(100, 100), nil)
	spot, _ := e.Update(pt(200, 0), nil)
	assert.InDelta(t, 170, spot.X, 1e-9)
	assert.InDelta(t, 30, spot.Y, 1e-9)
}

func TestUpdate_HoldIsIdempotent(t *testing.T) {
	e, err := New(DefaultAlpha)
	require.NoError(t, err)

	e.Update(pt(10, 20), pt(400, 240))
	e.Update(pt(14, 22), pt(402, 238))
	held := e.Spot()

	for i := 1; i <= 25; i++ {
		spot, marker := e.Update(nil, nil)
		assert.Equal(t, held.X, spot.X)
		assert.Equal(t, held.Y, spot.Y)
		assert.False(t, spot.Fresh)
		assert.Equal(t, i, spot.MissedTicks)
		assert.Equal(t, i, marker.MissedTicks)
		assert.Equal(t, held.Updates, spot.Updates)
	}

	assert.True(t, e.Spot().Stale(20))
	assert.False(t, e.Spot().Stale(0))
}

func TestUpdate_Convergence(t *testing.T) {
	e, err := New(0.7)
	require.NoError(t, err)

	e.Update(pt(0, 0), nil)
	target := vision.Point{X: 300, Y: -150}

	var spot Estimate
	for i := 0; i < 3; i++ {
		spot, _ = e.Update(&target, nil)
	}
	// Each blend keeps 30% of the remaining offset.
	assert.LessOrEqual(t, math.Abs(spot.X-target.X), math.Pow(0.3, 3)*300+1e-6)

	for i := 0; i < 2; i++ {
		spot, _ = e.Update(&target, nil)
	}
	assert.Less(t, math.Abs(spot.X-target.X)/300, 0.01)
	assert.Less(t, math.Abs(spot.Y-target.Y)/150, 0.01)
}

func TestUpdate_ConvergesWithinThreeTicksFromFirstDetection(t *testing.T) {
	e, err := New(0.7)
	require.NoError(t, err)

	// One blend leaves 9 px of offset; three more leave 9*0.027 px.
	e.Update(pt(100, 100), nil)
	e.Update(pt(130, 130), nil)
	var spot Estimate
	for i := 0; i < 3; i++ {
		spot, _ = e.Update(pt(130, 130), nil)
	}
	assert.Less(t, math.Abs(spot.X-130), 0.01*130)
}

func TestUpdate_DetectionClearsMissed(t *testing.T) {
	e, err := New(DefaultAlpha)
	require.NoError(t, err)

	e.Update(pt(1, 1), nil)
	e.Update(nil, nil)
	e.Update(nil, nil)
	spot, _ := e.Update(pt(1, 1), nil)

	want := Estimate{X: 1, Y: 1, Valid: true, Fresh: true, MissedTicks: 0, Updates: 2}
	if diff := cmp.Diff(want, spot); diff != "" {
		t.Errorf("estimate mismatch (-want +got):\n%s", diff)
	}
}

func TestReset(t *testing.T) {
	e, err := New(DefaultAlpha)
	require.NoError(t, err)

	e.Update(pt(1, 1), pt(2, 2))
	e.Reset()
	assert.False(t, e.Spot().Valid)
	assert.False(t, e.Marker().Valid)

	spot, _ := e.Update(pt(50, 60), nil)
	assert.Equal(t, 50.0, spot.X)
}
