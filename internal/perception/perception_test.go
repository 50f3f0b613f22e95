package perception

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/laser_tracker/internal/vision"
)

func TestStore_ReturnsLatest(t *testing.T) {
	s := NewStore()
	s.Put(vision.Frame{Seq: 1})
	s.Put(vision.Frame{Seq: 2})

	f, ok, err := s.Next(context.Background(), time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), f.Seq)

	received, dropped := s.Stats()
	assert.Equal(t, uint64(2), received)
	assert.Equal(t, uint64(1), dropped)

	// Already delivered; the next call times out.
	_, ok, err = s.Next(context.Background(), 5*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_WaitsForProducer(t *testing.T) {
	s := NewStore()
	go func() {
		time.Sleep(5 * time.Millisecond)
		s.Put(vision.Frame{Seq: 7})
	}()
	f, ok, err := s.Next(context.Background(), time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(7), f.Seq)
}

func TestStore_Cancelled(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok, err := s.Next(ctx, time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_ConcurrentProducer(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(1); i <= 500; i++ {
			s.Put(vision.Frame{Seq: i})
		}
	}()

	var last uint64
	for last < 500 {
		f, ok, err := s.Next(context.Background(), time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Greater(t, f.Seq, last)
		last = f.Seq
	}
	wg.Wait()
}

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type fakeMessage struct {
	mqtt.Message
	payload []byte
}

func (m fakeMessage) Payload() []byte { return m.payload }

type fakeClient struct {
	mqtt.Client
	topic    string
	handler  mqtt.MessageHandler
	unsubbed bool
}

func (c *fakeClient) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	c.topic, c.handler = topic, cb
	return doneToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.unsubbed = true
	return doneToken{}
}

func TestMQTTSource(t *testing.T) {
	orig := Logf
	Logf = func(string, ...interface{}) {}
	defer func() { Logf = orig }()

	client := &fakeClient{}
	src, err := NewMQTTSource(client, "tracker/candidates", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "tracker/candidates", client.topic)

	client.handler(client, fakeMessage{payload: []byte(`not json`)})
	client.handler(client, fakeMessage{payload: []byte(`{"seq":3,"width":800,"height":480,
		"spots":[{"kind":"spot","x":10,"y":20,"w":4,"h":4,"area":12}]}`)})

	f, ok, err := src.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(3), f.Seq)
	require.Len(t, f.Spots, 1)
	assert.Equal(t, vision.KindSpot, f.Spots[0].Kind)
	assert.False(t, f.Timestamp.IsZero())

	received, _, malformed := src.Stats()
	assert.Equal(t, uint64(1), received)
	assert.Equal(t, uint64(1), malformed)

	require.NoError(t, src.Close())
	assert.True(t, client.unsubbed)
}

func TestOrbit_FramePassesDefaultGates(t *testing.T) {
	o := NewOrbit()
	f := o.FrameAt(1, time.Second, time.Now())

	sel := vision.NewFilter(vision.DefaultFilterConfig()).Select(f, nil)
	require.NotNil(t, sel.Marker)
	require.NotNil(t, sel.Spot)
	assert.InDelta(t, 400, sel.Marker.X, 1e-9)
	assert.InDelta(t, 240, sel.Marker.Y, 1e-9)

	// A quarter period puts the spot straight below the centre.
	assert.InDelta(t, 400, sel.Spot.X, 1e-9)
	assert.InDelta(t, 300, sel.Spot.Y, 1e-9)
}

func TestOrbit_DropEvery(t *testing.T) {
	o := NewOrbit()
	o.DropEvery = 3
	assert.Len(t, o.FrameAt(3, 0, time.Now()).Spots, 0)
	assert.Len(t, o.FrameAt(4, 0, time.Now()).Spots, 1)
}

func TestOrbit_Next(t *testing.T) {
	o := NewOrbit()
	o.Interval = 0
	f1, ok, err := o.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	f2, _, _ := o.Next(context.Background())
	assert.Equal(t, f1.Seq+1, f2.Seq)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = o.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanAngles(t *testing.T) {
	a := ScanAngles(0.6, 10, 5)
	require.Len(t, a, 5)
	want := math.Atan(0.06) * 180 / math.Pi
	assert.InDelta(t, want, a[0][0], 1e-9)
	assert.InDelta(t, 0, a[0][1], 1e-9)
	assert.InDelta(t, want, a[4][0], 1e-9)
	assert.Nil(t, ScanAngles(1, 0, 10))
}
