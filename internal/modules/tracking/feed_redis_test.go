package tracking

import (
	"context"
	"testing"
	"time"

	"route-tracking/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisFeed(t *testing.T) (*RedisFeed, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := NewRedisClient(context.Background(), mr.Addr(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisFeed(rdb, quietLogger()), mr
}

func nextEvent(t *testing.T, ch <-chan models.PositionEvent) models.PositionEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "feed channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
	return models.PositionEvent{}
}

func TestRedisFeedRoundTrip(t *testing.T) {
	feed, _ := newRedisFeed(t)
	ctx := context.Background()

	events, cancel, err := feed.Subscribe(ctx, "r1")
	require.NoError(t, err)
	defer cancel()

	sent := models.PositionEvent{RouteID: "r1", Latitude: -21.6258, Longitude: -49.7905, RecordedAt: start}
	require.NoError(t, feed.Publish(ctx, sent))

	got := nextEvent(t, events)
	assert.Equal(t, sent.RouteID, got.RouteID)
	assert.Equal(t, sent.Latitude, got.Latitude)
	assert.Equal(t, sent.Longitude, got.Longitude)
	assert.True(t, sent.RecordedAt.Equal(got.RecordedAt))
}

func TestRedisFeedChannelPerRoute(t *testing.T) {
	feed, mr := newRedisFeed(t)
	ctx := context.Background()

	r1, cancel1, err := feed.Subscribe(ctx, "r1")
	require.NoError(t, err)
	defer cancel1()
	r2, cancel2, err := feed.Subscribe(ctx, "r2")
	require.NoError(t, err)
	defer cancel2()

	// anything published on the route's channel reaches its subscribers
	mr.Publish("route:r1:position", `{"route_id":"r1","latitude":1,"longitude":2}`)
	ev := nextEvent(t, r1)
	assert.Equal(t, 1.0, ev.Latitude)

	select {
	case ev := <-r2:
		t.Fatalf("subscriber of r2 got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRedisFeedDropsMalformedPayloads(t *testing.T) {
	feed, mr := newRedisFeed(t)
	ctx := context.Background()

	events, cancel, err := feed.Subscribe(ctx, "r1")
	require.NoError(t, err)
	defer cancel()

	mr.Publish("route:r1:position", "{not json")
	require.NoError(t, feed.Publish(ctx, models.PositionEvent{RouteID: "r1", Latitude: 3}))

	ev := nextEvent(t, events)
	assert.Equal(t, 3.0, ev.Latitude)
}

func TestRedisFeedCancelClosesChannel(t *testing.T) {
	feed, _ := newRedisFeed(t)

	events, cancel, err := feed.Subscribe(context.Background(), "r1")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestNewRedisClientUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRedisClient(ctx, addr, 0)
	assert.Error(t, err)
}
