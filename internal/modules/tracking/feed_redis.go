package tracking

import (
	"context"
	"encoding/json"
	"fmt"

	"route-tracking/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisFeed fans position events out through Redis pub/sub so every API
// instance sees positions stored by any other instance or by the ingester.
type RedisFeed struct {
	rdb *redis.Client
	log logrus.FieldLogger
}

// NewRedisClient connects to Redis and checks it answers.
func NewRedisClient(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func NewRedisFeed(rdb *redis.Client, log logrus.FieldLogger) *RedisFeed {
	return &RedisFeed{rdb: rdb, log: log}
}

func positionChannel(routeID string) string {
	return "route:" + routeID + ":position"
}

func (f *RedisFeed) Publish(ctx context.Context, ev models.PositionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := f.rdb.Publish(ctx, positionChannel(ev.RouteID), payload).Err(); err != nil {
		return fmt.Errorf("redis PUBLISH %s: %w", positionChannel(ev.RouteID), err)
	}
	return nil
}

func (f *RedisFeed) Subscribe(ctx context.Context, routeID string) (<-chan models.PositionEvent, func(), error) {
	ps := f.rdb.Subscribe(ctx, positionChannel(routeID))
	// wait for the subscription confirmation so no event published after
	// Subscribe returns is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("redis SUBSCRIBE %s: %w", positionChannel(routeID), err)
	}

	out := make(chan models.PositionEvent, subscriberBuffer)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			var ev models.PositionEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				f.log.WithError(err).WithField("channel", msg.Channel).Warn("dropping malformed position event")
				continue
			}
			select {
			case out <- ev:
			default:
			}
		}
	}()

	cancel := func() { _ = ps.Close() }
	return out, cancel, nil
}
