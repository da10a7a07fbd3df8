package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"route-tracking/internal/matcher"
	"route-tracking/internal/models"
	"route-tracking/internal/observability"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// PositionRecorder stores one mover sample for a route. The bool is false when
// the sample was ignored.
type PositionRecorder interface {
	RecordPosition(ctx context.Context, routeID string, req models.PositionRequest) (*models.ActiveTrack, bool, error)
}

// Config holds the consumer group settings.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// ParseBrokers splits a comma separated broker list, dropping blanks.
func ParseBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// positionMessage is the payload devices publish on the positions topic.
type positionMessage struct {
	RouteID   string     `json:"route_id"`
	Latitude  *float64   `json:"lat"`
	Longitude *float64   `json:"lon"`
	Timestamp *time.Time `json:"ts"`
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer feeds position samples from Kafka into the tracking service.
type Consumer struct {
	reader   messageReader
	recorder PositionRecorder
	log      logrus.FieldLogger
}

func NewConsumer(cfg Config, recorder PositionRecorder, log logrus.FieldLogger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	log.WithFields(logrus.Fields{
		"brokers":  cfg.Brokers,
		"topic":    cfg.Topic,
		"group_id": cfg.GroupID,
	}).Info("creating kafka consumer")

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
		Logger:         kafka.LoggerFunc(log.Debugf),
		ErrorLogger:    kafka.LoggerFunc(log.Errorf),
	})
	return &Consumer{reader: reader, recorder: recorder, log: log}, nil
}

// Run consumes until ctx is cancelled. Every fetched message is committed,
// including the ones that could not be recorded.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka fetch failed: %w", err)
		}

		result := c.handleMessage(ctx, msg)
		observability.IngestMessages.WithLabelValues(result).Inc()

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka commit failed: %w", err)
		}
	}
}

// handleMessage records one message and returns the metric label for it.
func (c *Consumer) handleMessage(ctx context.Context, msg kafka.Message) string {
	entry := c.log.WithFields(logrus.Fields{
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	var pm positionMessage
	if err := json.Unmarshal(msg.Value, &pm); err != nil {
		entry.WithError(err).Warn("skipping malformed position message")
		return "invalid"
	}
	if pm.RouteID == "" || pm.Latitude == nil || pm.Longitude == nil {
		entry.Warn("skipping position message without route_id, lat or lon")
		return "invalid"
	}

	req := models.PositionRequest{
		Latitude:   *pm.Latitude,
		Longitude:  *pm.Longitude,
		RecordedAt: pm.Timestamp,
	}
	entry = entry.WithField("route_id", pm.RouteID)

	_, recorded, err := c.recorder.RecordPosition(ctx, pm.RouteID, req)
	switch {
	case errors.Is(err, models.ErrInvalidPosition), errors.Is(err, matcher.ErrInvalidCoordinate):
		entry.WithError(err).Warn("skipping position outside coordinate range")
		return "invalid"
	case errors.Is(err, models.ErrNotFound):
		entry.Warn("skipping position for unknown route")
		return "rejected"
	case err != nil:
		entry.WithError(err).Error("recording position failed")
		return "error"
	case !recorded:
		return "ignored"
	}
	return "recorded"
}
