package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"route-tracking/internal/matcher"
	"route-tracking/internal/models"
	"route-tracking/internal/modules/routes"
	"route-tracking/internal/observability"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultMinTrackMove is how far in meters the mover must travel before a new
// position replaces the stored one.
const DefaultMinTrackMove = 30.0

// ServiceInterface is the tracking module's business API, shared by the HTTP
// handler and the Kafka ingester.
type ServiceInterface interface {
	StartTrack(ctx context.Context, routeID string, req models.PositionRequest) (*models.ActiveTrack, error)
	// RecordPosition stores a mover sample, starting the track if needed. The
	// bool is false when the sample was ignored.
	RecordPosition(ctx context.Context, routeID string, req models.PositionRequest) (*models.ActiveTrack, bool, error)
	GetActiveTrack(ctx context.Context, routeID string) (*models.ActiveTrack, error)
	StopTrack(ctx context.Context, routeID string) error
	EstimateArrival(ctx context.Context, routeID string, reference models.Position) (*matcher.Estimate, error)
	Subscribe(ctx context.Context, routeID string) (<-chan models.PositionEvent, func(), error)
}

// RouteReader is the part of the routes module tracking depends on.
type RouteReader interface {
	GetRoute(ctx context.Context, routeID string) (*models.Route, error)
	ListWaypoints(ctx context.Context, routeID string) ([]*models.Waypoint, error)
}

// Options tunes the service. Zero values fall back to the defaults.
type Options struct {
	MinTrackMoveMeters float64
}

type service struct {
	repo    RepositoryInterface
	routes  RouteReader
	feed    Feed
	log     logrus.FieldLogger
	minMove float64
	now     func() time.Time
}

func NewService(repo RepositoryInterface, routes RouteReader, feed Feed, opts Options, log logrus.FieldLogger) ServiceInterface {
	if opts.MinTrackMoveMeters <= 0 {
		opts.MinTrackMoveMeters = DefaultMinTrackMove
	}
	return &service{
		repo:    repo,
		routes:  routes,
		feed:    feed,
		log:     log,
		minMove: opts.MinTrackMoveMeters,
		now:     time.Now,
	}
}

func (s *service) sample(req models.PositionRequest) (models.Position, error) {
	p := models.Position{Latitude: req.Latitude, Longitude: req.Longitude, RecordedAt: s.now().UTC()}
	if req.RecordedAt != nil {
		p.RecordedAt = req.RecordedAt.UTC()
	}
	if err := matcher.CheckPosition(p); err != nil {
		return p, fmt.Errorf("%w: %v", models.ErrInvalidPosition, err)
	}
	return p, nil
}

// StartTrack opens the route's active track at the given position.
func (s *service) StartTrack(ctx context.Context, routeID string, req models.PositionRequest) (*models.ActiveTrack, error) {
	p, err := s.sample(req)
	if err != nil {
		return nil, err
	}
	if _, err := s.routes.GetRoute(ctx, routeID); err != nil {
		return nil, err
	}

	t := &models.ActiveTrack{
		ID:         uuid.NewString(),
		RouteID:    routeID,
		Latitude:   p.Latitude,
		Longitude:  p.Longitude,
		RecordedAt: p.RecordedAt,
	}
	if err := s.repo.CreateActiveTrack(ctx, t); err != nil {
		return nil, fmt.Errorf("service.StartTrack: %w", err)
	}
	observability.PositionsRecorded.Inc()
	s.log.WithField("route_id", routeID).Info("tracking started")
	s.publish(ctx, t)
	return t, nil
}

func (s *service) RecordPosition(ctx context.Context, routeID string, req models.PositionRequest) (*models.ActiveTrack, bool, error) {
	p, err := s.sample(req)
	if err != nil {
		return nil, false, err
	}

	t, err := s.repo.FindActiveTrack(ctx, routeID)
	if errors.Is(err, models.ErrNotFound) {
		t, err = s.StartTrack(ctx, routeID, req)
		if err == nil {
			return t, true, nil
		}
		// lost a race with another writer starting the same track
		if !errors.Is(err, models.ErrConflict) {
			return nil, false, err
		}
		t, err = s.repo.FindActiveTrack(ctx, routeID)
	}
	if err != nil {
		return nil, false, fmt.Errorf("service.RecordPosition: %w", err)
	}

	// out of order samples never move the mover backwards
	if p.RecordedAt.Before(t.RecordedAt) {
		observability.PositionsSkipped.Inc()
		return t, false, nil
	}
	if matcher.Distance(t.Position(), p) < s.minMove {
		observability.PositionsSkipped.Inc()
		return t, false, nil
	}

	next := *t
	next.Latitude, next.Longitude, next.RecordedAt = p.Latitude, p.Longitude, p.RecordedAt
	updated, err := s.repo.UpdateActiveTrack(ctx, &next)
	if err != nil {
		return nil, false, fmt.Errorf("service.RecordPosition: %w", err)
	}
	if !updated {
		// a newer sample was stored since the read, or the track was stopped
		observability.PositionsSkipped.Inc()
		cur, err := s.repo.FindActiveTrack(ctx, routeID)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, false, fmt.Errorf("service.RecordPosition: %w", err)
		}
		return cur, false, nil
	}
	t = &next
	observability.PositionsRecorded.Inc()
	s.publish(ctx, t)
	return t, true, nil
}

// publish failures are logged only: the position is already stored and the
// next sample will be published again.
func (s *service) publish(ctx context.Context, t *models.ActiveTrack) {
	ev := models.PositionEvent{
		RouteID:    t.RouteID,
		Latitude:   t.Latitude,
		Longitude:  t.Longitude,
		RecordedAt: t.RecordedAt,
	}
	if err := s.feed.Publish(ctx, ev); err != nil {
		observability.FeedPublishErrors.Inc()
		s.log.WithError(err).WithField("route_id", t.RouteID).Warn("position publish failed")
	}
}

func (s *service) GetActiveTrack(ctx context.Context, routeID string) (*models.ActiveTrack, error) {
	return s.repo.FindActiveTrack(ctx, routeID)
}

func (s *service) StopTrack(ctx context.Context, routeID string) error {
	if err := s.repo.DeleteActiveTrack(ctx, routeID); err != nil {
		return fmt.Errorf("service.StopTrack: %w", err)
	}
	s.log.WithField("route_id", routeID).Info("tracking stopped")
	return nil
}

// EstimateArrival reads the route and its current mover position and runs the
// matcher over them. A route without an active track yields NOT_TRACKED.
func (s *service) EstimateArrival(ctx context.Context, routeID string, reference models.Position) (*matcher.Estimate, error) {
	defer observability.ObserveEstimateLatency(time.Now())

	wps, err := s.routes.ListWaypoints(ctx, routeID)
	if err != nil {
		return nil, err
	}

	var mover *models.Position
	t, err := s.repo.FindActiveTrack(ctx, routeID)
	switch {
	case err == nil:
		p := t.Position()
		mover = &p
	case !errors.Is(err, models.ErrNotFound):
		return nil, fmt.Errorf("service.EstimateArrival: %w", err)
	}

	est, err := matcher.EstimateArrival(mover, reference, routes.Values(wps))
	if err != nil {
		return nil, err
	}
	observability.Estimates.WithLabelValues(string(est.Outcome)).Inc()
	return &est, nil
}

func (s *service) Subscribe(ctx context.Context, routeID string) (<-chan models.PositionEvent, func(), error) {
	if _, err := s.routes.GetRoute(ctx, routeID); err != nil {
		return nil, nil, err
	}
	return s.feed.Subscribe(ctx, routeID)
}
