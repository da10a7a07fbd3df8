package routes

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"route-tracking/internal/matcher"
	"route-tracking/internal/models"
	"route-tracking/internal/observability"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultMinWaypointSpacing is the minimum distance in meters between two
// consecutive recorded waypoints.
const DefaultMinWaypointSpacing = 10.0

// ServiceInterface exposes the routes module to its handler and to the
// tracking module.
type ServiceInterface interface {
	CreateRoute(ctx context.Context, req models.CreateRouteRequest) (*models.Route, error)
	ListRoutes(ctx context.Context) ([]*models.Route, error)
	GetRoute(ctx context.Context, routeID string) (*models.Route, error)
	DeleteRoute(ctx context.Context, routeID string) error

	RecordWaypoint(ctx context.Context, routeID string, req models.RecordWaypointRequest) (*models.Waypoint, error)
	ListWaypoints(ctx context.Context, routeID string) ([]*models.Waypoint, error)
	DeleteWaypoint(ctx context.Context, routeID, waypointID string) error

	MeasureSegment(ctx context.Context, routeID string, req models.SegmentRequest) (*SegmentResult, error)
}

// SegmentResult describes the part of a route between two arbitrary points.
// EstimatedSeconds is nil when the route history yields no average speed.
type SegmentResult struct {
	From             models.Waypoint `json:"from"`
	To               models.Waypoint `json:"to"`
	Waypoints        matcher.Segment `json:"waypoints"`
	DistanceMeters   float64         `json:"distance_meters"`
	AverageSpeed     float64         `json:"average_speed_mps,omitempty"`
	EstimatedSeconds *int            `json:"estimated_seconds,omitempty"`
	InsufficientData bool            `json:"insufficient_data,omitempty"`
}

// Options tunes the service. Zero values fall back to the defaults.
type Options struct {
	MinWaypointSpacingMeters float64
}

type service struct {
	repo       RepositoryInterface
	log        logrus.FieldLogger
	minSpacing float64
	now        func() time.Time
}

func NewService(repo RepositoryInterface, opts Options, log logrus.FieldLogger) ServiceInterface {
	if opts.MinWaypointSpacingMeters <= 0 {
		opts.MinWaypointSpacingMeters = DefaultMinWaypointSpacing
	}
	return &service{
		repo:       repo,
		log:        log,
		minSpacing: opts.MinWaypointSpacingMeters,
		now:        time.Now,
	}
}

func (s *service) CreateRoute(ctx context.Context, req models.CreateRouteRequest) (*models.Route, error) {
	route := &models.Route{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
	}
	if err := s.repo.CreateRoute(ctx, route); err != nil {
		return nil, fmt.Errorf("service.CreateRoute: %w", err)
	}
	s.log.WithField("route_id", route.ID).Info("route created")
	return route, nil
}

func (s *service) ListRoutes(ctx context.Context) ([]*models.Route, error) {
	return s.repo.ListRoutes(ctx)
}

func (s *service) GetRoute(ctx context.Context, routeID string) (*models.Route, error) {
	return s.repo.FindRouteByID(ctx, routeID)
}

func (s *service) DeleteRoute(ctx context.Context, routeID string) error {
	if err := s.repo.DeleteRoute(ctx, routeID); err != nil {
		return fmt.Errorf("service.DeleteRoute: %w", err)
	}
	s.log.WithField("route_id", routeID).Info("route deleted")
	return nil
}

// RecordWaypoint appends a sample at the end of the route. Samples closer than
// the minimum spacing to the previous waypoint are dropped with
// ErrWaypointTooClose.
func (s *service) RecordWaypoint(ctx context.Context, routeID string, req models.RecordWaypointRequest) (*models.Waypoint, error) {
	if _, err := s.repo.FindRouteByID(ctx, routeID); err != nil {
		return nil, err
	}

	wp := &models.Waypoint{
		ID:         uuid.NewString(),
		RouteID:    routeID,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
		Speed:      req.Speed,
		RecordedAt: s.now().UTC(),
	}
	if req.RecordedAt != nil {
		wp.RecordedAt = req.RecordedAt.UTC()
	}
	if err := matcher.CheckPosition(wp.Position()); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidPosition, err)
	}

	last, err := s.repo.LastWaypoint(ctx, routeID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		wp.Order = 0
	case err != nil:
		return nil, fmt.Errorf("service.RecordWaypoint: %w", err)
	default:
		// elapsed time feeds the route's average speed, so it may not run backwards
		if wp.RecordedAt.Before(last.RecordedAt) {
			return nil, fmt.Errorf("%w: %s < %s", models.ErrWaypointOutOfOrder,
				wp.RecordedAt.Format(time.RFC3339), last.RecordedAt.Format(time.RFC3339))
		}
		if d := matcher.Distance(last.Position(), wp.Position()); d < s.minSpacing {
			observability.WaypointsSkipped.Inc()
			return nil, fmt.Errorf("%w: %.1fm", models.ErrWaypointTooClose, d)
		}
		wp.Order = last.Order + 1
	}

	if err := s.repo.InsertWaypoint(ctx, wp); err != nil {
		return nil, fmt.Errorf("service.RecordWaypoint: %w", err)
	}
	observability.WaypointsRecorded.Inc()
	return wp, nil
}

func (s *service) ListWaypoints(ctx context.Context, routeID string) ([]*models.Waypoint, error) {
	if _, err := s.repo.FindRouteByID(ctx, routeID); err != nil {
		return nil, err
	}
	return s.repo.ListWaypoints(ctx, routeID)
}

// DeleteWaypoint removes an interior waypoint. The route's start and end are
// kept so the recorded extent of the route never shrinks.
func (s *service) DeleteWaypoint(ctx context.Context, routeID, waypointID string) error {
	wps, err := s.repo.ListWaypoints(ctx, routeID)
	if err != nil {
		return fmt.Errorf("service.DeleteWaypoint: %w", err)
	}

	idx := -1
	for i, wp := range wps {
		if wp.ID == waypointID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return models.ErrNotFound
	}
	if idx == 0 || idx == len(wps)-1 {
		return models.ErrEndpointWaypoint
	}

	if err := s.repo.DeleteWaypoint(ctx, routeID, waypointID); err != nil {
		return fmt.Errorf("service.DeleteWaypoint: %w", err)
	}
	s.log.WithFields(logrus.Fields{"route_id": routeID, "waypoint_id": waypointID}).Info("waypoint deleted")
	return nil
}

// MeasureSegment matches both points onto the route and measures the stretch
// between them, with a travel time at the route's historical average speed.
func (s *service) MeasureSegment(ctx context.Context, routeID string, req models.SegmentRequest) (*SegmentResult, error) {
	ptrs, err := s.ListWaypoints(ctx, routeID)
	if err != nil {
		return nil, err
	}
	wps := Values(ptrs)

	from, err := matcher.NearestWaypoint(models.Position{Latitude: req.FromLatitude, Longitude: req.FromLongitude}, wps)
	if err != nil {
		return nil, err
	}
	to, err := matcher.NearestWaypoint(models.Position{Latitude: req.ToLatitude, Longitude: req.ToLongitude}, wps)
	if err != nil {
		return nil, err
	}

	seg := matcher.ExtractSegment(wps, from, to)
	res := &SegmentResult{
		From:           from,
		To:             to,
		Waypoints:      seg,
		DistanceMeters: seg.Length(),
	}

	speed, err := matcher.AverageSpeed(wps)
	if err != nil {
		if errors.Is(err, matcher.ErrInsufficientHistory) {
			res.InsufficientData = true
			return res, nil
		}
		return nil, err
	}
	secs := int(math.Round(res.DistanceMeters / speed))
	res.AverageSpeed = speed
	res.EstimatedSeconds = &secs
	return res, nil
}

// Values copies a slice of waypoint pointers into a value slice for the matcher.
func Values(wps []*models.Waypoint) []models.Waypoint {
	out := make([]models.Waypoint, 0, len(wps))
	for _, wp := range wps {
		out = append(out, *wp)
	}
	return out
}
