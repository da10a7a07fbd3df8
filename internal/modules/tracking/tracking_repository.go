package tracking

import (
	"context"
	"errors"
	"fmt"

	"route-tracking/internal/database"
	"route-tracking/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryInterface persists active tracks, one row per tracked route.
type RepositoryInterface interface {
	// FindActiveTrack returns ErrNotFound when the route is not being tracked.
	FindActiveTrack(ctx context.Context, routeID string) (*models.ActiveTrack, error)
	// CreateActiveTrack returns ErrConflict when the route already has one.
	CreateActiveTrack(ctx context.Context, t *models.ActiveTrack) error
	// UpdateActiveTrack moves the track to its new position and time. It
	// reports false when nothing changed because the stored sample is newer or
	// the track is gone.
	UpdateActiveTrack(ctx context.Context, t *models.ActiveTrack) (bool, error)
	DeleteActiveTrack(ctx context.Context, routeID string) error
}

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) RepositoryInterface {
	return &Repository{db: db}
}

func (r *Repository) FindActiveTrack(ctx context.Context, routeID string) (*models.ActiveTrack, error) {
	const query = `
        SELECT id, route_id, latitude, longitude, recorded_at
        FROM active_tracks
        WHERE route_id = $1`
	t := &models.ActiveTrack{}
	err := r.db.QueryRow(ctx, query, routeID).Scan(
		&t.ID, &t.RouteID, &t.Latitude, &t.Longitude, &t.RecordedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("FindActiveTrack failed: %w", err)
	}
	return t, nil
}

func (r *Repository) CreateActiveTrack(ctx context.Context, t *models.ActiveTrack) error {
	const query = `
        INSERT INTO active_tracks (id, route_id, latitude, longitude, recorded_at)
        VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Exec(ctx, query, t.ID, t.RouteID, t.Latitude, t.Longitude, t.RecordedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return models.ErrConflict
		}
		return fmt.Errorf("CreateActiveTrack failed: %w", err)
	}
	return nil
}

func (r *Repository) UpdateActiveTrack(ctx context.Context, t *models.ActiveTrack) (bool, error) {
	// the recorded_at guard keeps concurrent writers from moving the track back in time
	const query = `
        UPDATE active_tracks
        SET latitude = $2,
            longitude = $3,
            recorded_at = $4
        WHERE id = $1
          AND recorded_at <= $4`
	cmd, err := r.db.Exec(ctx, query, t.ID, t.Latitude, t.Longitude, t.RecordedAt)
	if err != nil {
		return false, fmt.Errorf("UpdateActiveTrack failed: %w", err)
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *Repository) DeleteActiveTrack(ctx context.Context, routeID string) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM active_tracks WHERE route_id = $1`, routeID)
	if err != nil {
		return fmt.Errorf("DeleteActiveTrack failed: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
