package routes

import (
	"context"
	"errors"
	"fmt"

	"route-tracking/internal/database"
	"route-tracking/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryInterface defines the database operations of the routes module.
type RepositoryInterface interface {
	// ===== Routes =====
	CreateRoute(ctx context.Context, route *models.Route) error
	// ListRoutes returns every route, newest first.
	ListRoutes(ctx context.Context) ([]*models.Route, error)
	FindRouteByID(ctx context.Context, id string) (*models.Route, error)
	// DeleteRoute removes the route; waypoints and the active track cascade.
	DeleteRoute(ctx context.Context, id string) error

	// ===== Waypoints =====
	// LastWaypoint returns the waypoint with the highest order, or ErrNotFound
	// when the route has none yet.
	LastWaypoint(ctx context.Context, routeID string) (*models.Waypoint, error)
	InsertWaypoint(ctx context.Context, wp *models.Waypoint) error
	// ListWaypoints returns the route's waypoints ascending by order.
	ListWaypoints(ctx context.Context, routeID string) ([]*models.Waypoint, error)
	// DeleteWaypoint removes one waypoint and shifts the following ones down
	// so orders stay contiguous.
	DeleteWaypoint(ctx context.Context, routeID, waypointID string) error
}

// Repository implements RepositoryInterface on PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) RepositoryInterface {
	return &Repository{db: db}
}

func (r *Repository) CreateRoute(ctx context.Context, route *models.Route) error {
	const query = `
        INSERT INTO routes (id, name, description)
        VALUES ($1, $2, $3)
        RETURNING created_at`
	err := r.db.QueryRow(ctx, query, route.ID, route.Name, route.Description).Scan(&route.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return models.ErrConflict
		}
		return fmt.Errorf("CreateRoute failed: %w", err)
	}
	return nil
}

func (r *Repository) ListRoutes(ctx context.Context) ([]*models.Route, error) {
	const query = `
        SELECT id, name, description, created_at
        FROM routes
        ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ListRoutes failed: %w", err)
	}
	defer rows.Close()

	var out []*models.Route
	for rows.Next() {
		rt := &models.Route{}
		if err := rows.Scan(&rt.ID, &rt.Name, &rt.Description, &rt.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListRoutes Scan failed: %w", err)
		}
		out = append(out, rt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListRoutes rows failed: %w", err)
	}
	return out, nil
}

func (r *Repository) FindRouteByID(ctx context.Context, id string) (*models.Route, error) {
	const query = `
        SELECT id, name, description, created_at
        FROM routes
        WHERE id = $1`
	rt := &models.Route{}
	err := r.db.QueryRow(ctx, query, id).Scan(&rt.ID, &rt.Name, &rt.Description, &rt.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("FindRouteByID failed: %w", err)
	}
	return rt, nil
}

func (r *Repository) DeleteRoute(ctx context.Context, id string) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM routes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("DeleteRoute failed: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

const waypointColumns = `id, route_id, seq, latitude, longitude, recorded_at, speed`

func scanWaypoint(row pgx.Row) (*models.Waypoint, error) {
	wp := &models.Waypoint{}
	if err := row.Scan(
		&wp.ID, &wp.RouteID, &wp.Order,
		&wp.Latitude, &wp.Longitude,
		&wp.RecordedAt, &wp.Speed,
	); err != nil {
		return nil, err
	}
	return wp, nil
}

func (r *Repository) LastWaypoint(ctx context.Context, routeID string) (*models.Waypoint, error) {
	query := `
        SELECT ` + waypointColumns + `
        FROM waypoints
        WHERE route_id = $1
        ORDER BY seq DESC
        LIMIT 1`
	wp, err := scanWaypoint(r.db.QueryRow(ctx, query, routeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("LastWaypoint failed: %w", err)
	}
	return wp, nil
}

func (r *Repository) InsertWaypoint(ctx context.Context, wp *models.Waypoint) error {
	const query = `
        INSERT INTO waypoints (id, route_id, seq, latitude, longitude, recorded_at, speed)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.Exec(ctx, query,
		wp.ID, wp.RouteID, wp.Order,
		wp.Latitude, wp.Longitude,
		wp.RecordedAt, wp.Speed,
	)
	if err != nil {
		// two recorders racing for the same order
		if database.IsUniqueViolation(err) {
			return models.ErrConflict
		}
		return fmt.Errorf("InsertWaypoint failed: %w", err)
	}
	return nil
}

func (r *Repository) ListWaypoints(ctx context.Context, routeID string) ([]*models.Waypoint, error) {
	query := `
        SELECT ` + waypointColumns + `
        FROM waypoints
        WHERE route_id = $1
        ORDER BY seq`
	rows, err := r.db.Query(ctx, query, routeID)
	if err != nil {
		return nil, fmt.Errorf("ListWaypoints failed: %w", err)
	}
	defer rows.Close()

	var out []*models.Waypoint
	for rows.Next() {
		wp, err := scanWaypoint(rows)
		if err != nil {
			return nil, fmt.Errorf("ListWaypoints Scan failed: %w", err)
		}
		out = append(out, wp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListWaypoints rows failed: %w", err)
	}
	return out, nil
}

func (r *Repository) DeleteWaypoint(ctx context.Context, routeID, waypointID string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("DeleteWaypoint begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var seq int
	err = tx.QueryRow(ctx,
		`DELETE FROM waypoints WHERE id = $1 AND route_id = $2 RETURNING seq`,
		waypointID, routeID,
	).Scan(&seq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrNotFound
		}
		return fmt.Errorf("DeleteWaypoint failed: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE waypoints SET seq = seq - 1 WHERE route_id = $1 AND seq > $2`,
		routeID, seq,
	); err != nil {
		return fmt.Errorf("DeleteWaypoint renumber failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("DeleteWaypoint commit failed: %w", err)
	}
	return nil
}
