package models

import "time"

// Route is a recorded traversal: a name plus an ordered list of waypoints.
type Route struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Waypoint is one recorded sample of a route. Order is authoritative for
// traversal: the smallest Order is the start, the largest the end.
type Waypoint struct {
	ID         string    `json:"id"`
	RouteID    string    `json:"route_id"`
	Order      int       `json:"order"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	RecordedAt time.Time `json:"recorded_at"`
	// Speed in m/s reported by the device at capture, if any.
	Speed *float64 `json:"speed,omitempty"`
}

// Position returns the waypoint location as a Position stamped with RecordedAt.
func (w Waypoint) Position() Position {
	return Position{Latitude: w.Latitude, Longitude: w.Longitude, RecordedAt: w.RecordedAt}
}

// Position is a single latitude/longitude sample, either the mover's last
// known location or a reference point.
type Position struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	RecordedAt time.Time `json:"recorded_at,omitempty"`
}

// ActiveTrack is the live record of a mover currently running a route.
// There is at most one per route.
type ActiveTrack struct {
	ID         string    `json:"id"`
	RouteID    string    `json:"route_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	RecordedAt time.Time `json:"recorded_at"`
}

func (t ActiveTrack) Position() Position {
	return Position{Latitude: t.Latitude, Longitude: t.Longitude, RecordedAt: t.RecordedAt}
}

// PositionEvent is published on the live feed every time a mover position is
// stored for a route.
type PositionEvent struct {
	RouteID    string    `json:"route_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	RecordedAt time.Time `json:"recorded_at"`
}

// CreateRouteRequest starts a new route recording.
type CreateRouteRequest struct {
	Name        string `json:"name" validate:"required,max=120"`
	Description string `json:"description,omitempty" validate:"max=1000"`
}

// RecordWaypointRequest is one sample captured while recording a route.
// RecordedAt defaults to the server time when omitted.
type RecordWaypointRequest struct {
	Latitude   float64    `json:"latitude" validate:"latitude"`
	Longitude  float64    `json:"longitude" validate:"longitude"`
	Speed      *float64   `json:"speed,omitempty" validate:"omitempty,gte=0"`
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
}

// PositionRequest carries a mover position sample.
type PositionRequest struct {
	Latitude   float64    `json:"latitude" validate:"latitude"`
	Longitude  float64    `json:"longitude" validate:"longitude"`
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
}

// SegmentRequest asks for the portion of a route between two arbitrary points.
type SegmentRequest struct {
	FromLatitude  float64 `query:"from_lat" validate:"latitude"`
	FromLongitude float64 `query:"from_lon" validate:"longitude"`
	ToLatitude    float64 `query:"to_lat" validate:"latitude"`
	ToLongitude   float64 `query:"to_lon" validate:"longitude"`
}

// ReferenceRequest is the user-supplied point an arrival is estimated against.
type ReferenceRequest struct {
	Latitude  float64 `query:"lat" validate:"latitude"`
	Longitude float64 `query:"lon" validate:"longitude"`
}
