package models

import "errors"

var ErrNotFound = errors.New("requested resource not found")
var ErrConflict = errors.New("resource conflict, item already exists")

// ErrInvalidPosition indicates a latitude/longitude outside the valid range.
var ErrInvalidPosition = errors.New("invalid position")

// ErrWaypointTooClose is returned when a recorded point is within the minimum
// spacing of the previous waypoint. The point is not stored.
var ErrWaypointTooClose = errors.New("waypoint too close to the previous one")

// ErrWaypointOutOfOrder is returned when a recorded point is older than the
// route's last waypoint.
var ErrWaypointOutOfOrder = errors.New("waypoint recorded before the previous one")

// ErrEndpointWaypoint is returned when trying to delete the first or the last
// waypoint of a route.
var ErrEndpointWaypoint = errors.New("route start and end waypoints cannot be deleted")

// ErrorResponse is the body returned by handlers for any non-2xx status.
type ErrorResponse struct {
	Message string `json:"message"`
}
