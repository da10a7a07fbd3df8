// Package matcher maps arbitrary positions onto a recorded route and derives
// arrival estimates from the route's own recording history.
//
// Everything here is pure: no I/O, no shared state. Callers re-run
// EstimateArrival on every new mover sample and keep the latest result.
package matcher

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"route-tracking/internal/models"
)

// EarthRadiusMeters is the mean Earth radius used by Distance.
const EarthRadiusMeters = 6371000.0

var (
	ErrEmptyRoute          = errors.New("route has no waypoints")
	ErrInvalidCoordinate   = errors.New("invalid coordinate")
	ErrInsufficientHistory = errors.New("insufficient route history to derive a speed")
)

// Distance returns the great-circle distance in meters between a and b
// using the haversine formula. Every distance in this service goes through it.
func Distance(a, b models.Position) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(b.Latitude - a.Latitude)
	dLon := toRad(b.Longitude - a.Longitude)

	h := math.Pow(math.Sin(dLat/2), 2) +
		math.Cos(toRad(a.Latitude))*math.Cos(toRad(b.Latitude))*math.Pow(math.Sin(dLon/2), 2)

	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// CheckPosition reports ErrInvalidCoordinate for non-finite or out of range
// coordinates.
func CheckPosition(p models.Position) error {
	if !finite(p.Latitude) || !finite(p.Longitude) ||
		math.Abs(p.Latitude) > 90 || math.Abs(p.Longitude) > 180 {
		return fmt.Errorf("%w: (%v, %v)", ErrInvalidCoordinate, p.Latitude, p.Longitude)
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// NearestWaypoint returns the waypoint closest to p. Waypoints are scanned in
// the given order and the first one reaching the minimum distance wins.
func NearestWaypoint(p models.Position, waypoints []models.Waypoint) (models.Waypoint, error) {
	if len(waypoints) == 0 {
		return models.Waypoint{}, ErrEmptyRoute
	}
	if err := CheckPosition(p); err != nil {
		return models.Waypoint{}, err
	}

	best := -1
	bestDist := math.Inf(1)
	for i, w := range waypoints {
		if err := CheckPosition(w.Position()); err != nil {
			return models.Waypoint{}, fmt.Errorf("waypoint %s: %w", w.ID, err)
		}
		if d := Distance(p, w.Position()); d < bestDist {
			best, bestDist = i, d
		}
	}
	return waypoints[best], nil
}

// Segment is the contiguous run of route waypoints between two matched
// waypoints, ascending by Order.
type Segment []models.Waypoint

// Length is the cumulative distance in meters along the segment.
func (s Segment) Length() float64 {
	return pathLength(s)
}

// ExtractSegment returns every waypoint whose Order lies between the orders of
// a and b, inclusive. The result is ascending by Order whichever of a and b
// comes first on the route.
func ExtractSegment(waypoints []models.Waypoint, a, b models.Waypoint) Segment {
	lo, hi := a.Order, b.Order
	if lo > hi {
		lo, hi = hi, lo
	}

	// orders need not be contiguous, so the span says nothing about the size
	var seg Segment
	for _, w := range waypoints {
		if w.Order >= lo && w.Order <= hi {
			seg = append(seg, w)
		}
	}
	sortByOrder(seg)
	return seg
}

// AverageSpeed derives the route's historical speed in m/s: the route length
// from start to end divided by the time elapsed between the first and last
// waypoint. When any waypoint has no timestamp, or the recording spans no
// time, the timestamps are not trusted and the mean of the positive recorded
// speeds is used instead.
func AverageSpeed(waypoints []models.Waypoint) (float64, error) {
	if len(waypoints) < 2 {
		return 0, fmt.Errorf("%w: %d waypoint(s)", ErrInsufficientHistory, len(waypoints))
	}
	sorted := sortedCopy(waypoints)

	for _, w := range sorted {
		if w.RecordedAt.IsZero() {
			return recordedSpeed(sorted)
		}
	}

	elapsed := sorted[len(sorted)-1].RecordedAt.Sub(sorted[0].RecordedAt).Seconds()
	if elapsed <= 0 {
		if speed, err := recordedSpeed(sorted); err == nil {
			return speed, nil
		}
		return 0, fmt.Errorf("%w: recording spans %.0fs", ErrInsufficientHistory, elapsed)
	}
	speed := pathLength(sorted) / elapsed
	if speed <= 0 {
		return 0, fmt.Errorf("%w: route has zero length", ErrInsufficientHistory)
	}
	return speed, nil
}

func recordedSpeed(waypoints []models.Waypoint) (float64, error) {
	var sum float64
	var n int
	for _, w := range waypoints {
		if w.Speed != nil && finite(*w.Speed) && *w.Speed > 0 {
			sum += *w.Speed
			n++
		}
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: no timestamps and no recorded speeds", ErrInsufficientHistory)
	}
	return sum / float64(n), nil
}

func pathLength(waypoints []models.Waypoint) float64 {
	var total float64
	for i := 1; i < len(waypoints); i++ {
		total += Distance(waypoints[i-1].Position(), waypoints[i].Position())
	}
	return total
}

func sortByOrder(waypoints []models.Waypoint) {
	sort.SliceStable(waypoints, func(i, j int) bool {
		return waypoints[i].Order < waypoints[j].Order
	})
}

func sortedCopy(waypoints []models.Waypoint) []models.Waypoint {
	out := make([]models.Waypoint, len(waypoints))
	copy(out, waypoints)
	sortByOrder(out)
	return out
}
