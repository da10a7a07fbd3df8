package matcher

import (
	"errors"
	"math"

	"route-tracking/internal/models"
)

// Outcome classifies an arrival estimate.
type Outcome string

const (
	// OutcomeNotTracked means no mover position is available for the route.
	OutcomeNotTracked Outcome = "NOT_TRACKED"
	// OutcomeAlreadyPassed means the mover is past the reference point.
	OutcomeAlreadyPassed Outcome = "ALREADY_PASSED"
	// OutcomeInsufficientData means no average speed could be derived.
	OutcomeInsufficientData Outcome = "INSUFFICIENT_DATA"
	// OutcomeArrivingImminently means the estimate rounds to zero minutes.
	OutcomeArrivingImminently Outcome = "ARRIVING_IMMINENTLY"
	// OutcomeInTransit carries a whole number of minutes in Estimate.Minutes.
	OutcomeInTransit Outcome = "IN_TRANSIT"
)

// Estimate is the result of EstimateArrival. Minutes is only meaningful for
// OutcomeInTransit; the match and segment fields are set whenever both
// positions could be matched onto the route.
type Estimate struct {
	Outcome         Outcome          `json:"outcome"`
	Minutes         int              `json:"minutes,omitempty"`
	RemainingMeters float64          `json:"remaining_meters,omitempty"`
	AverageSpeed    float64          `json:"average_speed_mps,omitempty"`
	MoverMatch      *models.Waypoint `json:"mover_match,omitempty"`
	ReferenceMatch  *models.Waypoint `json:"reference_match,omitempty"`
	Segment         Segment          `json:"segment,omitempty"`
}

// EstimateArrival estimates how long the mover needs to reach the reference
// point along the route. A nil mover means the route is not being tracked.
//
// Invalid coordinates are returned as errors; the other non-numeric cases are
// outcomes.
func EstimateArrival(mover *models.Position, reference models.Position, waypoints []models.Waypoint) (Estimate, error) {
	if mover == nil {
		return Estimate{Outcome: OutcomeNotTracked}, nil
	}
	if err := CheckPosition(*mover); err != nil {
		return Estimate{}, err
	}
	if err := CheckPosition(reference); err != nil {
		return Estimate{}, err
	}
	if len(waypoints) < 2 {
		return Estimate{Outcome: OutcomeInsufficientData}, nil
	}

	route := sortedCopy(waypoints)
	moverMatch, err := NearestWaypoint(*mover, route)
	if err != nil {
		return Estimate{}, err
	}
	refMatch, err := NearestWaypoint(reference, route)
	if err != nil {
		return Estimate{}, err
	}

	est := Estimate{MoverMatch: &moverMatch, ReferenceMatch: &refMatch}
	if moverMatch.Order > refMatch.Order {
		est.Outcome = OutcomeAlreadyPassed
		return est, nil
	}

	est.Segment = ExtractSegment(route, moverMatch, refMatch)
	est.RemainingMeters = est.Segment.Length()

	speed, err := AverageSpeed(route)
	if err != nil {
		if errors.Is(err, ErrInsufficientHistory) {
			est.Outcome = OutcomeInsufficientData
			return est, nil
		}
		return Estimate{}, err
	}
	est.AverageSpeed = speed

	est.Minutes = int(math.Round(est.RemainingMeters / speed / 60))
	if est.Minutes == 0 {
		est.Outcome = OutcomeArrivingImminently
	} else {
		est.Outcome = OutcomeInTransit
	}
	return est, nil
}
