package tracking

import (
	"context"
	"time"

	"github.com/campusmap/navcore/server/internal/lib/geo"
	"github.com/campusmap/navcore/server/internal/lib/route"
)

// Sample is one device position fix
type Sample struct {
	Coordinate     geo.Coordinate `json:"coordinate"`
	AccuracyMeters float64        `json:"accuracy_meters"`
	HeadingDegrees *float64       `json:"heading_degrees,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// PositionSource delivers device positions. Samples arrive at irregular
// intervals; a value on the error channel ends the subscription.
type PositionSource interface {
	Subscribe(ctx context.Context) (<-chan Sample, <-chan error, error)
}

// RouteProvider exposes whichever route is currently active. Sessions implement it.
type RouteProvider interface {
	ActiveRoute() *route.Route
}

// TrackingState is the live progress read by the UI. Progress fields are only
// meaningful when Matched is true; with no active route they stay zero.
type TrackingState struct {
	LastPosition   *geo.Coordinate `json:"last_position,omitempty"`
	HeadingDegrees *float64        `json:"heading_degrees,omitempty"`
	AccuracyMeters *float64        `json:"accuracy_meters,omitempty"`

	CurrentStepIndex         int     `json:"current_step_index"`
	DistanceToNextStepMeters float64 `json:"distance_to_next_step_meters"`
	IsOffRoute               bool    `json:"is_off_route"`
	DistanceFromRouteMeters  float64 `json:"distance_from_route_meters"`
	Matched                  bool    `json:"matched"`

	IsTracking bool      `json:"is_tracking"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

// clone copies the optional fields so callers cannot alias tracker state
func (s TrackingState) clone() TrackingState {
	if s.LastPosition != nil {
		p := *s.LastPosition
		s.LastPosition = &p
	}
	if s.HeadingDegrees != nil {
		h := *s.HeadingDegrees
		s.HeadingDegrees = &h
	}
	if s.AccuracyMeters != nil {
		a := *s.AccuracyMeters
		s.AccuracyMeters = &a
	}
	return s
}

// resetProgress returns the state to route defaults, keeping position fields
func (s *TrackingState) resetProgress() {
	s.CurrentStepIndex = 0
	s.DistanceToNextStepMeters = 0
	s.IsOffRoute = false
	s.DistanceFromRouteMeters = 0
	s.Matched = false
}
