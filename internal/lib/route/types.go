package route

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/campusmap/navcore/server/internal/lib/geo"
)

// TravelMode selects the routing profile
type TravelMode string

const (
	Walking TravelMode = "walking"
	Cycling TravelMode = "cycling"
	Driving TravelMode = "driving"
	Bus     TravelMode = "bus" // reserved, not route-computed
)

// ParseTravelMode parses a travel mode name.
func ParseTravelMode(s string) (TravelMode, error) {
	switch mode := TravelMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case Walking, Cycling, Driving, Bus:
		return mode, nil
	default:
		return "", fmt.Errorf("%w: unknown travel mode %q", ErrInvalidInput, s)
	}
}

// Routable reports whether routes can be computed for the mode.
func (m TravelMode) Routable() bool {
	return m == Walking || m == Cycling || m == Driving
}

// RoutePreference selects between provider alternatives for single-destination routes
type RoutePreference string

const (
	Fastest  RoutePreference = "fastest"
	Shortest RoutePreference = "shortest"
)

// ParseRoutePreference parses a route preference name.
func ParseRoutePreference(s string) (RoutePreference, error) {
	switch pref := RoutePreference(strings.ToLower(strings.TrimSpace(s))); pref {
	case Fastest, Shortest:
		return pref, nil
	default:
		return "", fmt.Errorf("%w: unknown route preference %q", ErrInvalidInput, s)
	}
}

// Waypoint is one stop of an itinerary
type Waypoint struct {
	Coordinates      geo.Coordinate `json:"coordinates"`
	DisplayName      string         `json:"display_name"`
	SourceLocationID string         `json:"source_location_id,omitempty"`
	Key              string         `json:"key,omitempty"` // optional stable key for reordering UIs
}

// RouteStep is a single instruction. Index 0 departs, the last index arrives.
type RouteStep struct {
	InstructionText string   `json:"instruction_text"`
	DistanceMeters  float64  `json:"distance_meters"`
	DurationSeconds float64  `json:"duration_seconds"`
	Maneuver        Maneuver `json:"maneuver"`
}

// RouteLeg covers one consecutive pair of itinerary points
type RouteLeg struct {
	DistanceMeters  float64     `json:"distance_meters"`
	DurationSeconds float64     `json:"duration_seconds"`
	Steps           []RouteStep `json:"steps"`
	OriginName      string      `json:"origin_name"`
	DestinationName string      `json:"destination_name"`
}

// Route is a normalized single- or multi-stop route. Waypoints[0] is the origin.
// A Route is immutable once built; sessions hand out the same pointer to readers.
type Route struct {
	TotalDistanceMeters  float64          `json:"total_distance_meters"`
	TotalDurationSeconds float64          `json:"total_duration_seconds"`
	Polyline             []geo.Coordinate `json:"polyline"`
	Legs                 []RouteLeg       `json:"legs"`
	Waypoints            []Waypoint       `json:"waypoints"`
	Mode                 TravelMode       `json:"mode"`
}

// Steps flattens the steps of every leg in travel order.
func (r *Route) Steps() []RouteStep {
	if r == nil {
		return nil
	}
	var steps []RouteStep
	for _, leg := range r.Legs {
		steps = append(steps, leg.Steps...)
	}
	return steps
}

// Validate checks the totals invariant: total distance equals the sum of leg distances.
func (r *Route) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil route", ErrNoRouteFound)
	}
	if len(r.Legs) == 0 {
		return fmt.Errorf("%w: route has no legs", ErrNoRouteFound)
	}
	sum := 0.0
	for _, leg := range r.Legs {
		sum += leg.DistanceMeters
	}
	if math.Abs(sum-r.TotalDistanceMeters) > 0.5 {
		return fmt.Errorf("%w: route total %.1fm does not match leg sum %.1fm", ErrNoRouteFound, r.TotalDistanceMeters, sum)
	}
	return nil
}

// Request describes one routing call
type Request struct {
	Points     []Waypoint      `json:"points"`
	Mode       TravelMode      `json:"mode"`
	Preference RoutePreference `json:"preference"`

	// SinglePreference applies Preference when alternatives are returned.
	// Only single-destination sessions set it.
	SinglePreference bool `json:"single_preference"`
}

// Provider fetches and normalizes routes from an external directions service
type Provider interface {
	FetchRoute(ctx context.Context, req Request) (*Route, error)
}

// ValidateRequest rejects malformed requests synchronously with ErrInvalidInput.
func ValidateRequest(req Request) error {
	if len(req.Points) < 2 {
		return fmt.Errorf("%w: at least 2 points are required, got %d", ErrInvalidInput, len(req.Points))
	}
	if !req.Mode.Routable() {
		return fmt.Errorf("%w: travel mode %q cannot be routed", ErrInvalidInput, req.Mode)
	}
	for i, p := range req.Points {
		if !geo.IsValid(p.Coordinates) {
			return fmt.Errorf("%w: point %d has invalid coordinates", ErrInvalidInput, i)
		}
	}
	if req.Preference != "" && req.Preference != Fastest && req.Preference != Shortest {
		return fmt.Errorf("%w: unknown route preference %q", ErrInvalidInput, req.Preference)
	}
	return nil
}
