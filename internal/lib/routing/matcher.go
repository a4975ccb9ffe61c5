package routing

import (
	"math"

	"github.com/campusmap/navcore/server/internal/lib/geo"
	"github.com/campusmap/navcore/server/internal/lib/route"
)

// fractionSlack absorbs floating point error when comparing progress fractions
const fractionSlack = 1e-9

// Matcher attributes a position to a route step and decides whether it is off route.
// The zero value is not usable; use NewMatcher or DefaultMatcher.
type Matcher struct {
	// ThresholdMeters is the off-route distance threshold
	ThresholdMeters float64

	// SnapToSegments projects onto polyline segments instead of matching the
	// nearest vertex. Vertex matching overestimates distance near long segments.
	SnapToSegments bool
}

// NewMatcher creates a matcher. A non-positive threshold falls back to OffRouteThresholdMeters.
func NewMatcher(thresholdMeters float64, snapToSegments bool) Matcher {
	if thresholdMeters <= 0 || math.IsNaN(thresholdMeters) {
		thresholdMeters = OffRouteThresholdMeters
	}
	return Matcher{ThresholdMeters: thresholdMeters, SnapToSegments: snapToSegments}
}

// DefaultMatcher matches against vertices with the default 50m threshold.
func DefaultMatcher() Matcher {
	return NewMatcher(OffRouteThresholdMeters, false)
}

// MatchProgress matches with the default matcher.
func MatchProgress(position geo.Coordinate, polyline []geo.Coordinate, steps []route.RouteStep) Progress {
	return DefaultMatcher().Match(position, polyline, steps)
}

// Match computes the current step, remaining distance in that step and off-route status.
//
// The polyline and the step list are independent representations of the same route,
// so the step is estimated by comparing fractional progress along the polyline with
// fractional progress along cumulative step distances.
func (m Matcher) Match(position geo.Coordinate, polyline []geo.Coordinate, steps []route.RouteStep) Progress {
	if len(polyline) == 0 || len(steps) == 0 {
		return NoProgress
	}

	distance, fraction := m.locate(position, polyline)

	progress := Progress{
		IsOffRoute:              distance > m.threshold(),
		DistanceFromRouteMeters: distance,
	}

	// At (or past) the final vertex the traveler is on the arrive step
	if fraction >= 1-fractionSlack {
		progress.CurrentStepIndex = len(steps) - 1
		progress.DistanceToNextStepMeters = 0
		return progress
	}

	total := 0.0
	for _, step := range steps {
		total += stepDistance(step)
	}

	// No usable step distances: attribute by step count
	if total <= 0 {
		index := int(fraction * float64(len(steps)))
		if index > len(steps)-1 {
			index = len(steps) - 1
		}
		progress.CurrentStepIndex = index
		return progress
	}

	cumulative := 0.0
	for i, step := range steps {
		d := stepDistance(step)
		stepStart := cumulative
		cumulative += d

		if cumulative/total >= fraction-fractionSlack || i == len(steps)-1 {
			covered := fraction*total - stepStart
			remaining := d - covered
			progress.CurrentStepIndex = i
			progress.DistanceToNextStepMeters = math.Max(0, math.Min(d, remaining))
			return progress
		}
	}

	return progress
}

// locate returns the distance to the route and the fractional progress [0, 1]
// along the polyline vertex sequence.
func (m Matcher) locate(position geo.Coordinate, polyline []geo.Coordinate) (float64, float64) {
	if len(polyline) == 1 {
		return geo.HaversineDistance(position, polyline[0]), 1
	}

	last := float64(len(polyline) - 1)
	if m.SnapToSegments {
		nearest, _ := geo.NearestPointOnSegments(position, polyline)
		return nearest.DistanceMeters, nearest.Progress / last
	}

	nearest, _ := geo.NearestPointOnPolyline(position, polyline)
	return nearest.DistanceMeters, float64(nearest.Index) / last
}

func (m Matcher) threshold() float64 {
	if m.ThresholdMeters <= 0 {
		return OffRouteThresholdMeters
	}
	return m.ThresholdMeters
}

func stepDistance(step route.RouteStep) float64 {
	if step.DistanceMeters <= 0 || math.IsNaN(step.DistanceMeters) || math.IsInf(step.DistanceMeters, 0) {
		return 0
	}
	return step.DistanceMeters
}

// OffRouteDetector turns a stream of off-route booleans into transition edges.
type OffRouteDetector struct {
	offRoute bool
}

// Observe records the latest off-route state and reports whether it is a
// false to true transition.
func (d *OffRouteDetector) Observe(offRoute bool) bool {
	entered := offRoute && !d.offRoute
	d.offRoute = offRoute
	return entered
}

// Reset forgets the previous state, e.g. when the active route changes.
func (d *OffRouteDetector) Reset() {
	d.offRoute = false
}
