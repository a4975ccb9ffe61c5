package directions

import (
	"fmt"
	"sort"
	"strings"

	"github.com/campusmap/navcore/server/internal/lib/geo"
	"github.com/campusmap/navcore/server/internal/lib/route"
)

// Normalize converts a provider response into a Route. It is pure: the same
// response and request always produce the same route. precision applies only
// to encoded polyline geometry.
func Normalize(resp *DirectionsResponse, req route.Request, precision int) (*route.Route, error) {
	if resp == nil || len(resp.Routes) == 0 {
		return nil, fmt.Errorf("%w: no candidate routes", route.ErrNoRouteFound)
	}

	candidate := selectCandidate(resp.Routes, req)

	polyline, err := decodeGeometry(candidate.Geometry, precision)
	if err != nil {
		return nil, err
	}
	if len(polyline) < 2 {
		return nil, fmt.Errorf("%w: route geometry has %d points", route.ErrNoRouteFound, len(polyline))
	}

	expectedLegs := len(req.Points) - 1
	if len(candidate.Legs) != expectedLegs {
		return nil, fmt.Errorf("%w: expected %d legs, provider returned %d",
			route.ErrNoRouteFound, expectedLegs, len(candidate.Legs))
	}

	r := &route.Route{
		Polyline:  polyline,
		Legs:      make([]route.RouteLeg, len(candidate.Legs)),
		Waypoints: append([]route.Waypoint(nil), req.Points...),
		Mode:      req.Mode,
	}

	for i, leg := range candidate.Legs {
		steps := make([]route.RouteStep, len(leg.Steps))
		for j, step := range leg.Steps {
			steps[j] = normalizeStep(step)
		}

		r.Legs[i] = route.RouteLeg{
			DistanceMeters:  leg.Distance,
			DurationSeconds: leg.Duration,
			Steps:           steps,
			OriginName:      req.Points[i].DisplayName,
			DestinationName: req.Points[i+1].DisplayName,
		}
		r.TotalDistanceMeters += leg.Distance
		r.TotalDurationSeconds += leg.Duration
	}

	return r, nil
}

// selectCandidate applies the route preference for single-destination requests.
// Fastest is the provider's primary route; shortest is the minimum distance,
// ties resolved in provider order.
func selectCandidate(routes []DirectionsRoute, req route.Request) DirectionsRoute {
	if !req.SinglePreference || req.Preference != route.Shortest || len(routes) == 1 {
		return routes[0]
	}

	sorted := append([]DirectionsRoute(nil), routes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Distance < sorted[j].Distance
	})
	return sorted[0]
}

func decodeGeometry(g Geometry, precision int) ([]geo.Coordinate, error) {
	if g.Encoded != "" {
		polyline, err := geo.DecodePolyline(g.Encoded, precision)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", route.ErrNoRouteFound, err)
		}
		return polyline, nil
	}

	polyline := make([]geo.Coordinate, 0, len(g.Coordinates))
	for i, pair := range g.Coordinates {
		if len(pair) < 2 {
			return nil, fmt.Errorf("%w: geometry position %d has %d values", route.ErrNoRouteFound, i, len(pair))
		}
		polyline = append(polyline, geo.Coordinate{Longitude: pair[0], Latitude: pair[1]})
	}
	return polyline, nil
}

func normalizeStep(step DirectionsStep) route.RouteStep {
	maneuver := route.Maneuver{
		Type:     route.ParseManeuverType(step.Maneuver.Type),
		Modifier: route.ParseManeuverModifier(step.Maneuver.Modifier),
	}

	text := step.Instruction
	if text == "" {
		text = step.Maneuver.Instruction
	}
	if text == "" {
		text = InstructionFor(maneuver, step.Name)
	}

	return route.RouteStep{
		InstructionText: text,
		DistanceMeters:  step.Distance,
		DurationSeconds: step.Duration,
		Maneuver:        maneuver,
	}
}

// InstructionFor builds a plain instruction for providers that send none
func InstructionFor(m route.Maneuver, name string) string {
	var b strings.Builder
	switch m.Type {
	case route.ManeuverDepart:
		b.WriteString("Depart")
		if name != "" {
			b.WriteString(" on " + name)
		}
		return b.String()
	case route.ManeuverArrive:
		if name != "" {
			return "Arrive at " + name
		}
		return "Arrive at your destination"
	case route.ManeuverRoundabout, route.ManeuverRotary, route.ManeuverRoundaboutTurn:
		b.WriteString("Enter the roundabout")
	case route.ManeuverExitRoundabout, route.ManeuverExitRotary:
		b.WriteString("Exit the roundabout")
	default:
		switch m.Modifier {
		case route.ModifierNone, route.ModifierUnknown, route.ModifierStraight:
			b.WriteString("Continue")
		case route.ModifierUturn:
			b.WriteString("Make a U-turn")
		default:
			b.WriteString("Turn " + m.Modifier.String())
		}
	}
	if name != "" {
		b.WriteString(" onto " + name)
	}
	return b.String()
}
