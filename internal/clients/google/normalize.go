package google

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/campusmap/navcore/server/internal/clients/directions"
	"github.com/campusmap/navcore/server/internal/lib/geo"
	"github.com/campusmap/navcore/server/internal/lib/route"
)

// polylinePrecision is fixed by the Routes API
const polylinePrecision = 5

var maneuvers = map[string]route.Maneuver{
	"DEPART":               {Type: route.ManeuverDepart},
	"TURN_LEFT":            {Type: route.ManeuverTurn, Modifier: route.ModifierLeft},
	"TURN_RIGHT":           {Type: route.ManeuverTurn, Modifier: route.ModifierRight},
	"TURN_SLIGHT_LEFT":     {Type: route.ManeuverTurn, Modifier: route.ModifierSlightLeft},
	"TURN_SLIGHT_RIGHT":    {Type: route.ManeuverTurn, Modifier: route.ModifierSlightRight},
	"TURN_SHARP_LEFT":      {Type: route.ManeuverTurn, Modifier: route.ModifierSharpLeft},
	"TURN_SHARP_RIGHT":     {Type: route.ManeuverTurn, Modifier: route.ModifierSharpRight},
	"UTURN_LEFT":           {Type: route.ManeuverTurn, Modifier: route.ModifierUturn},
	"UTURN_RIGHT":          {Type: route.ManeuverTurn, Modifier: route.ModifierUturn},
	"STRAIGHT":             {Type: route.ManeuverContinue, Modifier: route.ModifierStraight},
	"NAME_CHANGE":          {Type: route.ManeuverNewName},
	"RAMP_LEFT":            {Type: route.ManeuverOnRamp, Modifier: route.ModifierLeft},
	"RAMP_RIGHT":           {Type: route.ManeuverOnRamp, Modifier: route.ModifierRight},
	"MERGE":                {Type: route.ManeuverMerge},
	"FORK_LEFT":            {Type: route.ManeuverFork, Modifier: route.ModifierLeft},
	"FORK_RIGHT":           {Type: route.ManeuverFork, Modifier: route.ModifierRight},
	"ROUNDABOUT_LEFT":      {Type: route.ManeuverRoundabout, Modifier: route.ModifierLeft},
	"ROUNDABOUT_RIGHT":     {Type: route.ManeuverRoundabout, Modifier: route.ModifierRight},
	"FERRY":                {Type: route.ManeuverNotification},
	"FERRY_TRAIN":          {Type: route.ManeuverNotification},
	"MANEUVER_UNSPECIFIED": {Type: route.ManeuverUnknown},
}

// Normalize converts a computeRoutes response into a Route. Google does not
// emit an arrival step, so one is appended to every leg.
func Normalize(resp *RoutesResponse, req route.Request) (*route.Route, error) {
	if resp == nil || len(resp.Routes) == 0 {
		return nil, fmt.Errorf("%w: no candidate routes", route.ErrNoRouteFound)
	}

	candidate := selectCandidate(resp.Routes, req)

	polyline, err := geo.DecodePolyline(candidate.Polyline.EncodedPolyline, polylinePrecision)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", route.ErrNoRouteFound, err)
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
		duration, err := parseDuration(leg.Duration)
		if err != nil {
			return nil, fmt.Errorf("%w: leg %d: %w", route.ErrProviderUnavailable, i, err)
		}

		steps := make([]route.RouteStep, 0, len(leg.Steps)+1)
		for _, step := range leg.Steps {
			steps = append(steps, normalizeStep(step))
		}
		arrive := route.Maneuver{Type: route.ManeuverArrive}
		steps = append(steps, route.RouteStep{
			InstructionText: directions.InstructionFor(arrive, req.Points[i+1].DisplayName),
			Maneuver:        arrive,
		})

		r.Legs[i] = route.RouteLeg{
			DistanceMeters:  leg.DistanceMeters,
			DurationSeconds: duration,
			Steps:           steps,
			OriginName:      req.Points[i].DisplayName,
			DestinationName: req.Points[i+1].DisplayName,
		}
		r.TotalDistanceMeters += leg.DistanceMeters
		r.TotalDurationSeconds += duration
	}

	return r, nil
}

func selectCandidate(routes []Route, req route.Request) Route {
	if !req.SinglePreference || req.Preference != route.Shortest || len(routes) == 1 {
		return routes[0]
	}

	sorted := append([]Route(nil), routes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DistanceMeters < sorted[j].DistanceMeters
	})
	return sorted[0]
}

func normalizeStep(step Step) route.RouteStep {
	var maneuver route.Maneuver
	text := ""
	if step.NavigationInstruction != nil {
		m, ok := maneuvers[step.NavigationInstruction.Maneuver]
		if !ok {
			m = route.Maneuver{Type: route.ManeuverUnknown}
		}
		maneuver = m
		text = step.NavigationInstruction.Instructions
	}
	if text == "" {
		text = directions.InstructionFor(maneuver, "")
	}

	// Step durations are optional in responses; treat missing as zero
	duration, _ := parseDuration(step.StaticDuration)

	return route.RouteStep{
		InstructionText: text,
		DistanceMeters:  step.DistanceMeters,
		DurationSeconds: duration,
		Maneuver:        maneuver,
	}
}

// parseDuration parses Google's duration format like "450s" to seconds
func parseDuration(durationStr string) (float64, error) {
	if durationStr == "" {
		return 0, fmt.Errorf("empty duration string")
	}
	seconds, err := strconv.ParseFloat(strings.TrimSuffix(durationStr, "s"), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", durationStr, err)
	}
	return seconds, nil
}
