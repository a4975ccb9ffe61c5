package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/campusmap/navcore/server/internal/clients/directions"
	"github.com/campusmap/navcore/server/internal/clients/google"
	"github.com/campusmap/navcore/server/internal/clients/gpxreplay"
	"github.com/campusmap/navcore/server/internal/config"
	"github.com/campusmap/navcore/server/internal/lib/briefing"
	"github.com/campusmap/navcore/server/internal/lib/geo"
	"github.com/campusmap/navcore/server/internal/lib/route"
	"github.com/campusmap/navcore/server/internal/lib/routing"
	"github.com/campusmap/navcore/server/internal/session"
	"github.com/campusmap/navcore/server/internal/tracking"
)

// staticProvider serves one pre-computed route regardless of the request
type staticProvider struct {
	route *route.Route
}

func (p staticProvider) FetchRoute(context.Context, route.Request) (*route.Route, error) {
	return p.route, nil
}

func main() {
	_ = godotenv.Load()

	var (
		apiKey    = flag.String("api-key", "", "Directions API key (or set MAPBOX_ACCESS_TOKEN / GOOGLE_MAPS_API_KEY)")
		provName  = flag.String("provider", "mapbox", "Directions provider: mapbox or google")
		fromStr   = flag.String("from", "", "Origin coordinates (lng,lat)")
		toStr     = flag.String("to", "", "Destination coordinates (lng,lat)")
		viaStr    = flag.String("via", "", "Intermediate stops, semicolon separated (lng,lat;lng,lat)")
		modeStr   = flag.String("mode", "walking", "Travel mode: walking, cycling or driving")
		gpxPath   = flag.String("gpx", "", "GPX track to replay as device positions")
		routeJSON = flag.String("route-json", "", "Use a saved route JSON file instead of calling the provider")
		speedup   = flag.Float64("speedup", 0, "Replay speed multiplier; 0 replays without pauses")
		threshold = flag.Float64("threshold", routing.OffRouteThresholdMeters, "Off-route threshold in meters")
		snap      = flag.Bool("snap", false, "Snap positions to polyline segments instead of vertices")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help || *gpxPath == "" || (*routeJSON == "" && (*fromStr == "" || *toStr == "")) {
		fmt.Printf("Navigation Replay Tool\n\n")
		fmt.Printf("Replays a recorded GPX track against a route and prints live progress.\n\n")
		fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		flag.PrintDefaults()
		fmt.Printf("\nExamples:\n")
		fmt.Printf("  %s -from=-122.1697,37.4275 -to=-122.1630,37.4310 -gpx=walk.gpx\n", os.Args[0])
		fmt.Printf("  %s -from=-122.1697,37.4275 -via=-122.1660,37.4290 -to=-122.1630,37.4310 -mode=cycling -gpx=ride.gpx -speedup=20\n", os.Args[0])
		fmt.Printf("  %s -route-json=route.json -gpx=walk.gpx\n", os.Args[0])
		if !*help {
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	mode, err := route.ParseTravelMode(*modeStr)
	if err != nil {
		log.Fatalf("Invalid mode: %v", err)
	}

	provider, points, err := buildProvider(*provName, *apiKey, *routeJSON, *fromStr, *viaStr, *toStr)
	if err != nil {
		log.Fatalf("Setup failed: %v", err)
	}

	trip := session.NewMultiStopSession(provider)
	fmt.Printf("Requesting %s route through %d points...\n", mode, len(points))
	r, err := trip.RequestMultiStopRoute(ctx, points[0], points[1:], mode)
	if err != nil {
		log.Fatalf("Route request failed: %v", err)
	}
	printRoute(ctx, r)

	source, err := gpxreplay.Load(*gpxPath, gpxreplay.Options{
		Speedup:               *speedup,
		DefaultAccuracyMeters: config.DefaultConfig().Tracking.DefaultAccuracyMeters,
	})
	if err != nil {
		log.Fatalf("Failed to load GPX: %v", err)
	}
	fmt.Printf("\nReplaying %d positions from %s\n\n", len(source.Samples()), *gpxPath)

	tracker := tracking.NewTracker(source, trip, routing.NewMatcher(*threshold, *snap))
	trip.AttachTracker(tracker)

	steps := r.Steps()
	tracker.OnOffRoute(func(s tracking.TrackingState) {
		fmt.Printf("  >> off route, %.0f m from the line\n", s.DistanceFromRouteMeters)
	})
	tracker.OnArrive(func(tracking.TrackingState) {
		fmt.Printf("  >> arrived\n")
	})

	sampleNum := 0
	if err := tracker.Start(ctx, func(s tracking.TrackingState) {
		sampleNum++
		printState(sampleNum, s, steps)
	}); err != nil {
		log.Fatalf("Failed to start tracking: %v", err)
	}

	for tracker.Running() {
		select {
		case <-ctx.Done():
			tracker.Stop()
		case <-time.After(50 * time.Millisecond):
		}
	}

	if err := tracker.Err(); err != nil {
		log.Fatalf("Tracking failed: %v", err)
	}
	fmt.Printf("\nReplay finished after %d samples\n", sampleNum)
}

func buildProvider(providerName, apiKey, routeJSON, fromStr, viaStr, toStr string) (route.Provider, []route.Waypoint, error) {
	if routeJSON != "" {
		data, err := os.ReadFile(routeJSON)
		if err != nil {
			return nil, nil, fmt.Errorf("reading route file: %w", err)
		}
		var r route.Route
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, nil, fmt.Errorf("parsing route file: %w", err)
		}
		if len(r.Waypoints) < 2 {
			return nil, nil, fmt.Errorf("route file must list at least two waypoints")
		}
		return staticProvider{route: &r}, r.Waypoints, nil
	}

	points, err := parseItinerary(fromStr, viaStr, toStr)
	if err != nil {
		return nil, nil, err
	}

	envVar := "MAPBOX_ACCESS_TOKEN"
	if providerName == "google" {
		envVar = "GOOGLE_MAPS_API_KEY"
	}
	key := apiKey
	if key == "" {
		key = os.Getenv(envVar)
	}
	if key == "" {
		return nil, nil, fmt.Errorf("a directions API key is required (-api-key or %s)", envVar)
	}

	cfg := config.DefaultConfig()
	cfg.Directions.Provider = providerName
	cfg.Directions.APIKey = key
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if providerName == "google" {
		return google.NewClient(cfg.Directions), points, nil
	}
	return directions.NewClient(cfg.Directions), points, nil
}

func parseItinerary(fromStr, viaStr, toStr string) ([]route.Waypoint, error) {
	var raw []string
	raw = append(raw, fromStr)
	if viaStr != "" {
		raw = append(raw, strings.Split(viaStr, ";")...)
	}
	raw = append(raw, toStr)

	points := make([]route.Waypoint, 0, len(raw))
	for i, s := range raw {
		c, err := parseCoordinate(s)
		if err != nil {
			return nil, err
		}
		name := fmt.Sprintf("Stop %d", i)
		switch i {
		case 0:
			name = "Start"
		case len(raw) - 1:
			name = "Destination"
		}
		points = append(points, route.Waypoint{Coordinates: c, DisplayName: name})
	}
	return points, nil
}

// parseCoordinate parses "lng,lat"
func parseCoordinate(s string) (geo.Coordinate, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return geo.Coordinate{}, fmt.Errorf("invalid coordinate %q, expected lng,lat", s)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("invalid longitude in %q: %w", s, err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("invalid latitude in %q: %w", s, err)
	}
	c := geo.Coordinate{Longitude: lng, Latitude: lat}
	if !geo.IsValid(c) {
		return geo.Coordinate{}, fmt.Errorf("coordinate %q is out of range", s)
	}
	return c, nil
}

func printRoute(ctx context.Context, r *route.Route) {
	summary, err := briefing.NewFallbackBriefer().Brief(ctx, r)
	if err == nil {
		fmt.Println(summary.Summary)
	}
	for i, leg := range r.Legs {
		fmt.Printf("Leg %d: %s -> %s (%s, %s)\n", i+1, leg.OriginName, leg.DestinationName,
			briefing.FormatDistance(leg.DistanceMeters), briefing.FormatDuration(leg.DurationSeconds))
		for _, step := range leg.Steps {
			fmt.Printf("  [%s] %s\n", step.Maneuver.Icon(), step.InstructionText)
		}
	}
}

func printState(n int, s tracking.TrackingState, steps []route.RouteStep) {
	position := "-"
	if s.LastPosition != nil {
		position = fmt.Sprintf("%.6f,%.6f", s.LastPosition.Longitude, s.LastPosition.Latitude)
	}
	if !s.Matched {
		fmt.Printf("%4d  %s  no route\n", n, position)
		return
	}

	status := "on route"
	if s.IsOffRoute {
		status = "OFF ROUTE"
	}
	instruction := ""
	if s.CurrentStepIndex < len(steps) {
		instruction = steps[s.CurrentStepIndex].InstructionText
	}
	fmt.Printf("%4d  %s  step %d/%d  %6.0f m to next  %-9s %5.1f m  %s\n",
		n, position, s.CurrentStepIndex+1, len(steps), s.DistanceToNextStepMeters,
		status, s.DistanceFromRouteMeters, instruction)
}
