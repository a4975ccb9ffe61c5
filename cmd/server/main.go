package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"

	"github.com/dpup/prefab"
	"github.com/dpup/prefab/logging"
	"github.com/joho/godotenv"

	"github.com/campusmap/navcore/server/internal/cache"
	"github.com/campusmap/navcore/server/internal/clients/directions"
	"github.com/campusmap/navcore/server/internal/clients/google"
	"github.com/campusmap/navcore/server/internal/config"
	"github.com/campusmap/navcore/server/internal/events"
	"github.com/campusmap/navcore/server/internal/lib/briefing"
	"github.com/campusmap/navcore/server/internal/lib/route"
	"github.com/campusmap/navcore/server/internal/services"
)

func main() {
	// .env is optional; real deployments set PF__ variables directly
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	appConfig, err := config.Load(prefab.Config)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := logging.EnsureLogger(context.Background())

	cacheInstance := cache.NewCache()
	cacheInstance.StartPeriodicCleanup(ctx, appConfig.Directions.CacheTTL)

	// Directions are cached by request so repeated edits to the same itinerary
	// do not hit the provider
	var upstream route.Provider
	switch appConfig.Directions.Provider {
	case "google":
		upstream = google.NewClient(appConfig.Directions)
	default:
		upstream = directions.NewClient(appConfig.Directions)
	}
	provider := directions.NewCachedProvider(upstream,
		cache.NewRouteCacheAdapter(cacheInstance), appConfig.Directions.CacheTTL)

	var briefer briefing.Briefer
	if openAI := briefing.NewOpenAIBriefer(appConfig.Briefing.OpenAIAPIKey, appConfig.Briefing.Model); openAI != nil {
		log.Printf("Trip briefings enabled (model: %s)", appConfig.Briefing.Model)
		briefer = openAI
	} else {
		log.Printf("No OpenAI key configured, trip briefings use the built-in summary")
	}
	briefer = briefing.NewCachedBriefer(briefer,
		cache.NewBriefingCacheAdapter(cacheInstance), appConfig.Briefing.CacheTTL)

	var publisher events.Publisher = events.NopPublisher{}
	if appConfig.Events.AMQPURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(appConfig.Events.AMQPURL, appConfig.Events.Exchange)
		if err != nil {
			log.Fatalf("Failed to connect event publisher: %v", err)
		}
		publisher = amqpPublisher
		log.Printf("Publishing navigation events to exchange %q", appConfig.Events.Exchange)
	}

	navigation := services.NewNavigationService(provider, briefer, publisher, appConfig.Tracking)
	defer func() {
		if err := navigation.Close(); err != nil {
			log.Printf("Failed to close navigation service: %v", err)
		}
	}()

	reaper := services.NewSessionReaper(navigation, appConfig.Sessions.IdleTimeout, appConfig.Sessions.ReapInterval)
	reaper.StartReaping(ctx)
	defer reaper.Stop()

	router := navigation.Router(appConfig.Server.CorsOrigins)

	log.Printf("Navigation API server starting (directions: %s, geometry: %s)",
		appConfig.Directions.Provider, appConfig.Directions.Geometry)

	// Server configuration (port, etc.) is loaded from prefab.yaml/env vars
	server := prefab.New(
		prefab.WithHTTPHandlerFunc(services.BasePath+"/", router.ServeHTTP),
		prefab.WithHTTPHandlerFunc("/", homepageHandler),
	)

	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// homepageHandler serves a plain index of the API at the server root
func homepageHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	html := `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>navcore</title>
    <style>
        body { font-family: 'Courier New', Consolas, monospace; background: #000; color: #0f0; padding: 20px; line-height: 1.4; }
        .header { color: #ff0; }
        pre { margin: 0; }
    </style>
</head>
<body>
<pre>
<span class="header">navcore</span>

Campus navigation API: routes, multi-stop trips and live progress tracking.

<span class="header">Sessions:</span>
  POST   /api/v1/navigation/sessions                    - Create a single-destination session
  POST   /api/v1/navigation/sessions/{id}/route         - Route origin to destination
  PUT    /api/v1/navigation/sessions/{id}/mode          - Change travel mode
  PUT    /api/v1/navigation/sessions/{id}/preference    - fastest or shortest

<span class="header">Trips:</span>
  POST   /api/v1/navigation/trips                       - Create a multi-stop trip
  PUT    /api/v1/navigation/trips/{id}/origin           - Set the origin
  POST   /api/v1/navigation/trips/{id}/waypoints        - Add a stop
  POST   /api/v1/navigation/trips/{id}/waypoints/move   - Reorder a stop
  DELETE /api/v1/navigation/trips/{id}/waypoints/{i}    - Remove a stop
  POST   /api/v1/navigation/trips/{id}/route            - Route the itinerary

<span class="header">Both:</span>
  GET    /api/v1/navigation/{kind}/{id}                 - Current state
  POST   /api/v1/navigation/{kind}/{id}/positions       - Push a device position
  POST   /api/v1/navigation/{kind}/{id}/tracking/start  - Start tracking
  POST   /api/v1/navigation/{kind}/{id}/tracking/stop   - Stop tracking
  GET    /api/v1/navigation/{kind}/{id}/briefing        - Trip summary
  GET    /api/v1/navigation/{kind}/{id}/export.kml      - KML export
  GET    /api/v1/navigation/{kind}/{id}/export.geojson  - GeoJSON export
</pre>
</body>
</html>`

	if _, err := fmt.Fprint(w, html); err != nil {
		slog.Error("Failed to write homepage HTML", "error", err)
	}
}
