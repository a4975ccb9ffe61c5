package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dpup/prefab/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/campusmap/navcore/server/internal/export"
	"github.com/campusmap/navcore/server/internal/lib/route"
	"github.com/campusmap/navcore/server/internal/tracking"
)

// BasePath is where the navigation API is mounted
const BasePath = "/api/v1/navigation"

type createdResponse struct {
	ID string `json:"id"`
}

type singleRouteRequest struct {
	Origin      route.Waypoint `json:"origin"`
	Destination route.Waypoint `json:"destination"`
	Mode        string         `json:"mode"`
}

type tripRouteRequest struct {
	Origin    *route.Waypoint  `json:"origin,omitempty"`
	Waypoints []route.Waypoint `json:"waypoints,omitempty"`
	Mode      string           `json:"mode,omitempty"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type preferenceRequest struct {
	Preference string `json:"preference"`
}

type moveRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type positionErrorRequest struct {
	Reason string `json:"reason"`
}

// Router builds the HTTP handler for the navigation API
func (s *NavigationService) Router(corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(withLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route(BasePath, func(r chi.Router) {
		r.Post("/sessions", s.handleCreate(KindSession))
		r.Route("/sessions/{id}", func(r chi.Router) {
			s.mountShared(r, KindSession)
			r.Post("/route", s.handleSingleRoute)
			r.Put("/mode", s.handleSingleMode)
			r.Put("/preference", s.handleSinglePreference)
		})

		r.Post("/trips", s.handleCreate(KindTrip))
		r.Route("/trips/{id}", func(r chi.Router) {
			s.mountShared(r, KindTrip)
			r.Post("/route", s.handleTripRoute)
			r.Put("/mode", s.handleTripMode)
			r.Put("/origin", s.handleTripOrigin)
			r.Post("/waypoints", s.handleAddWaypoint)
			r.Put("/waypoints", s.handleReorderWaypoints)
			r.Delete("/waypoints", s.handleClearWaypoints)
			r.Delete("/waypoints/{index}", s.handleRemoveWaypoint)
			r.Post("/waypoints/move", s.handleMoveWaypoint)
		})
	})

	return r
}

// mountShared registers the endpoints both session kinds support
func (s *NavigationService) mountShared(r chi.Router, kind Kind) {
	r.Get("/", s.handleSnapshot(kind))
	r.Delete("/", s.handleDelete(kind))
	r.Get("/briefing", s.handleBriefing(kind))
	r.Get("/export.kml", s.handleExportKML(kind))
	r.Get("/export.geojson", s.handleExportGeoJSON(kind))
	r.Post("/tracking/start", s.handleTrackingStart(kind))
	r.Post("/tracking/stop", s.handleTrackingStop(kind))
	r.Post("/positions", s.handlePosition(kind))
	r.Post("/positions/error", s.handlePositionError(kind))
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %w", route.ErrInvalidInput, err)
	}
	return nil
}

func (s *NavigationService) writeSnapshot(w http.ResponseWriter, r *http.Request, kind Kind) {
	snap, err := s.Snapshot(kind, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *NavigationService) handleCreate(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var id string
		if kind == KindTrip {
			id = s.CreateTrip()
		} else {
			id = s.CreateSession()
		}
		w.Header().Set("Location", fmt.Sprintf("%s/%s/%s", BasePath, kind, id))
		writeJSON(w, http.StatusCreated, createdResponse{ID: id})
	}
}

func (s *NavigationService) handleSnapshot(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeSnapshot(w, r, kind)
	}
}

func (s *NavigationService) handleDelete(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Remove(kind, chi.URLParam(r, "id")); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *NavigationService) handleSingleRoute(w http.ResponseWriter, r *http.Request) {
	single, err := s.Single(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var body singleRouteRequest
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	mode := single.Mode()
	if body.Mode != "" {
		if mode, err = route.ParseTravelMode(body.Mode); err != nil {
			writeError(w, r, err)
			return
		}
	}

	if _, err := single.RequestRoute(r.Context(), body.Origin, body.Destination, mode); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeSnapshot(w, r, KindSession)
}

func (s *NavigationService) handleSingleMode(w http.ResponseWriter, r *http.Request) {
	single, err := s.Single(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var body modeRequest
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	mode, err := route.ParseTravelMode(body.Mode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := single.SetMode(r.Context(), mode); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeSnapshot(w, r, KindSession)
}

func (s *NavigationService) handleSinglePreference(w http.ResponseWriter, r *http.Request) {
	single, err := s.Single(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var body preferenceRequest
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	pref, err := route.ParseRoutePreference(body.Preference)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := single.SetPreference(r.Context(), pref); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeSnapshot(w, r, KindSession)
}

// handleTripRoute fetches the trip route. A body with origin and waypoints
// replaces the itinerary first; an empty body routes the current one.
func (s *NavigationService) handleTripRoute(w http.ResponseWriter, r *http.Request) {
	trip, err := s.Trip(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var body tripRouteRequest
	if r.ContentLength != 0 {
		if err := decode(r, &body); err != nil {
			writeError(w, r, err)
			return
		}
	}

	if body.Origin != nil {
		mode := trip.Mode()
		if body.Mode != "" {
			if mode, err = route.ParseTravelMode(body.Mode); err != nil {
				writeError(w, r, err)
				return
			}
		}
		_, err = trip.RequestMultiStopRoute(r.Context(), *body.Origin, body.Waypoints, mode)
	} else {
		_, err = trip.RequestRoute(r.Context())
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.writeSnapshot(w, r, KindTrip)
}

func (s *NavigationService) handleTripMode(w http.ResponseWriter, r *http.Request) {
	trip, err := s.Trip(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var body modeRequest
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	mode, err := route.ParseTravelMode(body.Mode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := trip.SetMode(r.Context(), mode); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeSnapshot(w, r, KindTrip)
}

func (s *NavigationService) handleTripOrigin(w http.ResponseWriter, r *http.Request) {
	trip, err := s.Trip(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var origin route.Waypoint
	if err := decode(r, &origin); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := trip.SetOrigin(r.Context(), origin); err != nil {
		writeError(w, r, err)
		return
	}
	s.writeSnapshot(w, r, KindTrip)
}

func (s *NavigationService) handleAddWaypoint(w http.ResponseWriter, r *http.Request) {
	trip, err := s.Trip(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var waypoint route.Waypoint
	if err := decode(r, &waypoint); err != nil {
		writeError(w, r, err)
		return
	}
	if err := trip.AddWaypoint(waypoint); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip.Waypoints())
}

func (s *NavigationService) handleReorderWaypoints(w http.ResponseWriter, r *http.Request) {
	trip, err := s.Trip(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var order []route.Waypoint
	if err := decode(r, &order); err != nil {
		writeError(w, r, err)
		return
	}
	if err := trip.ReorderWaypoints(order); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip.Waypoints())
}

func (s *NavigationService) handleClearWaypoints(w http.ResponseWriter, r *http.Request) {
	trip, err := s.Trip(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	trip.ClearWaypoints()
	writeJSON(w, http.StatusOK, trip.Waypoints())
}

func (s *NavigationService) handleRemoveWaypoint(w http.ResponseWriter, r *http.Request) {
	trip, err := s.Trip(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: waypoint index must be an integer", route.ErrInvalidInput))
		return
	}
	trip.RemoveWaypoint(index)
	writeJSON(w, http.StatusOK, trip.Waypoints())
}

func (s *NavigationService) handleMoveWaypoint(w http.ResponseWriter, r *http.Request) {
	trip, err := s.Trip(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var body moveRequest
	if err := decode(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	trip.MoveWaypoint(body.From, body.To)
	writeJSON(w, http.StatusOK, trip.Waypoints())
}

func (s *NavigationService) handleBriefing(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := s.Briefing(r.Context(), kind, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func (s *NavigationService) handleExportKML(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rt, err := s.activeRoute(kind, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		doc, err := export.KML(rt, routeName(rt))
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
		if err := doc.WriteIndent(w, "", "  "); err != nil {
			writeError(w, r, err)
		}
	}
}

func (s *NavigationService) handleExportGeoJSON(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rt, err := s.activeRoute(kind, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		data, err := export.MarshalGeoJSON(rt)
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write(data)
	}
}

func (s *NavigationService) handleTrackingStart(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := s.StartTracking(kind, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

func (s *NavigationService) handleTrackingStop(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := s.StopTracking(kind, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

// handlePosition accepts a sample for asynchronous matching
func (s *NavigationService) handlePosition(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sample tracking.Sample
		if err := decode(r, &sample); err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.PushPosition(r.Context(), kind, chi.URLParam(r, "id"), sample); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *NavigationService) handlePositionError(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body positionErrorRequest
		if r.ContentLength != 0 {
			if err := decode(r, &body); err != nil {
				writeError(w, r, err)
				return
			}
		}
		if err := s.ReportPositionError(kind, chi.URLParam(r, "id"), body.Reason); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

// routeName labels exports "<origin> to <destination>"
func routeName(r *route.Route) string {
	if len(r.Waypoints) < 2 {
		return ""
	}
	from, to := r.Waypoints[0].DisplayName, r.Waypoints[len(r.Waypoints)-1].DisplayName
	if from == "" || to == "" {
		return ""
	}
	return from + " to " + to
}

// withLogger makes sure handlers can log when the router is mounted outside
// prefab's request scope
func withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(logging.EnsureLogger(r.Context())))
	})
}
