package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/campusmap/navcore/server/internal/config"
	"github.com/campusmap/navcore/server/internal/events"
	"github.com/campusmap/navcore/server/internal/lib/geo"
	"github.com/campusmap/navcore/server/internal/lib/route"
	"github.com/campusmap/navcore/server/internal/session"
	"github.com/campusmap/navcore/server/internal/tracking"
)

// lineProvider routes straight lines, with a vertex every ~110m, between
// consecutive points. Driving routes are never found.
type lineProvider struct{}

func (lineProvider) FetchRoute(_ context.Context, req route.Request) (*route.Route, error) {
	if req.Mode == route.Driving {
		return nil, route.ErrNoRouteFound
	}

	r := &route.Route{Waypoints: req.Points, Mode: req.Mode}
	for i := 0; i < len(req.Points)-1; i++ {
		from, to := req.Points[i], req.Points[i+1]
		d := geo.HaversineDistance(from.Coordinates, to.Coordinates)

		segments := int(d/110) + 1
		for j := 0; j <= segments; j++ {
			if i > 0 && j == 0 {
				continue
			}
			f := float64(j) / float64(segments)
			r.Polyline = append(r.Polyline, geo.Coordinate{
				Longitude: from.Coordinates.Longitude + f*(to.Coordinates.Longitude-from.Coordinates.Longitude),
				Latitude:  from.Coordinates.Latitude + f*(to.Coordinates.Latitude-from.Coordinates.Latitude),
			})
		}

		r.Legs = append(r.Legs, route.RouteLeg{
			DistanceMeters:  d,
			DurationSeconds: d / 1.4,
			OriginName:      from.DisplayName,
			DestinationName: to.DisplayName,
			Steps: []route.RouteStep{
				{InstructionText: "Head out", DistanceMeters: d, DurationSeconds: d / 1.4, Maneuver: route.Maneuver{Type: route.ManeuverDepart}},
				{InstructionText: "Arrive", Maneuver: route.Maneuver{Type: route.ManeuverArrive}},
			},
		})
		r.TotalDistanceMeters += d
		r.TotalDurationSeconds += d / 1.4
	}
	return r, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	closed bool
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *recordingPublisher) ofType(typ events.Type) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

var (
	dorm    = route.Waypoint{Coordinates: geo.Coordinate{Longitude: 10.000, Latitude: 20.000}, DisplayName: "Dorm"}
	library = route.Waypoint{Coordinates: geo.Coordinate{Longitude: 10.010, Latitude: 20.000}, DisplayName: "Library"}
	gym     = route.Waypoint{Coordinates: geo.Coordinate{Longitude: 10.010, Latitude: 20.008}, DisplayName: "Gym"}
	cafe    = route.Waypoint{Coordinates: geo.Coordinate{Longitude: 10.004, Latitude: 20.004}, DisplayName: "Cafe"}
)

type testServer struct {
	svc       *NavigationService
	handler   http.Handler
	publisher *recordingPublisher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	publisher := &recordingPublisher{}
	svc := NewNavigationService(lineProvider{}, nil, publisher, config.DefaultConfig().Tracking)
	t.Cleanup(func() { _ = svc.Close() })
	return &testServer{svc: svc, handler: svc.Router([]string{"*"}), publisher: publisher}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, BasePath+path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) create(t *testing.T, kind Kind) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/"+string(kind), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created createdResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	assert.Equal(t, fmt.Sprintf("%s/%s/%s", BasePath, kind, created.ID), rec.Header().Get("Location"))
	return created.ID
}

type snapshotBody struct {
	Status    string `json:"status"`
	IsLoading bool   `json:"is_loading"`
	Error     string `json:"error"`
	Route     *struct {
		TotalDistanceMeters float64           `json:"total_distance_meters"`
		Legs                []json.RawMessage `json:"legs"`
		Mode                string            `json:"mode"`
	} `json:"route"`
	Tracking struct {
		IsTracking bool `json:"is_tracking"`
		IsOffRoute bool `json:"is_off_route"`
	} `json:"tracking"`
}

func decodeSnapshot(t *testing.T, rec *httptest.ResponseRecorder) snapshotBody {
	t.Helper()
	var snap snapshotBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap), rec.Body.String())
	return snap
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestHTTP_SingleSessionFlow(t *testing.T) {
	ts := newTestServer(t)
	id := ts.create(t, KindSession)

	rec := ts.do(t, http.MethodGet, "/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", decodeSnapshot(t, rec).Status)

	rec = ts.do(t, http.MethodPost, "/sessions/"+id+"/route", singleRouteRequest{Origin: dorm, Destination: library, Mode: "walking"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap := decodeSnapshot(t, rec)
	assert.Equal(t, "ready", snap.Status)
	require.NotNil(t, snap.Route)
	assert.InDelta(t, geo.HaversineDistance(dorm.Coordinates, library.Coordinates), snap.Route.TotalDistanceMeters, 1e-6)
	assert.Len(t, snap.Route.Legs, 1)

	rec = ts.do(t, http.MethodPut, "/sessions/"+id+"/mode", modeRequest{Mode: "bus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codes.InvalidArgument.String(), decodeError(t, rec).Code)

	rec = ts.do(t, http.MethodPut, "/sessions/"+id+"/preference", preferenceRequest{Preference: "shortest"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPut, "/sessions/"+id+"/mode", modeRequest{Mode: "driving"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codes.NotFound.String(), decodeError(t, rec).Code)

	snap = decodeSnapshot(t, ts.do(t, http.MethodGet, "/sessions/"+id, nil))
	assert.Equal(t, "error", snap.Status)
	assert.Nil(t, snap.Route)
	assert.NotEmpty(t, snap.Error)

	rec = ts.do(t, http.MethodDelete, "/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/sessions/"+id, nil).Code)
}

func TestHTTP_UnknownSession(t *testing.T) {
	ts := newTestServer(t)
	tripID := ts.create(t, KindTrip)

	rec := ts.do(t, http.MethodGet, "/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codes.NotFound.String(), decodeError(t, rec).Code)

	rec = ts.do(t, http.MethodGet, "/sessions/"+tripID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "Trip ids are not sessions")
}

func TestHTTP_MalformedBody(t *testing.T) {
	ts := newTestServer(t)
	id := ts.create(t, KindSession)

	req := httptest.NewRequest(http.MethodPost, BasePath+"/sessions/"+id+"/route", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTP_TripFlow(t *testing.T) {
	ts := newTestServer(t)
	id := ts.create(t, KindTrip)
	base := "/trips/" + id

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, base+"/origin", dorm).Code)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, base+"/waypoints", library).Code)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, base+"/waypoints", gym).Code)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, base+"/waypoints", cafe).Code)

	rec := ts.do(t, http.MethodPost, base+"/waypoints/move", moveRequest{From: 2, To: 0})
	require.Equal(t, http.StatusOK, rec.Code)
	var waypoints []route.Waypoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &waypoints))
	assert.Equal(t, "Cafe", waypoints[0].DisplayName)

	rec = ts.do(t, http.MethodDelete, base+"/waypoints/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &waypoints))
	require.Len(t, waypoints, 2)
	assert.Equal(t, "Gym", waypoints[1].DisplayName)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodDelete, base+"/waypoints/first", nil).Code)

	rec = ts.do(t, http.MethodPost, base+"/route", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap := decodeSnapshot(t, rec)
	require.NotNil(t, snap.Route)
	assert.Len(t, snap.Route.Legs, 2, "Dorm to Cafe to Gym")

	rec = ts.do(t, http.MethodPut, base+"/mode", modeRequest{Mode: "cycling"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cycling", decodeSnapshot(t, rec).Route.Mode)

	rec = ts.do(t, http.MethodGet, base+"/export.geojson", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"FeatureCollection"`)

	rec = ts.do(t, http.MethodGet, base+"/export.kml", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<name>Dorm to Gym</name>")

	rec = ts.do(t, http.MethodGet, base+"/briefing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var b struct {
		Summary string `json:"summary"`
		Source  string `json:"source"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	assert.Equal(t, "fallback", b.Source)
	assert.Contains(t, b.Summary, "via Cafe")
}

func TestHTTP_TripRouteWithItinerary(t *testing.T) {
	ts := newTestServer(t)
	id := ts.create(t, KindTrip)

	rec := ts.do(t, http.MethodPost, "/trips/"+id+"/route", tripRouteRequest{
		Origin:    &dorm,
		Waypoints: []route.Waypoint{library, gym},
		Mode:      "walking",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decodeSnapshot(t, rec).Route.Legs, 2)

	rec = ts.do(t, http.MethodDelete, "/trips/"+id+"/waypoints", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", decodeSnapshot(t, ts.do(t, http.MethodGet, "/trips/"+id, nil)).Status)

	rec = ts.do(t, http.MethodPost, "/trips/"+id+"/route", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "No waypoints")
}

func TestHTTP_ExportWithoutRoute(t *testing.T) {
	ts := newTestServer(t)
	id := ts.create(t, KindSession)

	for _, path := range []string{"/export.kml", "/export.geojson", "/briefing"} {
		rec := ts.do(t, http.MethodGet, "/sessions/"+id+path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Equal(t, codes.FailedPrecondition.String(), decodeError(t, rec).Code, path)
	}
}

func TestHTTP_PositionsDriveTracking(t *testing.T) {
	ts := newTestServer(t)
	id := ts.create(t, KindSession)

	rec := ts.do(t, http.MethodPost, "/sessions/"+id+"/route", singleRouteRequest{Origin: dorm, Destination: library})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	onRoute := tracking.Sample{Coordinate: geo.Coordinate{Longitude: 10.002, Latitude: 20.000}}
	offRoute := tracking.Sample{Coordinate: geo.Coordinate{Longitude: 10.002, Latitude: 20.003}}

	assert.Equal(t, http.StatusAccepted, ts.do(t, http.MethodPost, "/sessions/"+id+"/positions", onRoute).Code)
	assert.Eventually(t, func() bool {
		snap, err := ts.svc.Snapshot(KindSession, id)
		return err == nil && snap.Tracking.LastPosition != nil && snap.Tracking.Matched
	}, 2*time.Second, 5*time.Millisecond)

	snap, err := ts.svc.Snapshot(KindSession, id)
	require.NoError(t, err)
	assert.True(t, snap.Tracking.IsTracking, "Pushing a position starts tracking")
	require.NotNil(t, snap.Tracking.AccuracyMeters)
	assert.Equal(t, config.DefaultConfig().Tracking.DefaultAccuracyMeters, *snap.Tracking.AccuracyMeters)

	assert.Equal(t, http.StatusAccepted, ts.do(t, http.MethodPost, "/sessions/"+id+"/positions", offRoute).Code)
	assert.Eventually(t, func() bool {
		return len(ts.publisher.ofType(events.TypeOffRoute)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	event := ts.publisher.ofType(events.TypeOffRoute)[0]
	assert.Equal(t, id, event.SessionID)
	assert.Greater(t, event.DistanceFromRouteMeters, 50.0)

	arrive := tracking.Sample{Coordinate: library.Coordinates}
	assert.Equal(t, http.StatusAccepted, ts.do(t, http.MethodPost, "/sessions/"+id+"/positions", arrive).Code)
	assert.Eventually(t, func() bool {
		return len(ts.publisher.ofType(events.TypeArrived)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	rec = ts.do(t, http.MethodPost, "/sessions/"+id+"/positions/error", positionErrorRequest{Reason: "permission denied"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Eventually(t, func() bool {
		snap, err := ts.svc.Snapshot(KindSession, id)
		return err == nil && !snap.Tracking.IsTracking
	}, 2*time.Second, 5*time.Millisecond)

	snap, err = ts.svc.Snapshot(KindSession, id)
	require.NoError(t, err)
	assert.Equal(t, session.StatusReady, snap.Status, "A position failure leaves the route loaded")
}

func TestHTTP_TrackingStartStop(t *testing.T) {
	ts := newTestServer(t)
	id := ts.create(t, KindTrip)

	rec := ts.do(t, http.MethodPost, "/trips/"+id+"/positions/error", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "Nothing is subscribed yet")

	rec = ts.do(t, http.MethodPost, "/trips/"+id+"/tracking/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var state struct {
		IsTracking bool `json:"is_tracking"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.True(t, state.IsTracking)

	rec = ts.do(t, http.MethodPost, "/trips/"+id+"/tracking/start", nil)
	require.Equal(t, http.StatusOK, rec.Code, "Starting twice is harmless")

	rec = ts.do(t, http.MethodPost, "/trips/"+id+"/tracking/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.False(t, state.IsTracking)
}

func TestPositionErrorOutsideRequestScope(t *testing.T) {
	// Called directly, with no request or server context carrying a logger
	svc := NewNavigationService(lineProvider{}, nil, nil, config.DefaultConfig().Tracking)
	defer svc.Close()

	id := svc.CreateSession()
	_, err := svc.StartTracking(KindSession, id)
	require.NoError(t, err)

	require.NoError(t, svc.ReportPositionError(KindSession, id, "permission denied"))

	assert.Eventually(t, func() bool {
		snap, err := svc.Snapshot(KindSession, id)
		return err == nil && !snap.Tracking.IsTracking
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, svc.Count(), "Session survives a device failure")
}

func TestReapIdle(t *testing.T) {
	ts := newTestServer(t)
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	ts.svc.now = func() time.Time { return now }

	stale := ts.svc.CreateSession()
	active := ts.svc.CreateTrip()
	_, err := ts.svc.StartTracking(KindSession, stale)
	require.NoError(t, err)

	now = now.Add(20 * time.Minute)
	_, err = ts.svc.Snapshot(KindTrip, active)
	require.NoError(t, err)

	now = now.Add(15 * time.Minute)
	removed := ts.svc.ReapIdle(30 * time.Minute)
	assert.Equal(t, []string{stale}, removed)
	assert.Equal(t, 1, ts.svc.Count())

	_, err = ts.svc.Single(stale)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = ts.svc.Trip(active)
	assert.NoError(t, err)
}

func TestSessionReaper(t *testing.T) {
	ts := newTestServer(t)
	ts.svc.CreateSession()

	reaper := NewSessionReaper(ts.svc, time.Nanosecond, 5*time.Millisecond)
	reaper.StartReaping(context.Background())
	reaper.StartReaping(context.Background())
	assert.True(t, reaper.IsRunning())

	assert.Eventually(t, func() bool { return ts.svc.Count() == 0 }, 2*time.Second, 5*time.Millisecond)

	reaper.Stop()
	assert.False(t, reaper.IsRunning())
	reaper.Stop()
}

func TestClose(t *testing.T) {
	publisher := &recordingPublisher{}
	svc := NewNavigationService(lineProvider{}, nil, publisher, config.DefaultConfig().Tracking)
	id := svc.CreateSession()
	_, err := svc.StartTracking(KindSession, id)
	require.NoError(t, err)

	require.NoError(t, svc.Close())
	assert.Equal(t, 0, svc.Count())
	assert.True(t, publisher.closed)
}

func TestCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{fmt.Errorf("wrapped: %w", route.ErrInvalidInput), codes.InvalidArgument},
		{route.ErrNoRouteFound, codes.NotFound},
		{ErrSessionNotFound, codes.NotFound},
		{route.ErrProviderUnavailable, codes.Unavailable},
		{route.ErrPositionUnavailable, codes.FailedPrecondition},
		{errNoActiveRoute, codes.FailedPrecondition},
		{tracking.ErrNotSubscribed, codes.FailedPrecondition},
		{session.ErrSuperseded, codes.Aborted},
		{(&route.Route{TotalDistanceMeters: 10, Legs: []route.RouteLeg{{DistanceMeters: 4}}}).Validate(), codes.NotFound},
		{context.Canceled, codes.Canceled},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("boom"), codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.code, codeFor(tt.err))
		})
	}
}
