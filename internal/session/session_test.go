package session

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusmap/navcore/server/internal/lib/geo"
	"github.com/campusmap/navcore/server/internal/lib/route"
	"github.com/campusmap/navcore/server/internal/lib/routing"
	"github.com/campusmap/navcore/server/internal/tracking"
)

// scriptedProvider answers FetchRoute with a test-supplied function
type scriptedProvider struct {
	calls    atomic.Int32
	fetch    func(ctx context.Context, req route.Request) (*route.Route, error)
	mu       sync.Mutex
	requests []route.Request
}

func (p *scriptedProvider) FetchRoute(ctx context.Context, req route.Request) (*route.Route, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	return p.fetch(ctx, req)
}

func (p *scriptedProvider) lastRequest() route.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

// legRoute builds a straight-line route with one leg per consecutive point pair
func legRoute(req route.Request) *route.Route {
	r := &route.Route{Waypoints: req.Points, Mode: req.Mode}
	for i := 0; i < len(req.Points)-1; i++ {
		from, to := req.Points[i], req.Points[i+1]
		d := geo.HaversineDistance(from.Coordinates, to.Coordinates)
		r.Legs = append(r.Legs, route.RouteLeg{
			DistanceMeters:  d,
			DurationSeconds: d / 1.4,
			OriginName:      from.DisplayName,
			DestinationName: to.DisplayName,
			Steps: []route.RouteStep{
				{InstructionText: "Depart", DistanceMeters: d, DurationSeconds: d / 1.4, Maneuver: route.Maneuver{Type: route.ManeuverDepart}},
				{InstructionText: "Arrive", Maneuver: route.Maneuver{Type: route.ManeuverArrive}},
			},
		})
		r.TotalDistanceMeters += d
		r.TotalDurationSeconds += d / 1.4
		if i == 0 {
			r.Polyline = append(r.Polyline, from.Coordinates)
		}
		r.Polyline = append(r.Polyline, to.Coordinates)
	}
	return r
}

func staticProvider() *scriptedProvider {
	return &scriptedProvider{fetch: func(_ context.Context, req route.Request) (*route.Route, error) {
		return legRoute(req), nil
	}}
}

// walkingScenario is the 1400 m / 1020 s three step route
func walkingScenario(req route.Request) *route.Route {
	return &route.Route{
		TotalDistanceMeters:  1400,
		TotalDurationSeconds: 1020,
		Polyline: []geo.Coordinate{
			{Longitude: 10.000, Latitude: 20.000},
			{Longitude: 10.005, Latitude: 20.000},
			{Longitude: 10.010, Latitude: 20.010},
		},
		Legs: []route.RouteLeg{{
			DistanceMeters:  1400,
			DurationSeconds: 1020,
			OriginName:      req.Points[0].DisplayName,
			DestinationName: req.Points[1].DisplayName,
			Steps: []route.RouteStep{
				{InstructionText: "Head east", DistanceMeters: 800, DurationSeconds: 600, Maneuver: route.Maneuver{Type: route.ManeuverDepart}},
				{InstructionText: "Turn left", DistanceMeters: 600, DurationSeconds: 420, Maneuver: route.Maneuver{Type: route.ManeuverTurn, Modifier: route.ModifierLeft}},
				{InstructionText: "Arrive", Maneuver: route.Maneuver{Type: route.ManeuverArrive}},
			},
		}},
		Waypoints: req.Points,
		Mode:      req.Mode,
	}
}

var (
	origin      = route.Waypoint{Coordinates: geo.Coordinate{Longitude: 10.000, Latitude: 20.000}, DisplayName: "Dorm"}
	destination = route.Waypoint{Coordinates: geo.Coordinate{Longitude: 10.010, Latitude: 20.010}, DisplayName: "Library"}
)

func TestSingleSession_EndToEnd(t *testing.T) {
	provider := &scriptedProvider{fetch: func(_ context.Context, req route.Request) (*route.Route, error) {
		return walkingScenario(req), nil
	}}
	s := NewSingleSession(provider)
	s.AttachTracker(tracking.NewTracker(tracking.NewChannelSource(1), s, routing.DefaultMatcher()))

	var statuses []Status
	s.OnChange(func(snap Snapshot) { statuses = append(statuses, snap.Status) })

	assert.Equal(t, StatusIdle, s.Snapshot().Status)

	r, err := s.RequestRoute(context.Background(), origin, destination, route.Walking)
	require.NoError(t, err)

	assert.Equal(t, []Status{StatusLoading, StatusReady}, statuses)
	snap := s.Snapshot()
	assert.Equal(t, StatusReady, snap.Status)
	assert.False(t, snap.IsLoading)
	assert.Same(t, r, snap.Route)
	assert.Equal(t, 1400.0, snap.Route.TotalDistanceMeters)
	assert.Equal(t, 1020.0, snap.Route.TotalDurationSeconds)
	assert.Equal(t, 0, snap.Tracking.CurrentStepIndex)
	assert.False(t, snap.Tracking.IsOffRoute)
	assert.Same(t, r, s.ActiveRoute())

	req := provider.lastRequest()
	assert.True(t, req.SinglePreference)
	assert.Equal(t, route.Fastest, req.Preference)
}

func TestSingleSession_StaleResponseDiscarded(t *testing.T) {
	first := &route.Route{TotalDistanceMeters: 100, Legs: []route.RouteLeg{{DistanceMeters: 100}}}
	second := &route.Route{TotalDistanceMeters: 200, Legs: []route.RouteLeg{{DistanceMeters: 200}}}

	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	var firstCtxErr atomic.Value

	provider := &scriptedProvider{}
	provider.fetch = func(ctx context.Context, req route.Request) (*route.Route, error) {
		if provider.calls.Load() == 1 {
			close(firstStarted)
			<-releaseFirst
			if ctx.Err() != nil {
				firstCtxErr.Store(ctx.Err())
			}
			// Ignores cancellation and answers late
			return first, nil
		}
		return second, nil
	}

	s := NewSingleSession(provider)

	type result struct {
		r   *route.Route
		err error
	}
	firstResult := make(chan result, 1)
	go func() {
		r, err := s.RequestRoute(context.Background(), origin, destination, route.Walking)
		firstResult <- result{r, err}
	}()
	<-firstStarted

	r, err := s.RequestRoute(context.Background(), origin, destination, route.Cycling)
	require.NoError(t, err)
	assert.Same(t, second, r)

	close(releaseFirst)
	late := <-firstResult
	assert.ErrorIs(t, late.err, ErrSuperseded)
	assert.Nil(t, late.r)

	snap := s.Snapshot()
	assert.Equal(t, StatusReady, snap.Status)
	assert.Same(t, second, snap.Route, "Final state reflects the newest request")
	assert.NotNil(t, firstCtxErr.Load(), "Superseded request context is cancelled")
}

func TestSingleSession_ErrorClearsRoute(t *testing.T) {
	provider := &scriptedProvider{}
	provider.fetch = func(_ context.Context, req route.Request) (*route.Route, error) {
		if req.Mode == route.Driving {
			return nil, route.ErrNoRouteFound
		}
		return legRoute(req), nil
	}
	s := NewSingleSession(provider)

	_, err := s.RequestRoute(context.Background(), origin, destination, route.Walking)
	require.NoError(t, err)

	_, err = s.SetMode(context.Background(), route.Driving)
	assert.ErrorIs(t, err, route.ErrNoRouteFound)

	snap := s.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Nil(t, snap.Route, "Route is cleared, not partially populated")
	assert.ErrorIs(t, snap.Err, route.ErrNoRouteFound)
	assert.NotEmpty(t, snap.Error)

	// Retry is an explicit caller action
	_, err = s.SetMode(context.Background(), route.Walking)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, s.Status())
}

func TestSingleSession_CallerCancelKeepsRoute(t *testing.T) {
	// Like the HTTP adapters, report a dead context as an unavailable provider
	provider := &scriptedProvider{}
	provider.fetch = func(ctx context.Context, req route.Request) (*route.Route, error) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", route.ErrProviderUnavailable, err)
		}
		return legRoute(req), nil
	}
	s := NewSingleSession(provider)

	loaded, err := s.RequestRoute(context.Background(), origin, destination, route.Walking)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, err := s.SetMode(ctx, route.Cycling)
	assert.Nil(t, r)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, route.ErrProviderUnavailable)

	snap := s.Snapshot()
	assert.Equal(t, StatusReady, snap.Status)
	assert.Same(t, loaded, snap.Route, "Loaded route survives an abandoned request")
	assert.NoError(t, snap.Err)

	// A session that never loaded goes back to Idle
	fresh := NewSingleSession(provider)
	_, err = fresh.RequestRoute(ctx, origin, destination, route.Walking)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusIdle, fresh.Status())
}

func TestSingleSession_PreviousRouteVisibleWhileLoading(t *testing.T) {
	release := make(chan struct{})
	provider := &scriptedProvider{}
	provider.fetch = func(_ context.Context, req route.Request) (*route.Route, error) {
		if req.Preference == route.Shortest {
			<-release
		}
		return legRoute(req), nil
	}
	s := NewSingleSession(provider)

	previous, err := s.RequestRoute(context.Background(), origin, destination, route.Walking)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.SetPreference(context.Background(), route.Shortest)
	}()

	assert.Eventually(t, func() bool { return s.Snapshot().IsLoading }, time.Second, 5*time.Millisecond)
	snap := s.Snapshot()
	assert.Equal(t, StatusLoading, snap.Status)
	assert.Same(t, previous, snap.Route)

	close(release)
	<-done

	snap = s.Snapshot()
	assert.Equal(t, StatusReady, snap.Status)
	assert.NotSame(t, previous, snap.Route)
	assert.Equal(t, route.Shortest, provider.lastRequest().Preference)
}

func TestSingleSession_InvalidInputIsSynchronous(t *testing.T) {
	provider := staticProvider()
	s := NewSingleSession(provider)

	bad := route.Waypoint{Coordinates: geo.Coordinate{Longitude: math.Inf(1), Latitude: 20}}
	_, err := s.RequestRoute(context.Background(), origin, bad, route.Walking)
	assert.ErrorIs(t, err, route.ErrInvalidInput)

	_, err = s.RequestRoute(context.Background(), origin, destination, route.Bus)
	assert.ErrorIs(t, err, route.ErrInvalidInput)

	_, err = s.SetMode(context.Background(), route.Bus)
	assert.ErrorIs(t, err, route.ErrInvalidInput)

	_, err = s.SetPreference(context.Background(), "scenic")
	assert.ErrorIs(t, err, route.ErrInvalidInput)

	assert.Equal(t, int32(0), provider.calls.Load())
	assert.Equal(t, StatusIdle, s.Status())
}

func TestSingleSession_SetModeWithoutDestination(t *testing.T) {
	provider := staticProvider()
	s := NewSingleSession(provider)

	r, err := s.SetMode(context.Background(), route.Cycling)
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.Equal(t, route.Cycling, s.Mode())
	assert.Equal(t, int32(0), provider.calls.Load())
}

func TestSingleSession_Clear(t *testing.T) {
	release := make(chan struct{})
	provider := &scriptedProvider{}
	provider.fetch = func(_ context.Context, req route.Request) (*route.Route, error) {
		if provider.calls.Load() == 2 {
			<-release
		}
		return legRoute(req), nil
	}
	s := NewSingleSession(provider)

	_, err := s.RequestRoute(context.Background(), origin, destination, route.Walking)
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := s.SetMode(context.Background(), route.Cycling)
		errs <- err
	}()
	assert.Eventually(t, func() bool { return provider.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	s.Clear()
	close(release)
	assert.ErrorIs(t, <-errs, ErrSuperseded, "In-flight request is discarded after Clear")

	snap := s.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Nil(t, snap.Route)
	assert.Nil(t, s.ActiveRoute())
}
