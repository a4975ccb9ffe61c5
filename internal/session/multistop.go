package session

import (
	"context"
	"fmt"

	"github.com/campusmap/navcore/server/internal/lib/geo"
	"github.com/campusmap/navcore/server/internal/lib/route"
)

// MultiStopSession routes from a fixed origin through an ordered list of
// waypoints. Waypoint edits invalidate the route but never fetch, so a drag
// reorder can batch several moves before the caller re-requests.
type MultiStopSession struct {
	core

	origin    *route.Waypoint
	waypoints []route.Waypoint
	mode      route.TravelMode
	requested bool
}

// NewMultiStopSession creates an idle multi-stop session
func NewMultiStopSession(provider route.Provider) *MultiStopSession {
	return &MultiStopSession{
		core: newCore(provider),
		mode: route.Walking,
	}
}

// SetOrigin replaces the origin. Unlike waypoint edits this re-fetches
// immediately when a route was already requested.
func (m *MultiStopSession) SetOrigin(ctx context.Context, origin route.Waypoint) (*route.Route, error) {
	if !geo.IsValid(origin.Coordinates) {
		return nil, fmt.Errorf("%w: origin has invalid coordinates", route.ErrInvalidInput)
	}

	m.mu.Lock()
	m.origin = &origin
	refetch := m.requested && len(m.waypoints) > 0
	m.mu.Unlock()

	if !refetch {
		m.invalidate()
		return nil, nil
	}
	return m.RequestRoute(ctx)
}

// AddWaypoint appends a stop
func (m *MultiStopSession) AddWaypoint(w route.Waypoint) error {
	if !geo.IsValid(w.Coordinates) {
		return fmt.Errorf("%w: waypoint has invalid coordinates", route.ErrInvalidInput)
	}

	m.mu.Lock()
	m.waypoints = append(m.waypoints, w)
	m.mu.Unlock()

	m.invalidate()
	return nil
}

// RemoveWaypoint removes the stop at index. Out of range indexes are ignored.
func (m *MultiStopSession) RemoveWaypoint(index int) {
	m.mu.Lock()
	if index < 0 || index >= len(m.waypoints) {
		m.mu.Unlock()
		return
	}
	m.waypoints = append(m.waypoints[:index:index], m.waypoints[index+1:]...)
	m.mu.Unlock()

	m.invalidate()
}

// MoveWaypoint moves the stop at from to position to. Out of range indexes are ignored.
func (m *MultiStopSession) MoveWaypoint(from, to int) {
	m.mu.Lock()
	n := len(m.waypoints)
	if from < 0 || from >= n || to < 0 || to >= n || from == to {
		m.mu.Unlock()
		return
	}

	moved := m.waypoints[from]
	reordered := make([]route.Waypoint, 0, n)
	reordered = append(reordered, m.waypoints[:from]...)
	reordered = append(reordered, m.waypoints[from+1:]...)
	reordered = append(reordered[:to], append([]route.Waypoint{moved}, reordered[to:]...)...)
	m.waypoints = reordered
	m.mu.Unlock()

	m.invalidate()
}

// ReorderWaypoints replaces the waypoint list with a new ordering
func (m *MultiStopSession) ReorderWaypoints(order []route.Waypoint) error {
	for i, w := range order {
		if !geo.IsValid(w.Coordinates) {
			return fmt.Errorf("%w: waypoint %d has invalid coordinates", route.ErrInvalidInput, i)
		}
	}

	m.mu.Lock()
	m.waypoints = append([]route.Waypoint(nil), order...)
	m.mu.Unlock()

	m.invalidate()
	return nil
}

// ClearWaypoints removes every stop and the route
func (m *MultiStopSession) ClearWaypoints() {
	m.mu.Lock()
	m.waypoints = nil
	m.mu.Unlock()

	m.invalidate()
}

// SetMode changes the travel mode, re-fetching when a route was requested
func (m *MultiStopSession) SetMode(ctx context.Context, mode route.TravelMode) (*route.Route, error) {
	if !mode.Routable() {
		return nil, fmt.Errorf("%w: travel mode %q cannot be routed", route.ErrInvalidInput, mode)
	}

	m.mu.Lock()
	m.mode = mode
	refetch := m.requested && m.origin != nil && len(m.waypoints) > 0
	m.mu.Unlock()

	if !refetch {
		m.invalidate()
		return nil, nil
	}
	return m.RequestRoute(ctx)
}

// RequestMultiStopRoute replaces origin, waypoints and mode, then fetches
func (m *MultiStopSession) RequestMultiStopRoute(ctx context.Context, origin route.Waypoint, waypoints []route.Waypoint, mode route.TravelMode) (*route.Route, error) {
	if len(waypoints) == 0 {
		return nil, fmt.Errorf("%w: at least one waypoint is required", route.ErrInvalidInput)
	}
	points := append([]route.Waypoint{origin}, waypoints...)
	if err := route.ValidateRequest(route.Request{Points: points, Mode: mode}); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.origin = &origin
	m.waypoints = append([]route.Waypoint(nil), waypoints...)
	m.mode = mode
	m.mu.Unlock()

	return m.RequestRoute(ctx)
}

// RequestRoute fetches one route for [origin, ...waypoints] in a single provider call
func (m *MultiStopSession) RequestRoute(ctx context.Context) (*route.Route, error) {
	m.mu.Lock()
	if m.origin == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: origin is not set", route.ErrInvalidInput)
	}
	if len(m.waypoints) == 0 {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: at least one waypoint is required", route.ErrInvalidInput)
	}

	points := make([]route.Waypoint, 0, len(m.waypoints)+1)
	points = append(points, *m.origin)
	points = append(points, m.waypoints...)
	req := route.Request{Points: points, Mode: m.mode}

	if err := route.ValidateRequest(req); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.requested = true
	m.mu.Unlock()

	return m.fetch(ctx, req)
}

// Origin returns the current origin, if set
func (m *MultiStopSession) Origin() (route.Waypoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.origin == nil {
		return route.Waypoint{}, false
	}
	return *m.origin, true
}

// Waypoints returns a copy of the ordered stops
func (m *MultiStopSession) Waypoints() []route.Waypoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]route.Waypoint(nil), m.waypoints...)
}

// Mode returns the current travel mode
func (m *MultiStopSession) Mode() route.TravelMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Legs returns the per-leg breakdown of the current route
func (m *MultiStopSession) Legs() []route.RouteLeg {
	r := m.ActiveRoute()
	if r == nil {
		return nil
	}
	return r.Legs
}
