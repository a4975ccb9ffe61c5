package session

import (
	"context"
	"fmt"

	"github.com/campusmap/navcore/server/internal/lib/route"
)

// SingleSession tracks a route from an origin to one destination
type SingleSession struct {
	core

	origin      *route.Waypoint
	destination *route.Waypoint
	mode        route.TravelMode
	preference  route.RoutePreference
}

// NewSingleSession creates an idle session that walks the fastest route by default
func NewSingleSession(provider route.Provider) *SingleSession {
	return &SingleSession{
		core:       newCore(provider),
		mode:       route.Walking,
		preference: route.Fastest,
	}
}

// RequestRoute fetches a route and blocks until it is applied or superseded.
// Invalid input is rejected before any state change.
func (s *SingleSession) RequestRoute(ctx context.Context, origin, destination route.Waypoint, mode route.TravelMode) (*route.Route, error) {
	s.mu.Lock()
	req := route.Request{
		Points:           []route.Waypoint{origin, destination},
		Mode:             mode,
		Preference:       s.preference,
		SinglePreference: true,
	}
	if err := route.ValidateRequest(req); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.origin, s.destination, s.mode = &origin, &destination, mode
	s.mu.Unlock()

	return s.fetch(ctx, req)
}

// SetMode changes the travel mode, re-fetching when a destination is active
func (s *SingleSession) SetMode(ctx context.Context, mode route.TravelMode) (*route.Route, error) {
	if !mode.Routable() {
		return nil, fmt.Errorf("%w: travel mode %q cannot be routed", route.ErrInvalidInput, mode)
	}

	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()

	return s.refetch(ctx)
}

// SetPreference changes the route preference, re-fetching when a destination is active
func (s *SingleSession) SetPreference(ctx context.Context, preference route.RoutePreference) (*route.Route, error) {
	if _, err := route.ParseRoutePreference(string(preference)); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.preference = preference
	s.mu.Unlock()

	return s.refetch(ctx)
}

// refetch re-issues the current request; the previous route stays visible
// until the new one succeeds
func (s *SingleSession) refetch(ctx context.Context) (*route.Route, error) {
	s.mu.Lock()
	if s.origin == nil || s.destination == nil {
		r := s.route
		s.mu.Unlock()
		return r, nil
	}
	req := route.Request{
		Points:           []route.Waypoint{*s.origin, *s.destination},
		Mode:             s.mode,
		Preference:       s.preference,
		SinglePreference: true,
	}
	s.mu.Unlock()

	return s.fetch(ctx, req)
}

// Clear drops the destination and route and supersedes any in-flight request
func (s *SingleSession) Clear() {
	s.mu.Lock()
	s.origin, s.destination = nil, nil
	s.mu.Unlock()

	s.invalidate()
}

// Mode returns the current travel mode
func (s *SingleSession) Mode() route.TravelMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Preference returns the current route preference
func (s *SingleSession) Preference() route.RoutePreference {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preference
}
