package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/google/uuid"

	"github.com/campusmap/navcore/server/internal/config"
	"github.com/campusmap/navcore/server/internal/events"
	"github.com/campusmap/navcore/server/internal/lib/briefing"
	"github.com/campusmap/navcore/server/internal/lib/route"
	"github.com/campusmap/navcore/server/internal/lib/routing"
	"github.com/campusmap/navcore/server/internal/session"
	"github.com/campusmap/navcore/server/internal/tracking"
)

// positionBuffer is how many pushed samples may wait for the tracker
const positionBuffer = 16

// Kind distinguishes single-destination sessions from multi-stop trips.
// Its value is the URL collection name.
type Kind string

const (
	KindSession Kind = "sessions"
	KindTrip    Kind = "trips"
)

// navSession is the surface shared by both session kinds
type navSession interface {
	Snapshot() session.Snapshot
	ActiveRoute() *route.Route
	AttachTracker(session.ProgressTracker)
}

// entry is one registered session with its tracker
type entry struct {
	id      string
	kind    Kind
	session navSession
	single  *session.SingleSession
	trip    *session.MultiStopSession
	tracker *tracking.Tracker
	source  *tracking.ChannelSource

	lastActive time.Time
}

// NavigationService owns live navigation sessions and their trackers
type NavigationService struct {
	provider        route.Provider
	briefer         briefing.Briefer
	publisher       events.Publisher
	matcher         routing.Matcher
	defaultAccuracy float64
	now             func() time.Time

	// ctx outlives requests; trackers and event publishing run under it
	ctx context.Context

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewNavigationService creates a service. A nil briefer uses the
// deterministic summary and a nil publisher drops events.
func NewNavigationService(provider route.Provider, briefer briefing.Briefer, publisher events.Publisher, cfg config.TrackingConfig) *NavigationService {
	if briefer == nil {
		briefer = briefing.NewFallbackBriefer()
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &NavigationService{
		provider:        provider,
		briefer:         briefer,
		publisher:       publisher,
		matcher:         routing.NewMatcher(cfg.OffRouteThresholdMeters, cfg.SnapToSegments),
		defaultAccuracy: cfg.DefaultAccuracyMeters,
		now:             time.Now,
		ctx:             logging.EnsureLogger(context.Background()),
		sessions:        make(map[string]*entry),
	}
}

// CreateSession registers a new single-destination session and returns its id
func (s *NavigationService) CreateSession() string {
	single := session.NewSingleSession(s.provider)
	return s.register(KindSession, single, func(e *entry) { e.single = single })
}

// CreateTrip registers a new multi-stop session and returns its id
func (s *NavigationService) CreateTrip() string {
	trip := session.NewMultiStopSession(s.provider)
	return s.register(KindTrip, trip, func(e *entry) { e.trip = trip })
}

func (s *NavigationService) register(kind Kind, sess navSession, bind func(*entry)) string {
	id := uuid.NewString()
	source := tracking.NewChannelSource(positionBuffer)
	tracker := tracking.NewTracker(source, sess, s.matcher)
	sess.AttachTracker(tracker)

	e := &entry{id: id, kind: kind, session: sess, tracker: tracker, source: source}
	bind(e)

	tracker.OnOffRoute(func(state tracking.TrackingState) {
		s.publish(events.NewEvent(events.TypeOffRoute, id, state))
	})
	tracker.OnArrive(func(state tracking.TrackingState) {
		s.publish(events.NewEvent(events.TypeArrived, id, state))
	})
	tracker.OnError(func(err error) {
		logging.Warnw(s.ctx, "Navigation: tracking stopped", "session", id, "error", err)
	})

	s.mu.Lock()
	e.lastActive = s.now()
	s.sessions[id] = e
	s.mu.Unlock()

	logging.Infow(s.ctx, "Navigation: session created", "session", id, "kind", kind)
	return id
}

func (s *NavigationService) publish(event events.Event) {
	ctx := s.ctx
	if err := s.publisher.Publish(ctx, event); err != nil {
		logging.Warnw(ctx, "Navigation: failed to publish event", "type", event.Type, "session", event.SessionID, "error", err)
		return
	}
	logging.Infow(ctx, "Navigation: event", "type", event.Type, "session", event.SessionID, "step", event.StepIndex)
}

// lookup finds a session of the given kind and marks it active
func (s *NavigationService) lookup(kind Kind, id string) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok || e.kind != kind {
		return nil, fmt.Errorf("%w: %s/%s", ErrSessionNotFound, kind, id)
	}
	e.lastActive = s.now()
	return e, nil
}

// Snapshot returns the current state of a session
func (s *NavigationService) Snapshot(kind Kind, id string) (session.Snapshot, error) {
	e, err := s.lookup(kind, id)
	if err != nil {
		return session.Snapshot{}, err
	}
	return e.session.Snapshot(), nil
}

// Single returns the single-destination session with id
func (s *NavigationService) Single(id string) (*session.SingleSession, error) {
	e, err := s.lookup(KindSession, id)
	if err != nil {
		return nil, err
	}
	return e.single, nil
}

// Trip returns the multi-stop session with id
func (s *NavigationService) Trip(id string) (*session.MultiStopSession, error) {
	e, err := s.lookup(KindTrip, id)
	if err != nil {
		return nil, err
	}
	return e.trip, nil
}

// Remove stops a session's tracker and forgets it
func (s *NavigationService) Remove(kind Kind, id string) error {
	s.mu.Lock()
	e, ok := s.sessions[id]
	if !ok || e.kind != kind {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", ErrSessionNotFound, kind, id)
	}
	delete(s.sessions, id)
	s.mu.Unlock()

	e.tracker.Stop()
	return nil
}

// ReapIdle removes sessions untouched for longer than maxIdle and returns their ids
func (s *NavigationService) ReapIdle(maxIdle time.Duration) []string {
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	var idle []*entry
	for id, e := range s.sessions {
		if e.lastActive.Before(cutoff) {
			idle = append(idle, e)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	ids := make([]string, 0, len(idle))
	for _, e := range idle {
		e.tracker.Stop()
		ids = append(ids, e.id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of live sessions
func (s *NavigationService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// StartTracking subscribes the session's tracker. Already running trackers are left alone.
func (s *NavigationService) StartTracking(kind Kind, id string) (tracking.TrackingState, error) {
	e, err := s.lookup(kind, id)
	if err != nil {
		return tracking.TrackingState{}, err
	}
	if err := s.ensureTracking(e); err != nil {
		return tracking.TrackingState{}, err
	}
	return e.tracker.State(), nil
}

func (s *NavigationService) ensureTracking(e *entry) error {
	if e.tracker.Running() {
		return nil
	}
	// Trackers outlive the request that starts them
	err := e.tracker.Start(s.ctx, nil)
	if err != nil && !errors.Is(err, tracking.ErrAlreadyTracking) {
		return err
	}
	return nil
}

// StopTracking unsubscribes the session's tracker
func (s *NavigationService) StopTracking(kind Kind, id string) (tracking.TrackingState, error) {
	e, err := s.lookup(kind, id)
	if err != nil {
		return tracking.TrackingState{}, err
	}
	e.tracker.Stop()
	return e.tracker.State(), nil
}

// PushPosition feeds a device sample to the session's tracker, starting it if
// needed. Matching happens asynchronously.
func (s *NavigationService) PushPosition(ctx context.Context, kind Kind, id string, sample tracking.Sample) error {
	e, err := s.lookup(kind, id)
	if err != nil {
		return err
	}
	if sample.AccuracyMeters <= 0 {
		sample.AccuracyMeters = s.defaultAccuracy
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = s.now()
	}
	if err := s.ensureTracking(e); err != nil {
		return err
	}
	return e.source.Push(ctx, sample)
}

// ReportPositionError ends tracking with a device failure such as denied permission
func (s *NavigationService) ReportPositionError(kind Kind, id, reason string) error {
	e, err := s.lookup(kind, id)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "position unavailable"
	}
	return e.source.Fail(reason)
}

// Briefing summarizes the session's active route
func (s *NavigationService) Briefing(ctx context.Context, kind Kind, id string) (briefing.Briefing, error) {
	r, err := s.activeRoute(kind, id)
	if err != nil {
		return briefing.Briefing{}, err
	}
	return s.briefer.Brief(ctx, r)
}

// activeRoute returns the session's current route or errNoActiveRoute
func (s *NavigationService) activeRoute(kind Kind, id string) (*route.Route, error) {
	e, err := s.lookup(kind, id)
	if err != nil {
		return nil, err
	}
	r := e.session.ActiveRoute()
	if r == nil {
		return nil, errNoActiveRoute
	}
	return r, nil
}

// Close stops every tracker and the event publisher
func (s *NavigationService) Close() error {
	s.mu.Lock()
	all := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		all = append(all, e)
	}
	s.sessions = make(map[string]*entry)
	s.mu.Unlock()

	for _, e := range all {
		e.tracker.Stop()
	}
	return s.publisher.Close()
}
