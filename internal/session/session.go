// Package session holds route state for single-destination and multi-stop
// navigation. Both session kinds share the Idle/Loading/Ready/Error state
// machine and the stale-response guard implemented by core.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/campusmap/navcore/server/internal/lib/route"
	"github.com/campusmap/navcore/server/internal/tracking"
)

// ErrSuperseded is returned by a route request whose result was discarded
// because a newer request or a mutation replaced it
var ErrSuperseded = errors.New("route request superseded")

// Status is the session state machine position
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// Snapshot is the UI read surface: route and loading flag are independent so
// a previous route can stay visible while a replacement loads.
type Snapshot struct {
	Status    Status                 `json:"status"`
	Route     *route.Route           `json:"route,omitempty"`
	IsLoading bool                   `json:"is_loading"`
	Err       error                  `json:"-"`
	Error     string                 `json:"error,omitempty"`
	Tracking  tracking.TrackingState `json:"tracking"`
}

// ProgressTracker is the tracker surface a session drives
type ProgressTracker interface {
	State() tracking.TrackingState
	Reset()
}

// core implements the shared request sequencing. Every fetch takes a new
// sequence number; results are applied only when their number is still the latest.
type core struct {
	provider route.Provider

	mu        sync.Mutex
	seq       uint64
	cancel    context.CancelFunc
	status    Status
	route     *route.Route
	err       error
	tracker   ProgressTracker
	observers []func(Snapshot)
}

func newCore(provider route.Provider) core {
	return core{provider: provider, status: StatusIdle}
}

// ActiveRoute implements tracking.RouteProvider. The returned route is immutable.
func (c *core) ActiveRoute() *route.Route {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.route
}

// Status returns the current state machine position
func (c *core) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// AttachTracker links a tracker whose state is reported in snapshots and
// reset whenever the route changes
func (c *core) AttachTracker(t ProgressTracker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracker = t
}

// OnChange registers an observer called after every state transition
func (c *core) OnChange(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Snapshot returns a consistent view of the session
func (c *core) Snapshot() Snapshot {
	c.mu.Lock()
	snap, tracker := c.snapshotLocked()
	c.mu.Unlock()

	if tracker != nil {
		snap.Tracking = tracker.State()
	}
	return snap
}

func (c *core) snapshotLocked() (Snapshot, ProgressTracker) {
	snap := Snapshot{
		Status:    c.status,
		Route:     c.route,
		IsLoading: c.status == StatusLoading,
		Err:       c.err,
	}
	if c.err != nil {
		snap.Error = c.err.Error()
	}
	return snap, c.tracker
}

// priorState is what a request abandoned by its caller restores
type priorState struct {
	status Status
	err    error
}

// begin supersedes any in-flight request and moves to Loading. The current
// route stays in place until the new request succeeds.
func (c *core) begin(ctx context.Context) (context.Context, uint64, priorState) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	prior := priorState{status: c.status, err: c.err}
	c.seq++
	id := c.seq
	fetchCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.status = StatusLoading
	c.err = nil
	c.mu.Unlock()

	c.notify(false)
	return fetchCtx, id, prior
}

// finish applies a fetch result if id is still the latest request
func (c *core) finish(id uint64, r *route.Route, err error) (*route.Route, error) {
	c.mu.Lock()
	if id != c.seq {
		c.mu.Unlock()
		return nil, ErrSuperseded
	}

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	routeChanged := false
	if err != nil {
		routeChanged = c.route != nil
		c.status = StatusError
		c.err = err
		c.route = nil
	} else {
		routeChanged = true
		c.status = StatusReady
		c.err = nil
		c.route = r
	}
	c.mu.Unlock()

	c.notify(routeChanged)
	return r, err
}

// abandon discards request id after its caller stopped waiting. The route
// is untouched and the state before the request is restored.
func (c *core) abandon(id uint64, prior priorState, cause error) (*route.Route, error) {
	c.mu.Lock()
	if id != c.seq {
		c.mu.Unlock()
		return nil, ErrSuperseded
	}

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	switch {
	case prior.status != StatusLoading:
		c.status, c.err = prior.status, prior.err
	case c.route != nil:
		c.status, c.err = StatusReady, nil
	default:
		c.status, c.err = StatusIdle, nil
	}
	c.mu.Unlock()

	c.notify(false)
	return nil, cause
}

// invalidate drops the route and any in-flight request, returning to Idle
func (c *core) invalidate() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.seq++
	routeChanged := c.route != nil
	changed := routeChanged || c.status != StatusIdle
	c.status = StatusIdle
	c.route = nil
	c.err = nil
	c.mu.Unlock()

	if changed {
		c.notify(routeChanged)
	}
}

// fetch runs one provider call under the sequence guard
func (c *core) fetch(ctx context.Context, req route.Request) (*route.Route, error) {
	fetchCtx, id, prior := c.begin(ctx)
	r, err := c.provider.FetchRoute(fetchCtx, req)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return c.abandon(id, prior, ctxErr)
	}
	if err == nil {
		err = r.Validate()
	}
	if err != nil {
		r = nil
	}
	return c.finish(id, r, err)
}

// notify resets the tracker when the route changed, then informs observers.
// Called without the lock held.
func (c *core) notify(routeChanged bool) {
	c.mu.Lock()
	snap, tracker := c.snapshotLocked()
	observers := append([]func(Snapshot){}, c.observers...)
	c.mu.Unlock()

	if tracker != nil {
		if routeChanged {
			tracker.Reset()
		}
		snap.Tracking = tracker.State()
	}
	for _, fn := range observers {
		fn(snap)
	}
}
