package tracking

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"

	"github.com/campusmap/navcore/server/internal/lib/geo"
	"github.com/campusmap/navcore/server/internal/lib/route"
	"github.com/campusmap/navcore/server/internal/lib/routing"
)

// ErrAlreadyTracking is returned by Start while a subscription is active
var ErrAlreadyTracking = stderrors.New("tracker is already running")

// Tracker feeds device positions through the progress matcher against the
// active route. Samples are processed one at a time in arrival order.
type Tracker struct {
	source  PositionSource
	routes  RouteProvider
	matcher routing.Matcher
	now     func() time.Time

	mu         sync.Mutex
	state      TrackingState
	route      *route.Route
	generation uint64
	detector   routing.OffRouteDetector
	arrived    bool
	err        error
	cancel     context.CancelFunc
	done       chan struct{}

	onOffRoute func(TrackingState)
	onArrive   func(TrackingState)
	onError    func(error)
}

// NewTracker creates a tracker. routes may be nil, in which case only
// position fields are recorded.
func NewTracker(source PositionSource, routes RouteProvider, matcher routing.Matcher) *Tracker {
	return &Tracker{
		source:  source,
		routes:  routes,
		matcher: matcher,
		now:     time.Now,
	}
}

// OnOffRoute registers a callback fired once per on-route to off-route transition
func (t *Tracker) OnOffRoute(fn func(TrackingState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOffRoute = fn
}

// OnArrive registers a callback fired once per route when the traveler
// reaches the final step while on route
func (t *Tracker) OnArrive(fn func(TrackingState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onArrive = fn
}

// OnError registers a callback for position stream failures
func (t *Tracker) OnError(fn func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onError = fn
}

// Start subscribes to the position source. onUpdate, if non-nil, receives
// the new state after every processed sample. Callbacks run on the tracker
// goroutine and must not call Stop.
func (t *Tracker) Start(ctx context.Context, onUpdate func(TrackingState)) error {
	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		return ErrAlreadyTracking
	}

	subCtx, cancel := context.WithCancel(logging.EnsureLogger(ctx))
	samples, errs, err := t.source.Subscribe(subCtx)
	if err != nil {
		cancel()
		err = fmt.Errorf("%w: %w", route.ErrPositionUnavailable, err)
		t.err = err
		t.state.IsTracking = false
		t.mu.Unlock()
		return err
	}

	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	t.err = nil
	t.state.IsTracking = true
	t.mu.Unlock()

	go t.run(subCtx, samples, errs, onUpdate, done)
	return nil
}

// Stop unsubscribes and waits for the processing loop to exit.
// No callbacks fire after Stop returns.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// State returns a copy of the current tracking state
func (t *Tracker) State() TrackingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.clone()
}

// Err returns the error that ended the last subscription, if any
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Running reports whether the tracker has an active subscription
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

// Reset returns progress to defaults. Sessions call it when the active route changes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.generation++
	t.route = nil
	t.detector.Reset()
	t.arrived = false
	t.state.resetProgress()
}

func (t *Tracker) run(ctx context.Context, samples <-chan Sample, errs <-chan error, onUpdate func(TrackingState), done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			err, _ := errors.ParseStack(debug.Stack())
			skipFrames := 3
			numFrames := 5
			logging.Errorw(ctx, "Tracker: recovered from panic",
				"error", r, "error.stack_trace", err.MinimalStack(skipFrames, numFrames))
			t.finish(fmt.Errorf("tracker panic: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			t.finish(nil)
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if !stderrors.Is(err, route.ErrPositionUnavailable) {
				err = fmt.Errorf("%w: %w", route.ErrPositionUnavailable, err)
			}
			logging.Warnw(ctx, "Tracker: position stream failed", "error", err)
			t.finish(err)
			return
		case sample, ok := <-samples:
			if !ok {
				t.finish(nil)
				return
			}
			t.handle(sample, onUpdate)
		}
	}
}

// finish ends the subscription. The loaded route is never touched here.
func (t *Tracker) finish(err error) {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	t.cancel = nil
	t.state.IsTracking = false
	if err != nil {
		t.err = err
	}
	onError := t.onError
	t.mu.Unlock()

	if err != nil && onError != nil {
		onError(err)
	}
}

// handle processes one sample. The route is read once so polyline and steps
// always come from the same immutable snapshot.
func (t *Tracker) handle(sample Sample, onUpdate func(TrackingState)) {
	t.mu.Lock()
	generation := t.generation
	t.mu.Unlock()

	var active *route.Route
	if t.routes != nil {
		active = t.routes.ActiveRoute()
	}

	var (
		progress routing.Progress
		steps    []route.RouteStep
		matched  bool
	)
	if active != nil && geo.IsValid(sample.Coordinate) {
		steps = active.Steps()
		progress = t.matcher.Match(sample.Coordinate, active.Polyline, steps)
		matched = len(active.Polyline) > 0 && len(steps) > 0
	}

	t.mu.Lock()
	if generation != t.generation {
		// Reset raced with matching; the result belongs to a superseded route
		matched = false
	}
	if active != t.route {
		t.route = active
		t.detector.Reset()
		t.arrived = false
		t.state.resetProgress()
	}

	position := sample.Coordinate
	t.state.LastPosition = &position
	t.state.HeadingDegrees = nil
	if sample.HeadingDegrees != nil {
		heading := *sample.HeadingDegrees
		t.state.HeadingDegrees = &heading
	}
	if sample.AccuracyMeters > 0 {
		accuracy := sample.AccuracyMeters
		t.state.AccuracyMeters = &accuracy
	} else {
		t.state.AccuracyMeters = nil
	}
	t.state.UpdatedAt = sample.Timestamp
	if t.state.UpdatedAt.IsZero() {
		t.state.UpdatedAt = t.now()
	}

	var enteredOffRoute, arrivedNow bool
	if matched {
		t.state.CurrentStepIndex = progress.CurrentStepIndex
		t.state.DistanceToNextStepMeters = progress.DistanceToNextStepMeters
		t.state.IsOffRoute = progress.IsOffRoute
		t.state.DistanceFromRouteMeters = progress.DistanceFromRouteMeters
		t.state.Matched = true

		enteredOffRoute = t.detector.Observe(progress.IsOffRoute)
		if !t.arrived && len(steps) > 1 && !progress.IsOffRoute && progress.CurrentStepIndex == len(steps)-1 {
			t.arrived = true
			arrivedNow = true
		}
	} else {
		t.state.resetProgress()
	}

	state := t.state.clone()
	onOffRoute, onArrive := t.onOffRoute, t.onArrive
	t.mu.Unlock()

	if onUpdate != nil {
		onUpdate(state)
	}
	if enteredOffRoute && onOffRoute != nil {
		onOffRoute(state)
	}
	if arrivedNow && onArrive != nil {
		onArrive(state)
	}
}
