package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/campusmap/navcore/server/internal/lib/route"
)

// ErrNotSubscribed is returned when pushing to a source nobody listens to
var ErrNotSubscribed = errors.New("position source has no subscriber")

// ChannelSource is a push-fed PositionSource. It allows one subscriber at a time.
type ChannelSource struct {
	buffer int

	mu      sync.Mutex
	samples chan Sample
	errs    chan error
	done    <-chan struct{}
}

// NewChannelSource creates a source buffering up to buffer samples
func NewChannelSource(buffer int) *ChannelSource {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelSource{buffer: buffer}
}

// Subscribe implements PositionSource. The subscription ends when ctx is done.
func (c *ChannelSource) Subscribe(ctx context.Context) (<-chan Sample, <-chan error, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.samples != nil {
		select {
		case <-c.done:
			// previous subscriber is gone, its cleanup has not run yet
		default:
			return nil, nil, errors.New("position source already has a subscriber")
		}
	}

	samples := make(chan Sample, c.buffer)
	errs := make(chan error, 1)
	c.samples, c.errs, c.done = samples, errs, ctx.Done()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		if c.samples == samples {
			c.samples, c.errs, c.done = nil, nil, nil
		}
		c.mu.Unlock()
	}()

	return samples, errs, nil
}

// Push delivers a sample to the subscriber, blocking while the buffer is full
func (c *ChannelSource) Push(ctx context.Context, s Sample) error {
	c.mu.Lock()
	samples, done := c.samples, c.done
	c.mu.Unlock()

	if samples == nil {
		return ErrNotSubscribed
	}

	select {
	case samples <- s:
		return nil
	case <-done:
		return ErrNotSubscribed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fail reports a device error such as denied location permission
func (c *ChannelSource) Fail(reason string) error {
	c.mu.Lock()
	errs := c.errs
	c.mu.Unlock()

	if errs == nil {
		return ErrNotSubscribed
	}

	select {
	case errs <- fmt.Errorf("%w: %s", route.ErrPositionUnavailable, reason):
	default:
	}
	return nil
}

// Subscribed reports whether a tracker is currently listening
func (c *ChannelSource) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.samples != nil
}
