package services

import (
	"context"
	"sync"
	"time"

	"github.com/dpup/prefab/logging"
)

// SessionReaper periodically removes sessions nobody has touched within the idle timeout
type SessionReaper struct {
	service     *NavigationService
	idleTimeout time.Duration
	interval    time.Duration

	mu       sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
	running  bool
}

// NewSessionReaper creates a reaper for service
func NewSessionReaper(service *NavigationService, idleTimeout, interval time.Duration) *SessionReaper {
	return &SessionReaper{
		service:     service,
		idleTimeout: idleTimeout,
		interval:    interval,
	}
}

// StartReaping launches the background reap loop
func (p *SessionReaper) StartReaping(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	p.running = true
	p.stopChan = make(chan struct{})
	p.done = make(chan struct{})

	ctx = logging.EnsureLogger(ctx)
	logging.Infow(ctx, "Starting session reaper", "idle_timeout", p.idleTimeout, "interval", p.interval)
	go p.reapLoop(ctx, p.stopChan, p.done)
}

// Stop halts the reap loop and waits for it to exit
func (p *SessionReaper) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	done := p.done
	p.mu.Unlock()

	<-done
}

// IsRunning returns whether the reap loop is active
func (p *SessionReaper) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *SessionReaper) reapLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Infow(ctx, "Session reaper stopping due to context cancellation")
			return
		case <-stop:
			return
		case <-ticker.C:
			p.reap(ctx)
		}
	}
}

func (p *SessionReaper) reap(ctx context.Context) {
	removed := p.service.ReapIdle(p.idleTimeout)
	if len(removed) > 0 {
		logging.Infow(ctx, "Session reaper: removed idle sessions", "count", len(removed), "remaining", p.service.Count())
	}
}
