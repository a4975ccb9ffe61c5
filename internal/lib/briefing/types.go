package briefing

import (
	"context"
	"time"

	"github.com/campusmap/navcore/server/internal/lib/route"
)

// Source records which briefer produced a summary
type Source string

const (
	SourceOpenAI   Source = "openai"
	SourceFallback Source = "fallback"
)

// Briefing is a short natural-language overview of a route
type Briefing struct {
	Summary     string    `json:"summary"`
	Highlights  []string  `json:"highlights,omitempty"`
	Source      Source    `json:"source"`
	Model       string    `json:"model,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Briefer produces a briefing for a route
type Briefer interface {
	Brief(ctx context.Context, r *route.Route) (Briefing, error)
}

// Cache stores briefings by route content hash
type Cache interface {
	GetBriefing(contentHash string) (Briefing, bool, error)
	SetBriefing(contentHash string, b Briefing, ttl time.Duration) error
}
