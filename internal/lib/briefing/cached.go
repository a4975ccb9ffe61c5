package briefing

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/campusmap/navcore/server/internal/lib/route"
)

// CachedBriefer wraps an OpenAI briefer with content-based caching and a
// deterministic fallback. Fallback briefings are never cached.
type CachedBriefer struct {
	briefer  Briefer
	fallback Briefer
	cache    Cache
	ttl      time.Duration
}

// NewCachedBriefer creates a briefer with caching. briefer may be nil, in
// which case every request is served by the fallback.
func NewCachedBriefer(briefer Briefer, cache Cache, ttl time.Duration) *CachedBriefer {
	return &CachedBriefer{
		briefer:  briefer,
		fallback: NewFallbackBriefer(),
		cache:    cache,
		ttl:      ttl,
	}
}

// Brief returns a cached briefing when the route content was seen before
func (c *CachedBriefer) Brief(ctx context.Context, r *route.Route) (Briefing, error) {
	ctx = logging.EnsureLogger(ctx)
	if r == nil {
		return Briefing{}, fmt.Errorf("%w: no route to brief", route.ErrNoRouteFound)
	}
	if c.briefer == nil {
		return c.fallback.Brief(ctx, r)
	}

	contentHash := HashRoute(r)

	if cached, found, err := c.cache.GetBriefing(contentHash); err == nil && found {
		logging.Debugw(ctx, "Briefing cache hit", "hash", contentHash[:8])
		return cached, nil
	}

	b, err := c.briefer.Brief(ctx, r)
	if err != nil {
		logging.Warnw(ctx, "Briefing generation failed, using fallback", "hash", contentHash[:8], "error", err)
		return c.fallback.Brief(ctx, r)
	}

	if err := c.cache.SetBriefing(contentHash, b, c.ttl); err != nil {
		logging.Warnw(ctx, "Failed to cache briefing", "error", err)
	}

	return b, nil
}

// HashRoute creates a content hash over the parts of a route a briefing describes
func HashRoute(r *route.Route) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%.0f|%.0f", r.Mode, r.TotalDistanceMeters, r.TotalDurationSeconds)
	for _, leg := range r.Legs {
		fmt.Fprintf(&b, "|%s>%s", leg.OriginName, leg.DestinationName)
		for _, step := range leg.Steps {
			b.WriteString("|" + strings.ToLower(strings.TrimSpace(step.InstructionText)))
		}
	}

	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", hash)
}
