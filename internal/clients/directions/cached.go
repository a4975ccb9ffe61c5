package directions

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/campusmap/navcore/server/internal/lib/route"
)

// RouteCache stores normalized routes by request hash
type RouteCache interface {
	GetRoute(requestHash string) (*route.Route, bool, error)
	SetRoute(requestHash string, r *route.Route, ttl time.Duration) error
}

// CachedProvider wraps a Provider with content-based caching of successful routes
type CachedProvider struct {
	provider route.Provider
	cache    RouteCache
	ttl      time.Duration
}

// NewCachedProvider creates a provider that serves repeated requests from cache
func NewCachedProvider(provider route.Provider, cache RouteCache, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		provider: provider,
		cache:    cache,
		ttl:      ttl,
	}
}

// FetchRoute checks the cache first, then the wrapped provider. Failures are never cached.
func (c *CachedProvider) FetchRoute(ctx context.Context, req route.Request) (*route.Route, error) {
	ctx = logging.EnsureLogger(ctx)
	if err := route.ValidateRequest(req); err != nil {
		return nil, err
	}

	requestHash := RequestHash(req)

	cached, found, err := c.cache.GetRoute(requestHash)
	if err != nil {
		logging.Warnw(ctx, "Route cache read failed", "hash", requestHash[:8], "error", err)
	} else if found {
		logging.Debugw(ctx, "Route cache hit", "hash", requestHash[:8])
		// Location ids and keys are not part of the hash; echo this request's
		cached.Waypoints = append([]route.Waypoint(nil), req.Points...)
		return cached, nil
	}

	r, err := c.provider.FetchRoute(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := c.cache.SetRoute(requestHash, r, c.ttl); err != nil {
		logging.Warnw(ctx, "Failed to cache route", "hash", requestHash[:8], "error", err)
	}

	return r, nil
}

// RequestHash creates a content hash for a routing request. Coordinates are
// rounded to 6 decimals (~0.1m) so jitter below that reuses the cached route.
// Waypoint ids and keys are left out; a cache hit takes them from the request.
func RequestHash(req route.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%t", req.Mode, req.Preference, req.SinglePreference)
	for _, p := range req.Points {
		fmt.Fprintf(&b, "|%.6f,%.6f|%s", p.Coordinates.Longitude, p.Coordinates.Latitude,
			strings.ToLower(strings.TrimSpace(p.DisplayName)))
	}

	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", hash)
}
