package cache

import (
	"fmt"
	"time"

	"github.com/campusmap/navcore/server/internal/lib/briefing"
	"github.com/campusmap/navcore/server/internal/lib/route"
)

const (
	routeKeyPrefix    = "route:"
	briefingKeyPrefix = "briefing:"
)

// RouteCacheAdapter makes the main Cache usable as a directions route cache
type RouteCacheAdapter struct {
	cache *Cache
}

// NewRouteCacheAdapter creates an adapter for route caching
func NewRouteCacheAdapter(cache *Cache) *RouteCacheAdapter {
	return &RouteCacheAdapter{cache: cache}
}

// GetRoute returns a fresh cached route for the request hash
func (a *RouteCacheAdapter) GetRoute(requestHash string) (*route.Route, bool, error) {
	var cached route.Route
	found, err := a.cache.Get(routeKeyPrefix+requestHash, &cached)
	if err != nil || !found {
		return nil, false, err
	}
	return &cached, true, nil
}

// SetRoute caches a route under the request hash
func (a *RouteCacheAdapter) SetRoute(requestHash string, r *route.Route, ttl time.Duration) error {
	if r == nil {
		return fmt.Errorf("refusing to cache nil route")
	}
	return a.cache.Set(routeKeyPrefix+requestHash, r, ttl, "directions")
}

// BriefingCacheAdapter makes the main Cache implement briefing.Cache
type BriefingCacheAdapter struct {
	cache *Cache
}

// NewBriefingCacheAdapter creates an adapter for briefing caching
func NewBriefingCacheAdapter(cache *Cache) *BriefingCacheAdapter {
	return &BriefingCacheAdapter{cache: cache}
}

// GetBriefing implements briefing.Cache
func (a *BriefingCacheAdapter) GetBriefing(contentHash string) (briefing.Briefing, bool, error) {
	var cached briefing.Briefing
	found, err := a.cache.Get(briefingKeyPrefix+contentHash, &cached)
	if err != nil || !found {
		return briefing.Briefing{}, false, err
	}
	return cached, true, nil
}

// SetBriefing implements briefing.Cache
func (a *BriefingCacheAdapter) SetBriefing(contentHash string, b briefing.Briefing, ttl time.Duration) error {
	return a.cache.Set(briefingKeyPrefix+contentHash, b, ttl, "briefing")
}
