package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusmap/navcore/server/internal/lib/briefing"
	"github.com/campusmap/navcore/server/internal/lib/geo"
	"github.com/campusmap/navcore/server/internal/lib/route"
)

// newTestCache returns a cache with a controllable clock
func newTestCache(now *time.Time) *Cache {
	c := NewCache()
	c.now = func() time.Time { return *now }
	return c
}

func TestCache_SetGet(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	c := newTestCache(&now)

	require.NoError(t, c.Set("greeting", map[string]string{"hello": "world"}, time.Minute, "test"))

	var result map[string]string
	found, err := c.Get("greeting", &result)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "world", result["hello"])

	// Expired entries are misses
	now = now.Add(2 * time.Minute)
	found, err = c.Get("greeting", &result)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 1, c.Stats().StaleEntries, "Expired entries stay until cleanup")
}

func TestCache_StatsAndCleanup(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	c := newTestCache(&now)

	require.NoError(t, c.Set("short", 1, time.Second, "test"))
	require.NoError(t, c.Set("long", 2, time.Hour, "test"))

	now = now.Add(time.Minute)
	stats := c.Stats()
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Equal(t, 1, stats.StaleEntries)
	assert.Equal(t, 1, stats.FreshEntries)

	assert.Equal(t, 1, c.CleanupStale())

	var value int
	found, err := c.Get("long", &value)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, value)
	assert.Equal(t, 1, c.Stats().TotalEntries)
}

func TestCache_PeriodicCleanupFromBareContext(t *testing.T) {
	c := NewCache()
	require.NoError(t, c.Set("expiring", 1, time.Millisecond, "test"))
	require.NoError(t, c.Set("kept", 2, time.Hour, "test"))

	// No logger is attached to ctx; the cleanup loop must still log evictions
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartPeriodicCleanup(ctx, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		return c.Stats().TotalEntries == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, c.Stats().FreshEntries)
}

func TestRouteCacheAdapter(t *testing.T) {
	adapter := NewRouteCacheAdapter(NewCache())

	r := &route.Route{
		TotalDistanceMeters:  1400,
		TotalDurationSeconds: 1020,
		Polyline:             []geo.Coordinate{{Longitude: 10, Latitude: 20}, {Longitude: 10.01, Latitude: 20.01}},
		Legs: []route.RouteLeg{{
			DistanceMeters: 1400,
			Steps: []route.RouteStep{
				{InstructionText: "Depart", DistanceMeters: 1400, Maneuver: route.Maneuver{Type: route.ManeuverDepart}},
				{InstructionText: "Arrive", Maneuver: route.Maneuver{Type: route.ManeuverArrive}},
			},
		}},
		Mode: route.Walking,
	}

	_, found, err := adapter.GetRoute("abc")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, adapter.SetRoute("abc", r, time.Minute))
	cached, found, err := adapter.GetRoute("abc")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, r, cached)
	assert.NotSame(t, r, cached, "Readers get their own copy")

	assert.Error(t, adapter.SetRoute("nil", nil, time.Minute))
}

func TestBriefingCacheAdapter(t *testing.T) {
	adapter := NewBriefingCacheAdapter(NewCache())
	b := briefing.Briefing{Summary: "Short walk past the library.", Source: briefing.SourceFallback}

	require.NoError(t, adapter.SetBriefing("hash", b, time.Hour))
	cached, found, err := adapter.GetBriefing("hash")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, b.Summary, cached.Summary)
	assert.Equal(t, briefing.SourceFallback, cached.Source)
}
