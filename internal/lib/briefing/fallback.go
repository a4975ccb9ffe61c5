package briefing

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/campusmap/navcore/server/internal/lib/route"
)

var modeVerbs = map[route.TravelMode]string{
	route.Walking: "Walk",
	route.Cycling: "Cycle",
	route.Driving: "Drive",
}

// FallbackBriefer builds a deterministic briefing from route totals
type FallbackBriefer struct {
	now func() time.Time
}

// NewFallbackBriefer creates a briefer that needs no external service
func NewFallbackBriefer() *FallbackBriefer {
	return &FallbackBriefer{now: time.Now}
}

// Brief implements Briefer
func (f *FallbackBriefer) Brief(_ context.Context, r *route.Route) (Briefing, error) {
	if r == nil || len(r.Legs) == 0 {
		return Briefing{}, fmt.Errorf("%w: no route to brief", route.ErrNoRouteFound)
	}

	verb, ok := modeVerbs[r.Mode]
	if !ok {
		verb = "Travel"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (about %s)", verb, FormatDistance(r.TotalDistanceMeters), FormatDuration(r.TotalDurationSeconds))

	first, last := r.Legs[0], r.Legs[len(r.Legs)-1]
	if first.OriginName != "" && last.DestinationName != "" {
		fmt.Fprintf(&b, " from %s to %s", first.OriginName, last.DestinationName)
	}

	if stops := len(r.Legs) - 1; stops > 0 {
		names := make([]string, 0, stops)
		for _, leg := range r.Legs[:stops] {
			if leg.DestinationName != "" {
				names = append(names, leg.DestinationName)
			}
		}
		if len(names) == stops {
			fmt.Fprintf(&b, " via %s", strings.Join(names, ", "))
		} else {
			fmt.Fprintf(&b, " with %d %s", stops, plural(stops, "stop", "stops"))
		}
	}

	steps := len(r.Steps())
	fmt.Fprintf(&b, ", %d %s.", steps, plural(steps, "step", "steps"))

	return Briefing{
		Summary:     b.String(),
		Source:      SourceFallback,
		GeneratedAt: f.now(),
	}, nil
}

// FormatDistance renders meters as "300 m" or "1.4 km"
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%d m", int(math.Round(meters)))
	}
	return fmt.Sprintf("%.1f km", meters/1000)
}

// FormatDuration renders seconds as whole minutes, never below 1 min
func FormatDuration(seconds float64) string {
	minutes := int(math.Round(seconds / 60))
	if minutes < 1 {
		minutes = 1
	}
	if minutes < 60 {
		return fmt.Sprintf("%d min", minutes)
	}
	return fmt.Sprintf("%d h %d min", minutes/60, minutes%60)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
