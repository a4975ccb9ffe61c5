// Package gpxreplay replays recorded GPX tracks as a live position stream.
package gpxreplay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tkrajina/gpxgo/gpx"

	"github.com/campusmap/navcore/server/internal/lib/geo"
	"github.com/campusmap/navcore/server/internal/tracking"
)

// metersPerHDOP converts horizontal dilution of precision to an accuracy radius
const metersPerHDOP = 5.0

// ErrNoTrackPoints is returned for GPX files without any usable track point
var ErrNoTrackPoints = errors.New("gpx file has no track points")

// Options controls replay pacing
type Options struct {
	// Speedup divides the recorded gap between timestamps. Zero replays
	// without pauses.
	Speedup float64
	// Interval is a fixed pause between samples, used when set instead of
	// the recorded timestamps.
	Interval time.Duration
	// DefaultAccuracyMeters is reported for points without HDOP.
	DefaultAccuracyMeters float64
}

// Source is a tracking.PositionSource backed by a GPX recording
type Source struct {
	samples []tracking.Sample
	opts    Options
}

// Load reads a GPX file from disk
func Load(path string, opts Options) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening gpx file: %w", err)
	}
	defer f.Close()

	g, err := gpx.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing gpx file %s: %w", path, err)
	}
	return newSource(g, opts)
}

// FromBytes parses an in-memory GPX document
func FromBytes(data []byte, opts Options) (*Source, error) {
	g, err := gpx.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parsing gpx: %w", err)
	}
	return newSource(g, opts)
}

func newSource(g *gpx.GPX, opts Options) (*Source, error) {
	samples := samplesFromGPX(g, opts.DefaultAccuracyMeters)
	if len(samples) == 0 {
		return nil, ErrNoTrackPoints
	}
	return &Source{samples: samples, opts: opts}, nil
}

// samplesFromGPX flattens every track segment in file order. Heading is
// derived from the previous point since GPX 1.1 has no course field.
func samplesFromGPX(g *gpx.GPX, defaultAccuracy float64) []tracking.Sample {
	var samples []tracking.Sample
	var previous *geo.Coordinate

	for _, track := range g.Tracks {
		for _, segment := range track.Segments {
			for _, point := range segment.Points {
				c := geo.Coordinate{Longitude: point.Longitude, Latitude: point.Latitude}
				if !geo.IsValid(c) {
					continue
				}

				sample := tracking.Sample{
					Coordinate:     c,
					AccuracyMeters: defaultAccuracy,
					Timestamp:      point.Timestamp,
				}
				if point.HorizontalDilution.NotNull() {
					sample.AccuracyMeters = point.HorizontalDilution.Value() * metersPerHDOP
				}
				if previous != nil && *previous != c {
					heading := geo.Heading(*previous, c)
					sample.HeadingDegrees = &heading
				}

				samples = append(samples, sample)
				previous = &c
			}
		}
	}
	return samples
}

// Samples returns the parsed samples
func (s *Source) Samples() []tracking.Sample {
	return append([]tracking.Sample(nil), s.samples...)
}

// Subscribe implements tracking.PositionSource. The sample channel closes
// after the last point, which ends tracking without an error.
func (s *Source) Subscribe(ctx context.Context) (<-chan tracking.Sample, <-chan error, error) {
	out := make(chan tracking.Sample)
	errs := make(chan error)

	go func() {
		defer close(errs)
		defer close(out)

		for i, sample := range s.samples {
			if i > 0 {
				if !sleep(ctx, s.pause(s.samples[i-1], sample)) {
					return
				}
			}
			select {
			case out <- sample:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errs, nil
}

func (s *Source) pause(previous, next tracking.Sample) time.Duration {
	if s.opts.Interval > 0 {
		return s.opts.Interval
	}
	if s.opts.Speedup <= 0 || previous.Timestamp.IsZero() || next.Timestamp.IsZero() {
		return 0
	}
	gap := next.Timestamp.Sub(previous.Timestamp)
	if gap <= 0 {
		return 0
	}
	return time.Duration(float64(gap) / s.opts.Speedup)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
