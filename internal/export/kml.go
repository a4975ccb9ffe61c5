package export

import (
	"fmt"
	"image/color"
	"io"

	"github.com/twpayne/go-kml"

	"github.com/campusmap/navcore/server/internal/lib/geo"
	"github.com/campusmap/navcore/server/internal/lib/route"
)

const routeStyleID = "route"

var routeLineColor = color.RGBA{R: 0x1a, G: 0x73, B: 0xe8, A: 0xff}

// KML builds a KML document with a styled route LineString and a Placemark per waypoint
func KML(r *route.Route, name string) (*kml.CompoundElement, error) {
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("exporting route: %w", err)
	}
	if name == "" {
		name = "Route"
	}

	coords := make([]kml.Coordinate, len(r.Polyline))
	for i, c := range r.Polyline {
		coords[i] = coordinate(c)
	}

	children := []kml.Element{
		kml.Name(name),
		kml.SharedStyle(routeStyleID,
			kml.LineStyle(
				kml.Color(routeLineColor),
				kml.Width(4),
			),
		),
		kml.Placemark(
			kml.Name(name),
			kml.Description(describe(r)),
			kml.StyleURL("#"+routeStyleID),
			kml.LineString(
				kml.Tessellate(true),
				kml.Coordinates(coords...),
			),
		),
	}

	for i, w := range r.Waypoints {
		children = append(children, kml.Placemark(
			kml.Name(waypointName(w, i)),
			kml.Point(
				kml.Coordinates(coordinate(w.Coordinates)),
			),
		))
	}

	return kml.KML(kml.Document(children...)), nil
}

// WriteKML writes the indented KML document for r
func WriteKML(w io.Writer, r *route.Route, name string) error {
	doc, err := KML(r, name)
	if err != nil {
		return err
	}
	return doc.WriteIndent(w, "", "  ")
}

func coordinate(c geo.Coordinate) kml.Coordinate {
	return kml.Coordinate{Lon: c.Longitude, Lat: c.Latitude}
}

func describe(r *route.Route) string {
	return fmt.Sprintf("%s, %.0f m, %.0f s, %d legs",
		r.Mode, r.TotalDistanceMeters, r.TotalDurationSeconds, len(r.Legs))
}
