// Package export renders routes as KML and GeoJSON documents for map tools.
package export

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/campusmap/navcore/server/internal/lib/geo"
	"github.com/campusmap/navcore/server/internal/lib/route"
)

// Feature roles stored in the "role" property
const (
	RoleRoute    = "route"
	RoleWaypoint = "waypoint"
)

// GeoJSON builds a FeatureCollection with the route line first, followed by
// one Point per waypoint in route order
func GeoJSON(r *route.Route) (*geojson.FeatureCollection, error) {
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("exporting route: %w", err)
	}

	fc := geojson.NewFeatureCollection()

	line := make(orb.LineString, len(r.Polyline))
	for i, c := range r.Polyline {
		line[i] = point(c)
	}
	routeFeature := geojson.NewFeature(line)
	routeFeature.Properties["role"] = RoleRoute
	routeFeature.Properties["mode"] = string(r.Mode)
	routeFeature.Properties["distance_meters"] = r.TotalDistanceMeters
	routeFeature.Properties["duration_seconds"] = r.TotalDurationSeconds
	routeFeature.Properties["legs"] = len(r.Legs)
	fc.Append(routeFeature)

	for i, w := range r.Waypoints {
		f := geojson.NewFeature(point(w.Coordinates))
		f.Properties["role"] = RoleWaypoint
		f.Properties["index"] = i
		f.Properties["name"] = waypointName(w, i)
		if w.SourceLocationID != "" {
			f.Properties["location_id"] = w.SourceLocationID
		}
		fc.Append(f)
	}

	return fc, nil
}

// MarshalGeoJSON encodes the route FeatureCollection
func MarshalGeoJSON(r *route.Route) ([]byte, error) {
	fc, err := GeoJSON(r)
	if err != nil {
		return nil, err
	}
	return fc.MarshalJSON()
}

func point(c geo.Coordinate) orb.Point {
	return orb.Point{c.Longitude, c.Latitude}
}

func waypointName(w route.Waypoint, index int) string {
	if w.DisplayName != "" {
		return w.DisplayName
	}
	if index == 0 {
		return "Start"
	}
	return fmt.Sprintf("Stop %d", index)
}
