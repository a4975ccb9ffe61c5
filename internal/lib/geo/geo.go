package geo

import (
	"errors"
	"math"

	"github.com/twpayne/go-polyline"
)

// HaversineDistance calculates great-circle distance between two coordinates in meters.
// NaN inputs propagate to the result; callers validate with IsValid first.
func HaversineDistance(a, b Coordinate) float64 {
	if a == b {
		return 0
	}

	// Convert degrees to radians
	lat1 := a.Latitude * math.Pi / 180
	lon1 := a.Longitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	lon2 := b.Longitude * math.Pi / 180

	// Haversine formula
	dlat := lat2 - lat1
	dlon := lon2 - lon1

	h := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusMeters * c
}

// NearestPointOnPolyline finds the polyline vertex closest to position.
// The distance is to the nearest vertex, not to the nearest point on a segment.
// ok is false when the polyline is empty.
func NearestPointOnPolyline(position Coordinate, polyline []Coordinate) (nearest NearestPoint, ok bool) {
	if len(polyline) == 0 {
		return NearestPoint{}, false
	}

	nearest = NearestPoint{Index: 0, DistanceMeters: math.Inf(1)}
	for i, vertex := range polyline {
		d := HaversineDistance(position, vertex)
		if d < nearest.DistanceMeters {
			nearest.Index = i
			nearest.DistanceMeters = d
		}
	}

	// All distances NaN: keep a defined index and surface NaN as the distance
	if math.IsInf(nearest.DistanceMeters, 1) {
		nearest.DistanceMeters = math.NaN()
	}

	return nearest, true
}

// NearestPointOnSegments projects position onto every polyline segment and returns
// the closest one. Position along the route is reported through Progress.
func NearestPointOnSegments(position Coordinate, polyline []Coordinate) (nearest SegmentPoint, ok bool) {
	if len(polyline) == 0 {
		return SegmentPoint{}, false
	}
	if len(polyline) == 1 {
		d := HaversineDistance(position, polyline[0])
		return SegmentPoint{NearestPoint: NearestPoint{Index: 0, DistanceMeters: d}, Progress: 0}, true
	}

	nearest = SegmentPoint{NearestPoint: NearestPoint{DistanceMeters: math.Inf(1)}}
	for i := 0; i < len(polyline)-1; i++ {
		distance, t := pointToSegment(position, polyline[i], polyline[i+1])
		if distance < nearest.DistanceMeters {
			nearest.DistanceMeters = distance
			nearest.Progress = float64(i) + t
			nearest.Index = i
			if t >= 1 {
				nearest.Index = i + 1
			}
		}
	}

	if math.IsInf(nearest.DistanceMeters, 1) {
		nearest.DistanceMeters = math.NaN()
	}

	return nearest, true
}

// SegmentPoint extends NearestPoint with the fractional vertex position of the
// projection (e.g. 2.5 is halfway between vertex 2 and vertex 3).
type SegmentPoint struct {
	NearestPoint
	Progress float64 `json:"progress"`
}

// pointToSegment calculates the distance from point to the great-circle segment and
// the fraction [0, 1] along the segment where the projection lands.
func pointToSegment(point, segmentStart, segmentEnd Coordinate) (float64, float64) {
	distanceToStart := HaversineDistance(point, segmentStart)
	distanceToEnd := HaversineDistance(point, segmentEnd)
	segmentLength := HaversineDistance(segmentStart, segmentEnd)

	// Degenerate segment
	if segmentLength < 1 {
		if distanceToStart <= distanceToEnd {
			return distanceToStart, 0
		}
		return distanceToEnd, 1
	}

	// Cross-track distance using spherical trigonometry
	d13 := distanceToStart / EarthRadiusMeters
	theta := bearing(segmentStart, point) - bearing(segmentStart, segmentEnd)
	dxt := math.Asin(math.Sin(d13) * math.Sin(theta))

	// Projection falls behind the segment start
	if math.Cos(theta) < 0 {
		return distanceToStart, 0
	}

	ratio := math.Cos(d13) / math.Cos(dxt)
	if ratio > 1 {
		ratio = 1
	}
	alongTrack := math.Acos(ratio) * EarthRadiusMeters

	// Projection lies beyond the segment end
	if alongTrack > segmentLength {
		return distanceToEnd, 1
	}

	return math.Abs(dxt) * EarthRadiusMeters, alongTrack / segmentLength
}

// bearing returns the initial great-circle bearing from a to b in radians.
func bearing(a, b Coordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lon1 := a.Longitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	lon2 := b.Longitude * math.Pi / 180

	y := math.Sin(lon2-lon1) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(lon2-lon1)
	return math.Atan2(y, x)
}

// Heading returns the compass heading from a to b in degrees, 0 to 360 clockwise from north.
func Heading(a, b Coordinate) float64 {
	deg := bearing(a, b) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// PolylineLength returns the summed great-circle length of the polyline in meters.
func PolylineLength(polyline []Coordinate) float64 {
	total := 0.0
	for i := 0; i < len(polyline)-1; i++ {
		total += HaversineDistance(polyline[i], polyline[i+1])
	}
	return total
}

// CumulativeDistances returns, for every vertex, the distance travelled from the
// first vertex along the polyline.
func CumulativeDistances(polyline []Coordinate) []float64 {
	if len(polyline) == 0 {
		return nil
	}
	cumulative := make([]float64, len(polyline))
	for i := 1; i < len(polyline); i++ {
		cumulative[i] = cumulative[i-1] + HaversineDistance(polyline[i-1], polyline[i])
	}
	return cumulative
}

// DecodePolyline decodes an encoded polyline string with the given precision
// (5 for Google-style polylines, 6 for polyline6).
func DecodePolyline(encoded string, precision int) ([]Coordinate, error) {
	if encoded == "" {
		return nil, errors.New("encoded polyline string is empty")
	}
	if precision <= 0 {
		precision = 5
	}

	codec := polyline.Codec{Dim: 2, Scale: math.Pow10(precision)}
	coords, rest, err := codec.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, errors.New("failed to decode polyline: " + err.Error())
	}
	if len(rest) > 0 {
		return nil, errors.New("failed to decode polyline: trailing data")
	}

	points := make([]Coordinate, len(coords))
	for i, coord := range coords {
		// Encoded polylines store latitude first
		points[i] = Coordinate{Latitude: coord[0], Longitude: coord[1]}

		if !IsValid(points[i]) {
			return nil, errors.New("decoded polyline contains invalid coordinates")
		}
	}

	return points, nil
}

// EncodePolyline encodes coordinates with the given precision.
func EncodePolyline(points []Coordinate, precision int) string {
	if precision <= 0 {
		precision = 5
	}
	coords := make([][]float64, len(points))
	for i, p := range points {
		coords[i] = []float64{p.Latitude, p.Longitude}
	}
	codec := polyline.Codec{Dim: 2, Scale: math.Pow10(precision)}
	return string(codec.EncodeCoords(nil, coords))
}

// IsValid reports whether the coordinate is finite and within
// latitude [-90, 90] and longitude [-180, 180].
func IsValid(c Coordinate) bool {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) ||
		math.IsInf(c.Latitude, 0) || math.IsInf(c.Longitude, 0) {
		return false
	}
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}
