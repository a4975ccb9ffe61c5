package geo

// Coordinate is a (longitude, latitude) pair in decimal degrees.
type Coordinate struct {
	Longitude float64 `json:"lng"`
	Latitude  float64 `json:"lat"`
}

// NearestPoint is the result of a nearest-point search against a polyline.
type NearestPoint struct {
	// Index of the closest polyline vertex. In segment mode this is the index of
	// the segment's starting vertex, or the end vertex when the projection lands on it.
	Index          int     `json:"index"`
	DistanceMeters float64 `json:"distance_meters"`
}

// Earth's mean radius in meters
const EarthRadiusMeters = 6371000
