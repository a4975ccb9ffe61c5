package routing

// OffRouteThresholdMeters is the default distance from the route polyline beyond
// which the traveler is considered off route.
const OffRouteThresholdMeters = 50.0

// Progress describes where a traveler is along a route
type Progress struct {
	CurrentStepIndex         int     `json:"current_step_index"`
	DistanceToNextStepMeters float64 `json:"distance_to_next_step_meters"`
	IsOffRoute               bool    `json:"is_off_route"`

	// Distance from the position to the matched polyline point
	DistanceFromRouteMeters float64 `json:"distance_from_route_meters"`
}

// NoProgress is returned when there is no polyline or no steps to match against.
var NoProgress = Progress{}
