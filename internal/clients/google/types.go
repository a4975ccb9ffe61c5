package google

// ComputeRoutesRequest is the body of a computeRoutes call
type ComputeRoutesRequest struct {
	Origin                   Waypoint   `json:"origin"`
	Destination              Waypoint   `json:"destination"`
	Intermediates            []Waypoint `json:"intermediates,omitempty"`
	TravelMode               string     `json:"travelMode"`
	RoutingPreference        string     `json:"routingPreference,omitempty"`
	ComputeAlternativeRoutes bool       `json:"computeAlternativeRoutes,omitempty"`
	PolylineEncoding         string     `json:"polylineEncoding"`
	Units                    string     `json:"units,omitempty"`
}

type Waypoint struct {
	Location Location `json:"location"`
}

type Location struct {
	LatLng LatLng `json:"latLng"`
}

type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// RoutesResponse represents the API response structure
type RoutesResponse struct {
	Routes []Route `json:"routes"`
}

type Route struct {
	DistanceMeters float64  `json:"distanceMeters"`
	Duration       string   `json:"duration"`
	Polyline       Polyline `json:"polyline"`
	Legs           []Leg    `json:"legs"`
}

type Polyline struct {
	EncodedPolyline string `json:"encodedPolyline"`
}

type Leg struct {
	DistanceMeters float64 `json:"distanceMeters"`
	Duration       string  `json:"duration"`
	Steps          []Step  `json:"steps"`
}

type Step struct {
	DistanceMeters        float64                `json:"distanceMeters"`
	StaticDuration        string                 `json:"staticDuration"`
	NavigationInstruction *NavigationInstruction `json:"navigationInstruction,omitempty"`
}

type NavigationInstruction struct {
	Maneuver     string `json:"maneuver"`
	Instructions string `json:"instructions"`
}

// ErrorResponse is the error envelope returned on 4xx responses
type ErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
