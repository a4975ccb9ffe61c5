package directions

import (
	"encoding/json"
	"fmt"
)

// DirectionsResponse represents the provider response structure
type DirectionsResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message,omitempty"`
	Routes  []DirectionsRoute `json:"routes"`
}

// DirectionsRoute represents a single candidate route
type DirectionsRoute struct {
	Distance float64         `json:"distance"`
	Duration float64         `json:"duration"`
	Geometry Geometry        `json:"geometry"`
	Legs     []DirectionsLeg `json:"legs"`
}

// DirectionsLeg covers the path between two consecutive request points
type DirectionsLeg struct {
	Distance float64          `json:"distance"`
	Duration float64          `json:"duration"`
	Summary  string           `json:"summary,omitempty"`
	Steps    []DirectionsStep `json:"steps"`
}

// DirectionsStep represents one maneuver
type DirectionsStep struct {
	Distance    float64            `json:"distance"`
	Duration    float64            `json:"duration"`
	Name        string             `json:"name,omitempty"`
	Instruction string             `json:"instruction,omitempty"`
	Maneuver    DirectionsManeuver `json:"maneuver"`
}

// DirectionsManeuver uses the provider's open string vocabulary
type DirectionsManeuver struct {
	Type        string `json:"type"`
	Modifier    string `json:"modifier,omitempty"`
	Instruction string `json:"instruction,omitempty"`
}

// Geometry is either a GeoJSON LineString or an encoded polyline string
type Geometry struct {
	Coordinates [][]float64
	Encoded     string
}

// UnmarshalJSON accepts both geometry encodings
func (g *Geometry) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &g.Encoded)
	}

	var line struct {
		Type        string      `json:"type"`
		Coordinates [][]float64 `json:"coordinates"`
	}
	if err := json.Unmarshal(data, &line); err != nil {
		return fmt.Errorf("failed to decode geometry: %w", err)
	}
	g.Coordinates = line.Coordinates
	return nil
}

// MarshalJSON writes the geometry back in the encoding it was read in
func (g Geometry) MarshalJSON() ([]byte, error) {
	if g.Encoded != "" {
		return json.Marshal(g.Encoded)
	}
	return json.Marshal(map[string]interface{}{
		"type":        "LineString",
		"coordinates": g.Coordinates,
	})
}
