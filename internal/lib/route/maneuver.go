package route

import "strings"

// ManeuverType is the closed set of maneuver kinds understood by the navigation core.
type ManeuverType int

const (
	ManeuverUnknown ManeuverType = iota
	ManeuverDepart
	ManeuverArrive
	ManeuverTurn
	ManeuverContinue
	ManeuverNewName
	ManeuverMerge
	ManeuverOnRamp
	ManeuverOffRamp
	ManeuverFork
	ManeuverEndOfRoad
	ManeuverUseLane
	ManeuverRoundabout
	ManeuverRotary
	ManeuverRoundaboutTurn
	ManeuverExitRoundabout
	ManeuverExitRotary
	ManeuverNotification
)

var maneuverTypeNames = map[ManeuverType]string{
	ManeuverUnknown:        "unknown",
	ManeuverDepart:         "depart",
	ManeuverArrive:         "arrive",
	ManeuverTurn:           "turn",
	ManeuverContinue:       "continue",
	ManeuverNewName:        "new name",
	ManeuverMerge:          "merge",
	ManeuverOnRamp:         "on ramp",
	ManeuverOffRamp:        "off ramp",
	ManeuverFork:           "fork",
	ManeuverEndOfRoad:      "end of road",
	ManeuverUseLane:        "use lane",
	ManeuverRoundabout:     "roundabout",
	ManeuverRotary:         "rotary",
	ManeuverRoundaboutTurn: "roundabout turn",
	ManeuverExitRoundabout: "exit roundabout",
	ManeuverExitRotary:     "exit rotary",
	ManeuverNotification:   "notification",
}

var maneuverTypesByName = invert(maneuverTypeNames)

// ParseManeuverType maps provider vocabulary onto ManeuverType.
// Unmapped values return ManeuverUnknown.
func ParseManeuverType(s string) ManeuverType {
	if t, ok := maneuverTypesByName[normalizeTag(s)]; ok {
		return t
	}
	return ManeuverUnknown
}

func (t ManeuverType) String() string {
	if name, ok := maneuverTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the maneuver type using the provider vocabulary.
func (t ManeuverType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes provider vocabulary, falling back to ManeuverUnknown.
func (t *ManeuverType) UnmarshalText(text []byte) error {
	*t = ParseManeuverType(string(text))
	return nil
}

// ManeuverModifier refines a maneuver with a direction.
type ManeuverModifier int

const (
	ModifierNone ManeuverModifier = iota
	ModifierUnknown
	ModifierUturn
	ModifierSharpRight
	ModifierRight
	ModifierSlightRight
	ModifierStraight
	ModifierSlightLeft
	ModifierLeft
	ModifierSharpLeft
)

var modifierNames = map[ManeuverModifier]string{
	ModifierNone:        "",
	ModifierUnknown:     "unknown",
	ModifierUturn:       "uturn",
	ModifierSharpRight:  "sharp right",
	ModifierRight:       "right",
	ModifierSlightRight: "slight right",
	ModifierStraight:    "straight",
	ModifierSlightLeft:  "slight left",
	ModifierLeft:        "left",
	ModifierSharpLeft:   "sharp left",
}

var modifiersByName = invert(modifierNames)

// ParseManeuverModifier maps provider vocabulary onto ManeuverModifier.
// An empty string is ModifierNone, unmapped values are ModifierUnknown.
func ParseManeuverModifier(s string) ManeuverModifier {
	if m, ok := modifiersByName[normalizeTag(s)]; ok {
		return m
	}
	return ModifierUnknown
}

func (m ManeuverModifier) String() string {
	return modifierNames[m]
}

// MarshalText encodes the modifier using the provider vocabulary.
func (m ManeuverModifier) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes provider vocabulary.
func (m *ManeuverModifier) UnmarshalText(text []byte) error {
	*m = ParseManeuverModifier(string(text))
	return nil
}

// Maneuver pairs a maneuver type with its optional modifier.
type Maneuver struct {
	Type     ManeuverType     `json:"type"`
	Modifier ManeuverModifier `json:"modifier,omitempty"`
}

// Icon returns the display icon key for the maneuver.
func (m Maneuver) Icon() string {
	switch m.Type {
	case ManeuverDepart:
		return "depart"
	case ManeuverArrive:
		return "arrive"
	case ManeuverRoundabout, ManeuverRotary, ManeuverRoundaboutTurn,
		ManeuverExitRoundabout, ManeuverExitRotary:
		return "roundabout"
	case ManeuverUnknown, ManeuverNotification:
		return "straight"
	}

	switch m.Modifier {
	case ModifierUturn:
		return "uturn"
	case ModifierSharpRight:
		return "sharp-right"
	case ModifierRight:
		return "turn-right"
	case ModifierSlightRight:
		return "slight-right"
	case ModifierSlightLeft:
		return "slight-left"
	case ModifierLeft:
		return "turn-left"
	case ModifierSharpLeft:
		return "sharp-left"
	default:
		return "straight"
	}
}

func normalizeTag(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("_", " ", "-", " ").Replace(s)
}

func invert[K comparable](m map[K]string) map[string]K {
	out := make(map[string]K, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}
