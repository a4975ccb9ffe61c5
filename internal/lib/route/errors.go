package route

import "errors"

// Error taxonomy shared by the provider adapter, sessions and tracker.
// Wrap with fmt.Errorf("...: %w", ErrX) and compare with errors.Is.
var (
	// ErrInvalidInput is a caller error, rejected before any network call
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoRouteFound means the provider could not connect the points for the mode
	ErrNoRouteFound = errors.New("no route found")

	// ErrProviderUnavailable covers network and configuration failures,
	// including missing routing credentials
	ErrProviderUnavailable = errors.New("route provider unavailable")

	// ErrPositionUnavailable means device location access was denied or lost
	ErrPositionUnavailable = errors.New("position unavailable")
)
