package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/campusmap/navcore/server/internal/config"
	"github.com/campusmap/navcore/server/internal/lib/route"
)

// DefaultBaseURL is used when the configuration leaves base_url empty
const DefaultBaseURL = "https://routes.googleapis.com"

// fieldMask selects the response fields the normalizer reads. The API
// rejects requests without one.
const fieldMask = "routes.distanceMeters,routes.duration,routes.polyline.encodedPolyline," +
	"routes.legs.distanceMeters,routes.legs.duration," +
	"routes.legs.steps.distanceMeters,routes.legs.steps.staticDuration,routes.legs.steps.navigationInstruction"

// HTTPDoer is the subset of *http.Client used by Client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client provides access to Google Routes API v2 as a route.Provider
type Client struct {
	apiKey     string
	httpClient HTTPDoer
	baseURL    string
}

var travelModes = map[route.TravelMode]string{
	route.Walking: "WALK",
	route.Cycling: "BICYCLE",
	route.Driving: "DRIVE",
}

// NewClient creates a new Google Routes API client
func NewClient(cfg config.DirectionsConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// NewClientWithHTTPDoer creates a client with a custom HTTP implementation, for tests
func NewClientWithHTTPDoer(apiKey, baseURL string, doer HTTPDoer) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: doer,
	}
}

// FetchRoute computes a route through every request point in one call
func (c *Client) FetchRoute(ctx context.Context, req route.Request) (*route.Route, error) {
	ctx = logging.EnsureLogger(ctx)
	if err := route.ValidateRequest(req); err != nil {
		return nil, err
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: routing API key is not configured", route.ErrProviderUnavailable)
	}

	response, err := c.computeRoutes(ctx, req)
	if err != nil {
		return nil, err
	}
	return Normalize(response, req)
}

func (c *Client) computeRoutes(ctx context.Context, req route.Request) (*RoutesResponse, error) {
	body := ComputeRoutesRequest{
		Origin:           waypointFor(req.Points[0]),
		Destination:      waypointFor(req.Points[len(req.Points)-1]),
		TravelMode:       travelModes[req.Mode],
		PolylineEncoding: "ENCODED_POLYLINE",
		Units:            "METRIC",
	}
	for _, p := range req.Points[1 : len(req.Points)-1] {
		body.Intermediates = append(body.Intermediates, waypointFor(p))
	}
	// Alternatives are only offered without intermediates
	if req.SinglePreference && len(body.Intermediates) == 0 {
		body.ComputeAlternativeRoutes = true
	}
	if req.Mode == route.Driving {
		body.RoutingPreference = "TRAFFIC_AWARE"
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/directions/v2:computeRoutes", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("X-Goog-Api-Key", c.apiKey)
	httpReq.Header.Set("X-Goog-FieldMask", fieldMask)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to execute request: %w", route.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: HTTP %d", route.ErrProviderUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		var apiErr ErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Status == "NOT_FOUND" {
			return nil, fmt.Errorf("%w: %s", route.ErrNoRouteFound, apiErr.Error.Message)
		}
		logging.Warnw(ctx, "Google Routes: request rejected", "status", resp.StatusCode, "body", string(raw))
		return nil, fmt.Errorf("%w: API error %d: %s", route.ErrProviderUnavailable, resp.StatusCode, apiErr.Error.Message)
	}

	var response RoutesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %w", route.ErrProviderUnavailable, err)
	}
	if len(response.Routes) == 0 {
		return nil, fmt.Errorf("%w: no routes in response", route.ErrNoRouteFound)
	}
	return &response, nil
}

func waypointFor(p route.Waypoint) Waypoint {
	return Waypoint{Location: Location{LatLng: LatLng{
		Latitude:  p.Coordinates.Latitude,
		Longitude: p.Coordinates.Longitude,
	}}}
}
