package directions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/campusmap/navcore/server/internal/config"
	"github.com/campusmap/navcore/server/internal/lib/route"
)

// HTTPDoer is the subset of *http.Client used by Client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client provides access to a directions API returning the standard
// routes/legs/steps JSON shape
type Client struct {
	apiKey     string
	baseURL    string
	geometry   string
	httpClient HTTPDoer
}

// DefaultBaseURL is used when the configuration leaves base_url empty
const DefaultBaseURL = "https://api.mapbox.com"

var profiles = map[route.TravelMode]string{
	route.Walking: "mapbox/walking",
	route.Cycling: "mapbox/cycling",
	route.Driving: "mapbox/driving",
}

// NewClient creates a new directions client from configuration
func NewClient(cfg config.DirectionsConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	geometry := cfg.Geometry
	if geometry == "" {
		geometry = "geojson"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:   cfg.APIKey,
		baseURL:  strings.TrimRight(baseURL, "/"),
		geometry: geometry,
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
		geometry:   "geojson",
		httpClient: doer,
	}
}

// FetchRoute requests candidate routes for the request points and normalizes
// the preferred candidate.
func (c *Client) FetchRoute(ctx context.Context, req route.Request) (*route.Route, error) {
	ctx = logging.EnsureLogger(ctx)
	if err := route.ValidateRequest(req); err != nil {
		return nil, err
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: routing API key is not configured", route.ErrProviderUnavailable)
	}

	response, err := c.fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	return Normalize(response, req, c.precision())
}

func (c *Client) fetch(ctx context.Context, req route.Request) (*DirectionsResponse, error) {
	coords := make([]string, len(req.Points))
	for i, p := range req.Points {
		coords[i] = strconv.FormatFloat(p.Coordinates.Longitude, 'f', 6, 64) + "," +
			strconv.FormatFloat(p.Coordinates.Latitude, 'f', 6, 64)
	}

	query := url.Values{}
	query.Set("steps", "true")
	query.Set("alternatives", "true")
	query.Set("geometries", c.geometry)
	query.Set("overview", "full")
	query.Set("access_token", c.apiKey)

	endpoint := fmt.Sprintf("%s/directions/v5/%s/%s?%s",
		c.baseURL, profiles[req.Mode], strings.Join(coords, ";"), query.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", route.ErrProviderUnavailable, err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to execute request: %w", route.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: rate limit exceeded", route.ErrProviderUnavailable)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: API error %d", route.ErrProviderUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", route.ErrProviderUnavailable, err)
	}

	var response DirectionsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("%w: API error %d: %s", route.ErrProviderUnavailable, resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("%w: failed to decode response: %w", route.ErrProviderUnavailable, err)
	}

	switch {
	case response.Code == "NoRoute" || response.Code == "NoSegment":
		return nil, fmt.Errorf("%w: %s", route.ErrNoRouteFound, response.Message)
	case resp.StatusCode >= 400:
		logging.Warnw(ctx, "Directions API rejected request",
			"status", resp.StatusCode, "code", response.Code, "message", response.Message)
		return nil, fmt.Errorf("%w: API error %d: %s", route.ErrProviderUnavailable, resp.StatusCode, response.Code)
	case len(response.Routes) == 0:
		return nil, fmt.Errorf("%w: no routes in response", route.ErrNoRouteFound)
	case response.Code != "" && response.Code != "Ok":
		return nil, fmt.Errorf("%w: unexpected response code %s", route.ErrProviderUnavailable, response.Code)
	}

	return &response, nil
}

func (c *Client) precision() int {
	if c.geometry == "polyline6" {
		return 6
	}
	return 5
}
