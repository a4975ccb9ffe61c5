package config

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/v2"
)

// RootKey is the configuration section holding all navigation settings
const RootKey = "navigation"

// Config represents the complete navigation server configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Directions DirectionsConfig `yaml:"directions"`
	Tracking   TrackingConfig   `yaml:"tracking"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	Events     EventsConfig     `yaml:"events"`
	Briefing   BriefingConfig   `yaml:"briefing"`
}

// ServerConfig holds server-specific settings
type ServerConfig struct {
	CorsOrigins []string `yaml:"cors_origins"`
}

// DirectionsConfig holds routing provider settings
type DirectionsConfig struct {
	// Provider is "mapbox" or "google"
	Provider string        `yaml:"provider"`
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"` // empty uses the provider's public endpoint
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// Geometry is "geojson", "polyline" or "polyline6"
	Geometry string `yaml:"geometry"`
}

// TrackingConfig holds progress matching settings
type TrackingConfig struct {
	OffRouteThresholdMeters float64 `yaml:"off_route_threshold_meters"`
	SnapToSegments          bool    `yaml:"snap_to_segments"`
	DefaultAccuracyMeters   float64 `yaml:"default_accuracy_meters"`
}

// SessionsConfig controls idle session reaping
type SessionsConfig struct {
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	ReapInterval time.Duration `yaml:"reap_interval"`
}

// EventsConfig holds the AMQP publisher settings. An empty URL disables publishing.
type EventsConfig struct {
	AMQPURL  string `yaml:"amqp_url"`
	Exchange string `yaml:"exchange"`
}

// BriefingConfig holds trip briefing settings. Without a key a deterministic summary is used.
type BriefingConfig struct {
	OpenAIAPIKey string        `yaml:"openai_api_key"`
	Model        string        `yaml:"model"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			CorsOrigins: []string{"*"},
		},
		Directions: DirectionsConfig{
			Provider: "mapbox",
			Timeout:  30 * time.Second,
			CacheTTL: 10 * time.Minute,
			Geometry: "geojson",
		},
		Tracking: TrackingConfig{
			OffRouteThresholdMeters: 50,
			DefaultAccuracyMeters:   10,
		},
		Sessions: SessionsConfig{
			IdleTimeout:  30 * time.Minute,
			ReapInterval: time.Minute,
		},
		Events: EventsConfig{
			Exchange: "navigation",
		},
		Briefing: BriefingConfig{
			Model:    "gpt-4o-mini",
			CacheTTL: 24 * time.Hour,
		},
	}
}

// Load overlays the navigation section of k onto the defaults.
// Keys missing from k keep their default values.
func Load(k *koanf.Koanf) (*Config, error) {
	cfg := DefaultConfig()
	if k == nil {
		return cfg, nil
	}
	if err := k.UnmarshalWithConf(RootKey, cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s section: %w", RootKey, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that would break the navigation core at runtime
func (c *Config) Validate() error {
	switch c.Directions.Provider {
	case "mapbox", "google":
	default:
		return fmt.Errorf("invalid directions.provider %q", c.Directions.Provider)
	}
	switch c.Directions.Geometry {
	case "geojson", "polyline", "polyline6":
	default:
		return fmt.Errorf("invalid directions.geometry %q", c.Directions.Geometry)
	}
	if c.Tracking.OffRouteThresholdMeters <= 0 {
		return fmt.Errorf("tracking.off_route_threshold_meters must be positive")
	}
	if c.Directions.CacheTTL <= 0 {
		return fmt.Errorf("directions.cache_ttl must be positive")
	}
	if c.Sessions.IdleTimeout <= 0 || c.Sessions.ReapInterval <= 0 {
		return fmt.Errorf("sessions.idle_timeout and sessions.reap_interval must be positive")
	}
	return nil
}
