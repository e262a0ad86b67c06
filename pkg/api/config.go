package api

import (
	"os"
	"time"
)

// Environment variables carrying the ingress API key. The canonical name is
// preferred; the legacy one is honoured for older deployments.
const (
	EnvAPIKey       = "ENGINE_API_KEY"
	EnvAPIKeyLegacy = "WORKFLOW_ENGINE_API_KEY"
)

// APIConfig configures the engine ingress HTTP server.
//
// When Enabled is false, no API server is started.
type APIConfig struct {
	// Enabled controls whether the API server is started.
	// Default: true
	// Use a pointer to distinguish "not set" from "explicitly false"
	Enabled *bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the ingress endpoints.
	// Default: 8080
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// APIKey authenticates ingress requests via the X-Engine-Api-Key header.
	// An empty key disables authentication. The ENGINE_API_KEY and legacy
	// WORKFLOW_ENGINE_API_KEY environment variables override this value.
	APIKey string `mapstructure:"api_key" yaml:"api_key"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body. A zero or negative value means there is no timeout.
	// Default: 10s
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response.
	// A zero or negative value means there is no timeout.
	// Default: 10s
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled. If zero, the value of ReadTimeout is used.
	// Default: 60s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// IsEnabled returns whether the API server is enabled.
// Defaults to true if not explicitly set.
func (c *APIConfig) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// GetAPIKey returns the effective ingress API key, preferring the environment
// over the configured value.
func (c *APIConfig) GetAPIKey() string {
	if key := os.Getenv(EnvAPIKey); key != "" {
		return key
	}
	if key := os.Getenv(EnvAPIKeyLegacy); key != "" {
		return key
	}
	return c.APIKey
}

// applyDefaults fills in zero values with sensible defaults.
func (c *APIConfig) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
}
