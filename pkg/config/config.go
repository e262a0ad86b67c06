// Package config loads the engine configuration from file, environment and
// defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/statorq/statorq/pkg/api"
	"github.com/statorq/statorq/pkg/models"
	"github.com/statorq/statorq/pkg/notify"
	"github.com/statorq/statorq/pkg/store"
	"github.com/statorq/statorq/pkg/torque"
)

// Environment variables honoured outside the STATORQ_* viper mapping. Each
// canonical name has a legacy alias kept for older deployments.
const (
	EnvEngineURL         = "ENGINE_URL"
	EnvEngineURLLegacy   = "WORKFLOW_ENGINE_URL"
	EnvTorqueURL         = "TORQUE_URL"
	EnvTorqueAPIKey      = "TORQUE_API_KEY"
	EnvWebhooksURL       = "WEBHOOKS_URL"
	EnvWebhooksURLLegacy = "FABBED_HOOKS_URL"
	EnvWebhooksKey       = "WEBHOOKS_API_KEY"
	EnvWebhooksKeyLegacy = "FABBED_HOOKS_API_KEY"
	EnvDatabaseURL       = "DATABASE_URL"
)

// Config represents the statorq configuration.
//
// This structure captures the static configuration of the engine:
//   - Logging configuration
//   - Telemetry/tracing configuration
//   - Server settings (ingress API, metrics, shutdown timeout)
//   - Database connection
//   - Outbound endpoints (engine loopback, task queue, webhooks)
//   - Notification delivery endpoints
//
// Workflow configuration (resource types, rules, subscriptions, bindings) is
// code, declared through the engine builder at start-up.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (STATORQ_* plus the named overrides)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Database configures the engine database (SQLite or PostgreSQL).
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Metrics contains Prometheus metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Server contains the ingress API server configuration
	Server api.APIConfig `mapstructure:"server" yaml:"server"`

	// Engine configures the engine's view of itself: the loopback URL its
	// notices are posted to and the default work status.
	Engine EngineConfig `mapstructure:"engine" yaml:"engine"`

	// Torque configures the nTorque task queue and the outbox shipper.
	Torque TorqueConfig `mapstructure:"torque" yaml:"torque"`

	// Webhooks configures the downstream webhook receiver.
	Webhooks WebhooksConfig `mapstructure:"webhooks" yaml:"webhooks"`

	// Notifications configures per-channel delivery endpoints.
	Notifications NotificationsConfig `mapstructure:"notifications" yaml:"notifications"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, trace data is exported to an OTLP-compatible collector
// (e.g., Jaeger, Tempo, or any OTLP receiver).
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	// Default: true (for local development)
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
// When enabled, CPU and memory profiles are continuously sent to a Pyroscope
// server for flame graph visualization and performance analysis.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false (opt-in for profiling)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040" (standard Pyroscope port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures Prometheus metrics collection.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// EngineConfig is the engine's view of itself.
type EngineConfig struct {
	// URL is the base URL the engine's own notices are posted back to,
	// normally this service's public address.
	// Override: ENGINE_URL (primary), WORKFLOW_ENGINE_URL (compat)
	URL string `mapstructure:"url" yaml:"url"`

	// DefaultState is the work status of resources without history.
	// Override: ENGINE_DEFAULT_STATE
	// Default: "state:CREATED"
	DefaultState string `mapstructure:"default_state" yaml:"default_state"`
}

// GetURL returns the effective engine loopback URL, preferring the
// environment over the configured value.
func (c *EngineConfig) GetURL() string {
	if url := os.Getenv(EnvEngineURL); url != "" {
		return url
	}
	if url := os.Getenv(EnvEngineURLLegacy); url != "" {
		return url
	}
	return c.URL
}

// GetDefaultState returns the effective default work status.
func (c *EngineConfig) GetDefaultState() string {
	if state := os.Getenv(models.EnvDefaultState); state != "" {
		return state
	}
	if c.DefaultState != "" {
		return c.DefaultState
	}
	return models.FallbackDefaultState
}

// TorqueConfig configures the nTorque task queue and the outbox shipper
// feeding it.
type TorqueConfig struct {
	// URL is the task queue base URL.
	// Override: TORQUE_URL
	URL string `mapstructure:"url" yaml:"url"`

	// APIKey is sent as the Authorization header on queue calls.
	// Override: TORQUE_API_KEY
	APIKey string `mapstructure:"api_key" yaml:"api_key"`

	// ShipInterval is the outbox shipper poll interval.
	// Default: 1s
	ShipInterval time.Duration `mapstructure:"ship_interval" yaml:"ship_interval"`

	// ShipBatchSize caps the tasks shipped per pass.
	// Default: 100
	ShipBatchSize int `mapstructure:"ship_batch_size" yaml:"ship_batch_size"`

	// MaxBackoff caps the retry backoff of failing tasks.
	// Default: 5m
	MaxBackoff time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
}

// GetURL returns the effective queue URL, preferring the environment.
func (c *TorqueConfig) GetURL() string {
	if url := os.Getenv(EnvTorqueURL); url != "" {
		return url
	}
	return c.URL
}

// GetAPIKey returns the effective queue API key, preferring the environment.
func (c *TorqueConfig) GetAPIKey() string {
	if key := os.Getenv(EnvTorqueAPIKey); key != "" {
		return key
	}
	return c.APIKey
}

// ShipperConfig converts to the shipper's own configuration type.
func (c *TorqueConfig) ShipperConfig() torque.ShipperConfig {
	cfg := torque.DefaultShipperConfig()
	if c.ShipInterval > 0 {
		cfg.Interval = c.ShipInterval
	}
	if c.ShipBatchSize > 0 {
		cfg.BatchSize = c.ShipBatchSize
	}
	if c.MaxBackoff > 0 {
		cfg.MaxBackoff = c.MaxBackoff
	}
	return cfg
}

// WebhooksConfig configures the downstream webhook receiver that turns engine
// events into user-facing side effects.
type WebhooksConfig struct {
	// URL is the receiver's base URL.
	// Override: WEBHOOKS_URL (primary), FABBED_HOOKS_URL (compat)
	URL string `mapstructure:"url" yaml:"url"`

	// APIKey is sent as the X-Webhooks-Api-Key header.
	// Override: WEBHOOKS_API_KEY (primary), FABBED_HOOKS_API_KEY (compat)
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
}

// GetURL returns the effective receiver URL, preferring the environment.
func (c *WebhooksConfig) GetURL() string {
	if url := os.Getenv(EnvWebhooksURL); url != "" {
		return url
	}
	if url := os.Getenv(EnvWebhooksURLLegacy); url != "" {
		return url
	}
	return c.URL
}

// GetAPIKey returns the effective receiver API key, preferring the environment.
func (c *WebhooksConfig) GetAPIKey() string {
	if key := os.Getenv(EnvWebhooksKey); key != "" {
		return key
	}
	if key := os.Getenv(EnvWebhooksKeyLegacy); key != "" {
		return key
	}
	return c.APIKey
}

// NotificationsConfig configures notification delivery.
type NotificationsConfig struct {
	// Endpoints maps channel names ("email", "sms") to their delivery URLs.
	Endpoints map[string]notify.Endpoints `mapstructure:"endpoints" yaml:"endpoints"`

	// Delay is added to every dispatch due time, giving receivers a window
	// to coalesce bursts.
	// Default: 0
	Delay time.Duration `mapstructure:"delay" yaml:"delay"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (STATORQ_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Configure viper
	setupViper(v, configPath)

	// Read configuration file if it exists
	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// If no config file was found, use defaults
	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	// Unmarshal into config struct with custom decode hooks
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  statorq init\n\n"+
				"Or specify a custom config file:\n"+
				"  statorq <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  statorq init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path.
// The configuration is saved in YAML format using proper yaml tags.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Use yaml.Marshal directly to respect yaml tags
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Config files may contain API keys; keep them owner-only.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use STATORQ_ prefix and underscores
	// Example: STATORQ_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("STATORQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Use default location: $XDG_CONFIG_HOME/statorq/config.yaml
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return false, nil
		}
		// Also check for os.PathError when explicit config file doesn't exist
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "statorq")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "statorq")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
