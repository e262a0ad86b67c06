package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/statorq/statorq/internal/logger"
	"github.com/statorq/statorq/internal/telemetry"
	"github.com/statorq/statorq/pkg/api"
	"github.com/statorq/statorq/pkg/api/handlers"
	"github.com/statorq/statorq/pkg/config"
	"github.com/statorq/statorq/pkg/engine"
	"github.com/statorq/statorq/pkg/metrics"
	"github.com/statorq/statorq/pkg/models"
	"github.com/statorq/statorq/pkg/notify"
	"github.com/statorq/statorq/pkg/store"
	"github.com/statorq/statorq/pkg/torque"
)

// Env carries the runtime services a Wiring function can draw on when
// assembling its engine definition.
type Env struct {
	Store         *store.GORMStore
	Executor      *notify.Executor
	NotifyMetrics *metrics.NotificationMetrics

	// Delay is the configured notification coalescing delay, for
	// notify.Bind registrations.
	Delay time.Duration
}

// Wiring populates the builder with the resource types, transition rules,
// subscriptions and bindings the server hosts. Embedding binaries call
// SetWiring before Execute; the stock binary starts with an empty definition
// and answers 404 for every resource type.
type Wiring func(b *engine.Builder, env *Env) error

var wiring Wiring = func(*engine.Builder, *Env) error { return nil }

// SetWiring replaces the engine definition hook.
func SetWiring(w Wiring) {
	if w != nil {
		wiring = w
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the statorq server",
	Long: `Start the statorq server with the specified configuration.

The server runs the HTTP ingress, the outbox shipper and the periodic
notification executor until interrupted.

Examples:
  # Start with default config location
  statorq serve

  # Start with custom config file
  statorq serve --config /etc/statorq/config.yaml

  # Override config via environment
  STATORQ_LOGGING_LEVEL=DEBUG statorq serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	models.SetDefaultState(cfg.Engine.GetDefaultState())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "statorq",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "statorq",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	}

	// Metrics first, so collectors created below register against the live
	// registry.
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics enabled", "path", "/metrics")
	} else {
		logger.Info("Metrics collection disabled")
	}
	engineMetrics := metrics.NewEngineMetrics()
	outboxMetrics := metrics.NewOutboxMetrics()
	notifyMetrics := metrics.NewNotificationMetrics()

	db, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Store ready", "type", cfg.Database.Type)

	executor := notify.NewExecutor(db, torque.NewDirectDispatcher(),
		cfg.Notifications.Endpoints, cfg.Webhooks.GetAPIKey(), notifyMetrics)

	builder := engine.NewBuilder().WithMetrics(engineMetrics)
	env := &Env{
		Store:         db,
		Executor:      executor,
		NotifyMetrics: notifyMetrics,
		Delay:         cfg.Notifications.Delay,
	}
	if err := wiring(builder, env); err != nil {
		return fmt.Errorf("engine wiring failed: %w", err)
	}
	eng, err := builder.Build()
	if err != nil {
		return fmt.Errorf("engine definition invalid: %w", err)
	}

	changer := engine.NewStateChanger(eng, db, cfg.Engine.GetURL(), cfg.Server.GetAPIKey(), engineMetrics).
		WithOutboxMetrics(outboxMetrics)

	if cfg.Torque.GetURL() != "" {
		queue := torque.NewQueueClient(cfg.Torque.GetURL(), cfg.Torque.GetAPIKey())
		shipper := torque.NewShipper(db, queue, cfg.Torque.ShipperConfig(), outboxMetrics)
		shipper.Start(ctx)
		defer shipper.Stop(cfg.ShutdownTimeout)
	} else {
		logger.Warn("No task queue configured, outbox tasks will accumulate unshipped")
	}

	apiServer := api.NewServer(cfg.Server, handlers.Deps{
		Store:         db,
		Engine:        eng,
		Changer:       changer,
		Executor:      executor,
		OutboxMetrics: outboxMetrics,
		Clients: handlers.ClientConfig{
			EngineURL:      cfg.Engine.GetURL(),
			EngineAPIKey:   cfg.Server.GetAPIKey(),
			WebhooksURL:    cfg.Webhooks.GetURL(),
			WebhooksAPIKey: cfg.Webhooks.GetAPIKey(),
		},
	})

	watchConfig(ctx, GetConfigFile())

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiServer.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}

// watchConfig reloads the log level when the config file changes. Other
// settings require a restart.
func watchConfig(ctx context.Context, configFile string) {
	path := configFile
	if path == "" {
		if !config.DefaultConfigExists() {
			return
		}
		path = config.GetDefaultConfigPath()
	}

	go func() {
		err := config.Watch(ctx, path, func(next *config.Config) {
			logger.SetLevel(next.Logging.Level)
			logger.Info("Configuration reloaded", "level", next.Logging.Level)
		})
		if err != nil {
			logger.Warn("Config watcher stopped", "error", err)
		}
	}()
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
