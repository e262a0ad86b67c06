package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/statorq/statorq/internal/logger"
	"github.com/statorq/statorq/pkg/config"
	"github.com/statorq/statorq/pkg/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Run database migrations against the configured database.

Applies the schema for events, work statuses, outbox tasks, notifications
and preferences (SQLite or PostgreSQL). Required after upgrading statorq
when schema changes have been made; serve also migrates on boot.

Examples:
  # Run migrations with default config
  statorq migrate

  # Run migrations with custom config
  statorq migrate --config /etc/statorq/config.yaml`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	logger.Info("Running database migrations", "type", cfg.Database.Type)

	db, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Migrate(context.Background()); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Printf("Migrations completed successfully (database type: %s)\n", cfg.Database.Type)
	return nil
}
