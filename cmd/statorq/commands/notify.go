package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/statorq/statorq/pkg/config"
	"github.com/statorq/statorq/pkg/metrics"
	"github.com/statorq/statorq/pkg/notify"
	"github.com/statorq/statorq/pkg/store"
	"github.com/statorq/statorq/pkg/torque"
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Run one notification delivery pass",
	Long: `Run one notification delivery pass and exit.

Finds every unsent notification dispatch whose due time has elapsed, groups
them by user and channel, and delivers them through the configured channel
endpoints. Intended to be run from cron or a systemd timer.

Examples:
  # Deliver due notifications
  statorq notify

  # With custom config
  statorq notify --config /etc/statorq/config.yaml`,
	RunE: runNotify,
}

func runNotify(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	db, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	executor := notify.NewExecutor(db, torque.NewDirectDispatcher(),
		cfg.Notifications.Endpoints, cfg.Webhooks.GetAPIKey(), metrics.NewNotificationMetrics())

	report, err := executor.Run(context.Background())
	if err != nil {
		return fmt.Errorf("notification pass failed: %w", err)
	}

	fmt.Printf("Considered %d, sent %d, failed %d\n", report.Considered, report.Sent, report.Failed)
	if report.Failed > 0 {
		return fmt.Errorf("%d dispatches failed delivery", report.Failed)
	}
	return nil
}
