package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MehulG/agent-ctrl/pkg/approvals"
	"github.com/MehulG/agent-ctrl/pkg/audit"
	"github.com/MehulG/agent-ctrl/pkg/config"
	"github.com/MehulG/agent-ctrl/pkg/telemetry/logging"
	"github.com/MehulG/agent-ctrl/pkg/telemetry/metrics"
	"github.com/MehulG/agent-ctrl/pkg/tools"
)

var runFlags struct {
	listen        string
	retentionDays int
	pruneSchedule string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the approvals server",
	Long: `Run the operator-facing approvals server: list pending requests,
inspect request state, and approve or deny. Approving executes the tool
against the configured remote server after the approval is committed.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runFlags.listen, "listen", "", "listen address (default from CTRL_LISTEN_ADDRESS or :8788)")
	runCmd.Flags().IntVar(&runFlags.retentionDays, "retention-days", 90, "days to keep journal events for finished requests (0 disables pruning)")
	runCmd.Flags().StringVar(&runFlags.pruneSchedule, "prune-schedule", "0 3 * * *", "cron schedule for journal pruning")
}

func runServer(cmd *cobra.Command, args []string) error {
	settings := resolveSettings()
	if runFlags.listen != "" {
		settings.ListenAddress = runFlags.listen
	}

	logger, err := logging.New(logging.Config{Level: settings.LogLevel, Format: settings.LogFormat})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	serversCfg, err := config.LoadServers(settings.ServersPath)
	if err != nil {
		return err
	}

	// The policy file is validated at startup even though the approvals
	// server does not evaluate it: a broken config is a deployment
	// mistake worth failing fast on.
	if _, err := config.LoadPolicy(settings.PolicyPath); err != nil {
		return err
	}

	sqliteCfg := audit.DefaultSQLiteConfig()
	sqliteCfg.Path = settings.DBPath
	store, err := audit.NewSQLiteStore(sqliteCfg)
	if err != nil {
		return err
	}
	defer store.Close()

	invoker := tools.NewHTTPInvoker(serversCfg.Endpoints(), settings.ToolTimeout, logger)
	collector := metrics.NewCollector(nil)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	pruner := audit.NewPruner(store, &audit.RetentionConfig{
		RetentionDays: runFlags.retentionDays,
		Schedule:      runFlags.pruneSchedule,
	}, logger)
	if err := pruner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start retention pruning: %w", err)
	}
	defer pruner.Stop()

	serverCfg := approvals.DefaultServerConfig()
	serverCfg.ListenAddress = settings.ListenAddress
	server := approvals.NewServer(serverCfg, store, invoker, collector, logger)
	return server.Start(ctx)
}
