package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/streamkit/eventwrap/obs"
	"github.com/streamkit/eventwrap/wrapperconfig"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Catch up once, then run a periodic-snapshot daemon",
		RunE:  runServe,
	}

	cmd.Flags().String("dsn", "", "SQLite DSN for the event stream and snapshot cache")
	cmd.Flags().String("config", "", "Path to eventwrap.yaml config")
	cmd.Flags().String("snapshot-cron", "", "Cron expression for periodic snapshot saves (default from config)")
	cmd.Flags().Uint64("events-between-saves", 0, "Trigger a save/load cycle after this many catch-up-applied events (0 = use config)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	explicitConfigPath, _ := cmd.Flags().GetString("config")
	dsn, _ := cmd.Flags().GetString("dsn")
	snapshotCron, _ := cmd.Flags().GetString("snapshot-cron")
	eventsBetweenSaves, _ := cmd.Flags().GetUint64("events-between-saves")

	cfg, err := wrapperconfig.Load(explicitConfigPath)
	if err != nil {
		return exitError(exitValidation, "loading config: %v", err)
	}
	if dsn != "" {
		cfg.DriverDSN = dsn
	}
	if snapshotCron != "" {
		cfg.SnapshotCron = snapshotCron
	}
	if eventsBetweenSaves > 0 {
		cfg.EventsBetweenCacheSaves = eventsBetweenSaves
	}

	logger := slog.Default()

	w, closeFn, err := openLedgerWrapper(cfg, logger)
	if err != nil {
		return exitError(exitRuntime, "opening ledger: %v", err)
	}
	defer func() {
		_ = closeFn()
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obsProviders, err := obs.Setup(ctx, cfg.ObsConfig())
	if err != nil {
		return exitError(exitRuntime, "setting up observability: %v", err)
	}
	defer func() {
		_ = obsProviders.Shutdown(context.Background())
	}()
	if cfg.ObservabilityEnabled && cfg.ObservabilityEndpoint != "" {
		obs.Attach(w.Subscribe(), obs.NewTracingHandler(obsProviders.Tracer.Tracer("eventwrap")))
		if metricsHandler, err := obs.NewMetricsHandler(obsProviders.Meter.Meter("eventwrap")); err == nil {
			obs.Attach(w.Subscribe(), metricsHandler)
		} else {
			logger.Warn("serve: metrics handler unavailable", "err", err)
		}
	}

	if err := w.Initialize(ctx); err != nil {
		if isCancelled(err) {
			return nil
		}
		return exitError(exitRuntime, "initializing: %v", err)
	}

	scheduler := cron.New()
	saveErrCh := make(chan error, 1)
	if _, err := scheduler.AddFunc(cfg.SnapshotCron, func() {
		if _, err := w.TrySave(ctx); err != nil {
			select {
			case saveErrCh <- err:
			default:
			}
		}
	}); err != nil {
		return exitError(exitValidation, "invalid snapshot cron expression %q: %v", cfg.SnapshotCron, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	fmt.Fprintf(cmd.OutOrStdout(), "eventwrap serve: dsn=%s snapshot_cron=%q\n", cfg.DriverDSN, cfg.SnapshotCron)

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "shutting down...")
		return nil
	case err := <-saveErrCh:
		return exitError(exitRuntime, "background snapshot save failed: %v", err)
	}
}
