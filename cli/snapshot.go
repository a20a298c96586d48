package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/streamkit/eventwrap/wrapperconfig"
)

// NewSnapshotCmd creates the "snapshot" subcommand.
func NewSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Catch up and force one projection snapshot save (the snapshot is not reloaded to verify it)",
		RunE:  runSnapshot,
	}

	cmd.Flags().String("dsn", "", "SQLite DSN for the event stream and snapshot cache")
	cmd.Flags().String("config", "", "Path to eventwrap.yaml config")

	return cmd
}

func runSnapshot(cmd *cobra.Command, _ []string) error {
	explicitConfigPath, _ := cmd.Flags().GetString("config")
	dsn, _ := cmd.Flags().GetString("dsn")

	cfg, err := wrapperconfig.Load(explicitConfigPath)
	if err != nil {
		return exitError(exitValidation, "loading config: %v", err)
	}
	if dsn != "" {
		cfg.DriverDSN = dsn
	}

	w, closeFn, err := openLedgerWrapper(cfg, slog.Default())
	if err != nil {
		return exitError(exitRuntime, "opening ledger: %v", err)
	}
	defer func() {
		_ = closeFn()
	}()

	ctx := cmd.Context()
	if err := w.Initialize(ctx); err != nil {
		if isCancelled(err) {
			return nil
		}
		return exitError(exitRuntime, "initializing: %v", err)
	}

	saved, err := w.TrySave(ctx)
	if err != nil {
		return exitError(exitRuntime, "snapshot save failed: %v", err)
	}

	out := cmd.OutOrStdout()
	if !saved {
		fmt.Fprintln(out, "snapshot skipped (a projection declined, or the cache write failed)")
		return nil
	}
	fmt.Fprintf(out, "snapshot saved at sequence %d\n", w.Sequence())
	return nil
}
