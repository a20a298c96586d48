package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/streamkit/eventwrap/wrapper"
	"github.com/streamkit/eventwrap/wrapperconfig"
)

// NewInspectCmd creates the "inspect" subcommand.
func NewInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the current sequence, state, and quarantine of a ledger",
		RunE:  runInspect,
	}

	cmd.Flags().String("dsn", "", "SQLite DSN for the event stream and snapshot cache")
	cmd.Flags().String("config", "", "Path to eventwrap.yaml config")
	cmd.Flags().Bool("watch", false, "Keep the process running and print state on every catch-up")

	return cmd
}

func runInspect(cmd *cobra.Command, _ []string) error {
	explicitConfigPath, _ := cmd.Flags().GetString("config")
	dsn, _ := cmd.Flags().GetString("dsn")
	watch, _ := cmd.Flags().GetBool("watch")

	cfg, err := wrapperconfig.Load(explicitConfigPath)
	if err != nil {
		return exitError(exitValidation, "loading config: %v", err)
	}
	if dsn != "" {
		cfg.DriverDSN = dsn
	}

	logger := slog.Default()
	w, closeFn, err := openLedgerWrapper(cfg, logger)
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

	printLedgerState(cmd, w)

	if !watch {
		return nil
	}

	sub := w.Subscribe()
	defer func() {
		_ = sub.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if ev.Kind == wrapper.EventCatchUpCompleted {
				printLedgerState(cmd, w)
			}
		}
	}
}

func printLedgerState(cmd *cobra.Command, w *ledgerWrapper) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "sequence:               %d\n", w.Sequence())
	fmt.Fprintf(out, "balance:                %d\n", w.Current())
	fmt.Fprintf(out, "possibly_inconsistent:  %v\n", w.PossiblyInconsistent())

	entries := w.Quarantine().Entries()
	fmt.Fprintf(out, "quarantined_events:     %d\n", len(entries))
	for _, entry := range entries {
		fmt.Fprintf(out, "  id=%s seq=%d err=%v\n", entry.ID, entry.Seq, entry.Err)
	}
}
