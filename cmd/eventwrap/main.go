package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/streamkit/eventwrap/cli"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "eventwrap",
	Short: "Stream Wrapper operator CLI",
	Long:  "eventwrap — inspect, snapshot, and serve an embedded event-sourced ledger.",
	// SilenceUsage prevents printing usage on every error
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "", false, "Verbose/debug logging flag (no subcommand reads it; logging is unchanged)")
	rootCmd.PersistentFlags().BoolP("quiet", "", false, "Quiet flag (no subcommand reads it; output is unchanged)")

	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("eventwrap version %s\n", version))

	rootCmd.AddCommand(cli.NewInspectCmd())
	rootCmd.AddCommand(cli.NewSnapshotCmd())
	rootCmd.AddCommand(cli.NewServeCmd())
}
