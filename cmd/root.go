// Package cmd defines the CLI commands for the pncp-mirror executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/licitabr/pncp-mirror/internal/app"
	"github.com/licitabr/pncp-mirror/internal/config"
)

var (
	cfgFile string
	trace   bool
)

// newApp is the application factory; a variable so tests can swap in a mock.
var newApp = func(ctx context.Context, cfg config.Config, trace bool) (*app.App, error) {
	return app.New(ctx, cfg, trace)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pncp-mirror",
		Short: "Incremental mirror of the PNCP public-procurement portal",
		Long: `pncp-mirror synchronizes procurement notices and annual planning
entries from the PNCP consultation API into Postgres, resuming from a
per-dataset checkpoint and writing idempotently so re-runs are safe.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&trace, "trace", false, "verbose per-page logging")

	cmd.AddCommand(newSyncCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
