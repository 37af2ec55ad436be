// Package main is riskctl, the operator command line for riskcycle.
//
// Every command wires the same container as the server against the
// configured data directory, so it must not run while the server holds
// the databases open for writing a backup or seed.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aristath/riskcycle/internal/config"
	"github.com/aristath/riskcycle/internal/di"
	"github.com/aristath/riskcycle/internal/version"
	"github.com/aristath/riskcycle/pkg/logger"
)

var (
	verbose bool
	dataDir string
)

var rootCmd = &cobra.Command{
	Use:     "riskctl",
	Short:   "Operator tooling for the riskcycle signal engine",
	Version: version.Version,
	Long: `riskctl runs the riskcycle models from the command line.

It reads the same environment and strategy file as the server: run a full
analysis, print a validation report or backtest for one ticker, reseed the
asset registry and manage offsite database backups.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override RISKCYCLE_DATA_DIR")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withContainer loads configuration, wires the container and hands it to fn.
// Logs go to stderr so command output stays pipeable.
func withContainer(cmd *cobra.Command, fn func(ctx context.Context, c *di.Container) error) error {
	if dataDir != "" {
		if err := os.Setenv("RISKCYCLE_DATA_DIR", dataDir); err != nil {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	log := logger.New(logger.Config{Level: level, Pretty: true, Output: os.Stderr})
	logger.SetGlobalLogger(log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := di.Wire(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer container.Close()

	return fn(ctx, container)
}
