package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/licitaciones/platform/pkg/app"
	"github.com/licitaciones/platform/pkg/common/config"
	"github.com/licitaciones/platform/pkg/common/logger"
)

var (
	verbose    bool
	jsonOutput bool

	application *app.App
	stopSignals context.CancelFunc
	cmdCtx      context.Context = context.Background()
)

var rootCmd = &cobra.Command{
	Use:   "tenderctl",
	Short: "Operate the tender ingestion pipeline",
	Long: `tenderctl runs the ingestion commands in-process against the configured
store: inspect source status, trigger incremental, historical or batch runs.

Configuration is read from the same environment variables as the service.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}
		logger.InitCLI(verbose)

		// Ctrl-C interrupts a run at the next artifact boundary.
		cmdCtx, stopSignals = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

		var err error
		application, err = app.Build(cmdCtx, config.Load())
		if err != nil {
			return fmt.Errorf("initialise: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if application != nil {
			application.Close()
		}
		if stopSignals != nil {
			stopSignals()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging on stderr")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of tables")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(eligibleCmd)
	rootCmd.AddCommand(incrementalCmd)
	rootCmd.AddCommand(historicalCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(runsCmd)
}
