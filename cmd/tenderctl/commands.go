package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/licitaciones/platform/pkg/common/models"
)

var (
	historicalSince string
	runsSource      string
	runsLimit       int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show every source with its schedule, last run and next eligible time",
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := application.Service.Status(cmdCtx)
		if err != nil {
			return err
		}
		counts, err := application.Tenders.CountBySource(cmdCtx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]interface{}{"sources": rows, "stored": counts})
		}
		fmt.Print(renderStatus(rows, counts, application.Schedule.Now()))
		return nil
	},
}

var eligibleCmd = &cobra.Command{
	Use:   "eligible",
	Short: "List the sources the schedule owes a run right now",
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, err := application.Service.Eligible(cmdCtx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(jobs)
		}
		fmt.Print(renderJobs(jobs))
		return nil
	},
}

var incrementalCmd = &cobra.Command{
	Use:   "incremental [source]",
	Short: "Ingest new artifacts of one source, or of every enabled source",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source := ""
		if len(args) == 1 {
			source = args[0]
		}
		results, err := application.Service.Incremental(cmdCtx, source)
		if err != nil {
			return err
		}
		return reportResults(results)
	},
}

var historicalCmd = &cobra.Command{
	Use:     "historical <source>",
	Short:   "Backfill a source from a date, resuming an interrupted backfill",
	Example: `  tenderctl historical DOF --since 2025-01-01`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := application.Service.Historical(cmdCtx, args[0], historicalSince)
		if err != nil {
			return err
		}
		return reportResults([]models.RunResult{result})
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch <profile>",
	Short: "Run every source of a profile",
	Long: `Run every source of a profile in the mode the profile declares.
The special profile "all" runs every enabled source in its policy mode.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		results, err := application.Service.Batch(cmdCtx, args[0])
		if err != nil {
			return fmt.Errorf("%w (profiles: %v)", err, application.Schedule.ProfileNames())
		}
		return reportResults(results)
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, err := application.Service.History(cmdCtx, runsSource, runsLimit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(runs)
		}
		fmt.Print(renderHistory(runs))
		return nil
	},
}

func init() {
	historicalCmd.Flags().StringVar(&historicalSince, "since", "", "first publication date to include (YYYY-MM-DD)")
	historicalCmd.MarkFlagRequired("since")

	runsCmd.Flags().StringVarP(&runsSource, "source", "s", "", "only runs of this source")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "max runs")
}

func reportResults(results []models.RunResult) error {
	if jsonOutput {
		if err := printJSON(results); err != nil {
			return err
		}
	} else {
		fmt.Print(renderResults(results))
	}
	for _, r := range results {
		if r.Outcome == models.OutcomeFailed {
			return fmt.Errorf("%s failed: %s", r.Source, r.Error)
		}
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
