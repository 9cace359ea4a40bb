package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/andrewh/infercheck/pkg/report"
	"github.com/andrewh/infercheck/pkg/runner"
	"github.com/andrewh/infercheck/pkg/store"
	"github.com/spf13/cobra"
)

func historyCmd() *cobra.Command {
	var (
		limit int
		runID string
	)

	cmd := &cobra.Command{
		Use:   "history <db>",
		Short: "List runs recorded with --history",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("missing history database\n\nUsage: infercheck history <db>\n\n" +
					"Runs are recorded with:\n  infercheck guardrails --history runs.db")
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return errors.New("--limit must not be negative")
			}
			if _, err := os.Stat(args[0]); errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("no history database at %s", args[0])
			}
			db, err := store.Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // read-only use

			if runID != "" {
				run, err := db.LoadRun(cmd.Context(), runID)
				if err != nil {
					return err
				}
				report.Summary(cmd.OutOrStdout(), &runner.Report{
					RunID:      run.ID,
					Workflow:   run.Workflow,
					StartedAt:  run.StartedAt,
					Elapsed:    run.Elapsed,
					Outcomes:   run.Outcomes,
					Stats:      run.Stats,
					OutputFile: run.OutputFile,
				})
				return nil
			}

			runs, err := db.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			report.History(cmd.OutOrStdout(), runs)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show (0 for all)")
	cmd.Flags().StringVar(&runID, "run", "", "show the scenarios of one run")

	return cmd
}
