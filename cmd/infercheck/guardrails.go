package main

import (
	"fmt"

	"github.com/andrewh/infercheck/pkg/generate"
	"github.com/andrewh/infercheck/pkg/guard"
	"github.com/andrewh/infercheck/pkg/remote"
	"github.com/andrewh/infercheck/pkg/report"
	"github.com/andrewh/infercheck/pkg/runner"
	"github.com/spf13/cobra"
)

const defaultGuardrailsOutput = "guardrails_test_results.json"

func guardrailsCmd(a *app) *cobra.Command {
	var (
		output  string
		rule    string
		strict  bool
		history string
	)

	cmd := &cobra.Command{
		Use:   "guardrails [scenarios.yaml | URL]",
		Short: "Generate responses and classify them with the safety model",
		Long: "Generate a response for each scenario prompt and classify the exchange with the safety model.\n\n" +
			"Without a scenarios file the built-in scenarios are used. The file can be a local path or an\n" +
			"HTTP/HTTPS URL (10-second timeout, 10 MB limit). A failing scenario is recorded and the run\n" +
			"continues; use --strict to exit non-zero when any scenario fails or mismatches.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			verdictRule, err := guard.ParseRule(rule)
			if err != nil {
				return err
			}

			ctx, stop := interruptible(cmd.Context())
			defer stop()

			scenarios := runner.DefaultScenarios()
			if len(args) == 1 {
				if scenarios, err = runner.LoadScenarios(ctx, args[0]); err != nil {
					return err
				}
			}
			if err := runner.ValidateScenarios(scenarios); err != nil {
				return err
			}

			rec, done, err := a.startTelemetry(ctx, cmd, "llama-guardrails-test")
			if err != nil {
				return err
			}
			defer done()

			client := remote.NewClient(rec, a.logger)
			gen := &generate.Generator{
				Caller:   client,
				Recorder: rec,
				Logger:   a.logger,
				Gate: &guard.Gate{
					Caller:   client,
					Recorder: rec,
					Logger:   a.logger,
					BaseURL:  a.cfg.GuardURL,
					Model:    a.cfg.GuardModel,
					Rule:     verdictRule,
				},
				BaseURL:  a.generationURL(ctx),
				Model:    a.cfg.Model,
				Settings: generate.GuardrailSettings,
				SpanName: "generate_with_llama",
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Running %d guardrail scenario(s) against %s (classifier %s)\n\n",
				len(scenarios), gen.BaseURL, a.cfg.GuardURL)

			r := &runner.Runner{
				Recorder: rec,
				Logger:   a.logger,
				Stage:    &runner.GuardrailStage{Generator: gen},
				Workflow: runner.WorkflowGuardrails,
				Observer: &report.Progress{W: out},
				Output:   output,
			}
			rep, err := r.Run(ctx, scenarios)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(out)
			report.Summary(out, rep)

			if history != "" {
				if err := a.saveHistory(ctx, history, rep); err != nil {
					return err
				}
			}

			if strict && (rep.Stats.Failed > 0 || rep.Stats.Mismatched > 0) {
				return fmt.Errorf("%d scenario(s) failed and %d did not match the expected verdict",
					rep.Stats.Failed, rep.Stats.Mismatched)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", defaultGuardrailsOutput, "results file (empty to skip writing)")
	cmd.Flags().StringVar(&rule, "verdict-rule", string(guard.RuleStrict), "how classifier text maps to a verdict: strict or substring")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero if any scenario fails or mismatches")
	cmd.Flags().StringVar(&history, "history", "", "record the run in this SQLite history database")

	return cmd
}
