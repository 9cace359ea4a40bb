package main

import (
	"errors"
	"fmt"

	"github.com/andrewh/infercheck/pkg/fetch"
	"github.com/andrewh/infercheck/pkg/generate"
	"github.com/andrewh/infercheck/pkg/remote"
	"github.com/andrewh/infercheck/pkg/report"
	"github.com/andrewh/infercheck/pkg/runner"
	"github.com/spf13/cobra"
)

const defaultReceiptOutput = "receipt_extraction_result.json"

func receiptCmd(a *app) *cobra.Command {
	var (
		output  string
		history string
	)

	cmd := &cobra.Command{
		Use:   "receipt <image path | URL>",
		Short: "Extract products and prices from a receipt image",
		Long: "Send a receipt image to the multimodal model and extract its products, prices, and total.\n\n" +
			"The image can be a local path or an HTTP/HTTPS URL (30-second timeout). When the model's\n" +
			"answer contains no JSON object the raw answer is kept instead.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("missing receipt image path or URL\n\nUsage: infercheck receipt <image path | URL>\n\n" +
					"To download a sample receipt first:\n  infercheck fetch <url> receipt.jpg")
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := interruptible(cmd.Context())
			defer stop()

			rec, done, err := a.startTelemetry(ctx, cmd, "multimodal-receipt-extractor")
			if err != nil {
				return err
			}
			defer done()

			gen := &generate.Generator{
				Caller:   remote.NewClient(rec, a.logger),
				Recorder: rec,
				Logger:   a.logger,
				BaseURL:  a.generationURL(ctx),
				Model:    a.cfg.Model,
				Settings: generate.ReceiptSettings,
				SpanName: "extract_products_from_receipt",
			}

			out := cmd.OutOrStdout()
			r := &runner.Runner{
				Recorder: rec,
				Logger:   a.logger,
				Stage:    &runner.ReceiptStage{Generator: gen, Recorder: rec, Fetcher: fetch.Image()},
				Workflow: runner.WorkflowReceipt,
				Observer: &report.Progress{W: out},
				Output:   output,
				Document: receiptDocument,
			}
			rep, err := r.Run(ctx, []runner.Scenario{runner.ReceiptScenario(args[0])})
			if err != nil {
				return err
			}

			if history != "" {
				if err := a.saveHistory(ctx, history, rep); err != nil {
					return err
				}
			}

			outcome := rep.Outcomes[0]
			if !outcome.Succeeded {
				return fmt.Errorf("receipt extraction failed: %s", outcome.Error)
			}
			_, _ = fmt.Fprintln(out)
			report.Receipt(out, *outcome.Record)
			if rep.OutputFile != "" {
				_, _ = fmt.Fprintf(out, "Result written to %s\n", rep.OutputFile)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", defaultReceiptOutput, "result file (empty to skip writing)")
	cmd.Flags().StringVar(&history, "history", "", "record the run in this SQLite history database")

	return cmd
}

// receiptDocument persists the extracted record on success and the failed
// outcome otherwise.
func receiptDocument(rep *runner.Report) any {
	if len(rep.Outcomes) == 1 && rep.Outcomes[0].Record != nil {
		return rep.Outcomes[0].Record
	}
	return rep.Outcomes
}
