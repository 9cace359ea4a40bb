package main

import (
	"fmt"
	"io"
	"os"

	"github.com/andrewh/infercheck/pkg/report"
	"github.com/andrewh/infercheck/pkg/spantree"
	"github.com/spf13/cobra"
)

func spansCmd() *cobra.Command {
	var (
		format  string
		summary bool
	)

	cmd := &cobra.Command{
		Use:   "spans [file]",
		Short: "Show span trees from exported traces",
		Long: "Reads spans (stdouttrace lines as written by --stdout, or OTLP JSON) from a file or stdin\n" +
			"and prints each trace as an indented tree. Lines that are not spans are skipped, so the\n" +
			"output of a workflow run with --stdout can be piped in directly.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0]) //nolint:gosec // user-supplied file path is expected
				if err != nil {
					return fmt.Errorf("opening input: %w", err)
				}
				defer f.Close() //nolint:errcheck // best-effort close on read-only file
				r = f
			}
			return showSpans(cmd.OutOrStdout(), r, spantree.Format(format), summary)
		},
	}

	cmd.Flags().StringVar(&format, "format", string(spantree.FormatAuto), "input format: auto, stdouttrace, or otlp")
	cmd.Flags().BoolVar(&summary, "summary", false, "also print per-span-name counts and durations")

	return cmd
}

func showSpans(w io.Writer, r io.Reader, format spantree.Format, summary bool) error {
	spans, err := spantree.Parse(r, format)
	if err != nil {
		return err
	}
	trees := spantree.Build(spans)
	if err := spantree.Render(w, trees); err != nil {
		return err
	}
	if summary {
		_, _ = fmt.Fprintln(w)
		report.Spans(w, spantree.Summarize(trees))
	}
	return nil
}
