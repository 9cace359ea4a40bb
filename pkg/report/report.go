// Human-readable rendering of runs, receipts, history, and span summaries
// Tables use go-pretty; everything is written to the supplied writer
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/andrewh/infercheck/pkg/extract"
	"github.com/andrewh/infercheck/pkg/runner"
	"github.com/andrewh/infercheck/pkg/spantree"
	"github.com/andrewh/infercheck/pkg/store"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// previewLen bounds prompts and responses echoed in progress output.
const previewLen = 200

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// Progress prints each scenario as it starts and finishes. It satisfies runner.Observer.
type Progress struct {
	W io.Writer
}

func (p *Progress) ScenarioStarted(index, total int, sc runner.Scenario) {
	_, _ = fmt.Fprintf(p.W, "[%d/%d] %s\n", index+1, total, sc.Name)
	if sc.Prompt != "" {
		_, _ = fmt.Fprintf(p.W, "  prompt:   %s\n", preview(sc.Prompt))
	}
	if sc.Image != "" {
		_, _ = fmt.Fprintf(p.W, "  image:    %s\n", sc.Image)
	}
}

func (p *Progress) ScenarioFinished(_, _ int, o runner.Outcome) {
	Outcome(p.W, o)
}

// Outcome prints one scenario result.
func Outcome(w io.Writer, o runner.Outcome) {
	if o.ProducedText != "" {
		_, _ = fmt.Fprintf(w, "  response: %s\n", preview(o.ProducedText))
	}
	if !o.Succeeded {
		kind := o.ErrorKind
		if kind == "" {
			kind = "error"
		}
		_, _ = fmt.Fprintf(w, "  FAILED (%s): %s\n", kind, o.Error)
		return
	}
	if o.Verdict != nil {
		mark := "ok"
		if !o.MatchedExpectation {
			mark = "MISMATCH"
		}
		_, _ = fmt.Fprintf(w, "  verdict:  %s (expected %s) %s\n",
			safeLabel(o.Verdict.Safe), expectedLabel(o.ExpectedValue), mark)
	}
	if o.Record != nil {
		if o.Record.Fallback() {
			_, _ = fmt.Fprintln(w, "  extracted: no JSON object in response")
		} else {
			_, _ = fmt.Fprintf(w, "  extracted: %d product(s)\n", len(o.Record.LineItems))
		}
	}
	_, _ = fmt.Fprintf(w, "  done in %s\n", time.Duration(o.ElapsedMS)*time.Millisecond)
}

// Summary prints a table of every outcome followed by the run totals.
func Summary(w io.Writer, rep *runner.Report) {
	t := newTable(w)
	t.SetTitle("%s run %s", rep.Workflow, rep.RunID)
	t.AppendHeader(table.Row{"#", "Scenario", "State", "Verdict", "Expected", "Match", "Elapsed", "Error"})
	for i, o := range rep.Outcomes {
		verdict, match := "-", "-"
		if o.Verdict != nil {
			verdict = safeLabel(o.Verdict.Safe)
		}
		if o.Succeeded {
			match = yesNo(o.MatchedExpectation)
		}
		t.AppendRow(table.Row{
			i + 1, o.ScenarioName, o.State.String(), verdict, expectedLabel(o.ExpectedValue), match,
			time.Duration(o.ElapsedMS) * time.Millisecond, errorCell(o),
		})
	}
	s := rep.Stats
	t.AppendFooter(table.Row{"", "Total", fmt.Sprintf("%d/%d ok", s.Succeeded, s.Total),
		fmt.Sprintf("%d safe / %d unsafe", s.Safe, s.Unsafe), "",
		fmt.Sprintf("%d/%d", s.Matched, s.Succeeded), rep.Elapsed.Round(time.Millisecond), ""})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})
	t.Render()

	if rep.OutputFile != "" {
		_, _ = fmt.Fprintf(w, "Results written to %s\n", rep.OutputFile)
	}
}

// Receipt prints an extracted record: header fields, line items, and both the
// extracted total and the total computed from the items.
func Receipt(w io.Writer, rec extract.Record) {
	if rec.Fallback() {
		_, _ = fmt.Fprintln(w, "No JSON object could be recovered from the response. Raw text:")
		_, _ = fmt.Fprintln(w, *rec.RawText)
		return
	}

	_, _ = fmt.Fprintf(w, "Store: %s\n", orDash(rec.Store))
	_, _ = fmt.Fprintf(w, "Date:  %s\n", orDash(rec.Date))

	t := newTable(w)
	t.AppendHeader(table.Row{"Product", "Qty", "Price", "Subtotal"})
	for _, item := range rec.LineItems {
		sub := item.Price.Mul(extract.NewAmount(item.Quantity).Decimal)
		t.AppendRow(table.Row{item.Name, strconv.FormatFloat(item.Quantity, 'f', -1, 64),
			item.Price.StringFixed(2), sub.StringFixed(2)})
	}
	extracted := "-"
	if rec.Total != nil {
		extracted = rec.Total.StringFixed(2)
	}
	t.AppendFooter(table.Row{"Total (extracted)", "", "", extracted})
	t.AppendFooter(table.Row{"Total (computed)", "", "", rec.ComputedTotal().StringFixed(2)})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})
	t.Render()

	if rec.Total != nil && !rec.Total.Equal(rec.ComputedTotal().Decimal) {
		_, _ = fmt.Fprintln(w, "Note: extracted total differs from the sum of line items")
	}
}

// History prints stored runs, most recent first.
func History(w io.Writer, runs []store.Run) {
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(w, "No runs recorded")
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Run", "Workflow", "Started", "Elapsed", "Total", "OK", "Failed", "Safe", "Unsafe", "Matched"})
	for _, r := range runs {
		t.AppendRow(table.Row{
			r.ID, r.Workflow, r.StartedAt.Local().Format(time.DateTime), r.Elapsed.Round(time.Millisecond),
			r.Stats.Total, r.Stats.Succeeded, r.Stats.Failed, r.Stats.Safe, r.Stats.Unsafe, r.Stats.Matched,
		})
	}
	t.Render()
}

// Spans prints per-name span statistics.
func Spans(w io.Writer, stats []spantree.NameStats) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Span", "Count", "Errors", "Mean", "Max"})
	for _, s := range stats {
		t.AppendRow(table.Row{s.Name, s.Count, s.Errors,
			s.Mean.Round(time.Microsecond), s.Max.Round(time.Microsecond)})
	}
	t.Render()
}

func safeLabel(safe bool) string {
	if safe {
		return "safe"
	}
	return "unsafe"
}

func expectedLabel(v any) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case bool:
		return safeLabel(x)
	default:
		return fmt.Sprint(x)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func errorCell(o runner.Outcome) string {
	if o.Succeeded {
		return ""
	}
	return o.ErrorKind + ": " + firstLine(o.Error)
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen]) + "..."
}
