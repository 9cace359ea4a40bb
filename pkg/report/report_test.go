// Tests for report rendering
// Assertions look for cell contents rather than exact table borders
package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/andrewh/infercheck/pkg/extract"
	"github.com/andrewh/infercheck/pkg/guard"
	"github.com/andrewh/infercheck/pkg/runner"
	"github.com/andrewh/infercheck/pkg/spantree"
	"github.com/andrewh/infercheck/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestProgressObserver(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	p := &Progress{W: &buf}

	sc := runner.Scenario{Name: "Question normale", Prompt: "Quelle est\nla capitale ?"}
	p.ScenarioStarted(0, 4, sc)
	p.ScenarioFinished(0, 4, runner.Outcome{
		ProducedText:       "Paris.",
		Verdict:            &guard.Verdict{Safe: false},
		ExpectedValue:      true,
		MatchedExpectation: false,
		Succeeded:          true,
		ElapsedMS:          1500,
	})

	out := buf.String()
	assert.Contains(t, out, "[1/4] Question normale")
	assert.Contains(t, out, "prompt:   Quelle est la capitale ?")
	assert.Contains(t, out, "response: Paris.")
	assert.Contains(t, out, "verdict:  unsafe (expected safe) MISMATCH")
	assert.Contains(t, out, "done in 1.5s")
}

func TestOutcomeFailure(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	Outcome(&buf, runner.Outcome{Error: "cannot connect", ErrorKind: "connection"})
	assert.Equal(t, "  FAILED (connection): cannot connect\n", buf.String())
}

func TestOutcomePreviewTruncates(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	Outcome(&buf, runner.Outcome{ProducedText: strings.Repeat("é", 300), Succeeded: true})
	line, _, _ := strings.Cut(buf.String(), "\n")
	assert.Equal(t, "  response: "+strings.Repeat("é", previewLen)+"...", line)
}

func TestSummary(t *testing.T) {
	t.Parallel()
	outcomes := []runner.Outcome{
		{ScenarioName: "safe one", Verdict: &guard.Verdict{Safe: true}, ExpectedValue: true,
			MatchedExpectation: true, Succeeded: true, State: runner.Succeeded, ElapsedMS: 20},
		{ScenarioName: "broken one", ExpectedValue: false, State: runner.Failed,
			Error: "classification service returned HTTP 500\nbody", ErrorKind: "http_status"},
	}
	rep := &runner.Report{
		RunID:      "run-123",
		Workflow:   runner.WorkflowGuardrails,
		Outcomes:   outcomes,
		Stats:      runner.ComputeStats(outcomes),
		Elapsed:    time.Second,
		OutputFile: "guardrails_test_results.json",
	}

	var buf bytes.Buffer
	Summary(&buf, rep)
	out := buf.String()
	assert.Contains(t, strings.ToLower(out), "llama_guardrails run run-123")
	assert.Contains(t, out, "safe one")
	assert.Contains(t, out, "broken one")
	assert.Contains(t, out, "http_status: classification service returned HTTP 500")
	assert.NotContains(t, out, "body")
	assert.Contains(t, strings.ToUpper(out), "1/2 OK")
	assert.Contains(t, out, "Results written to guardrails_test_results.json")
}

func TestReceipt(t *testing.T) {
	t.Parallel()
	total := extract.NewAmount(5)
	rec := extract.Record{
		Store: ptr("Carrefour"),
		LineItems: []extract.LineItem{
			{Name: "Lait", Price: extract.NewAmount(1.2), Quantity: 2},
			{Name: "Pain", Price: extract.NewAmount(0.99), Quantity: 1},
		},
		Total: &total,
	}

	var buf bytes.Buffer
	Receipt(&buf, rec)
	out := buf.String()
	assert.Contains(t, out, "Store: Carrefour")
	assert.Contains(t, out, "Date:  -")
	assert.Contains(t, out, "Lait")
	assert.Contains(t, out, "2.40")
	assert.Contains(t, out, "5.00")
	assert.Contains(t, out, "3.39")
	assert.Contains(t, out, "extracted total differs")
}

func TestReceiptFallback(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	Receipt(&buf, extract.Parse("Je ne peux pas lire ce ticket."))
	assert.Contains(t, buf.String(), "No JSON object could be recovered")
	assert.Contains(t, buf.String(), "Je ne peux pas lire ce ticket.")
}

func TestHistory(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	History(&buf, nil)
	assert.Equal(t, "No runs recorded\n", buf.String())

	buf.Reset()
	History(&buf, []store.Run{{
		ID:       "abc-123",
		Workflow: runner.WorkflowReceipt,
		Elapsed:  2 * time.Second,
		Stats:    runner.Stats{Total: 1, Succeeded: 1, Matched: 1},
	}})
	out := buf.String()
	assert.Contains(t, out, "abc-123")
	assert.Contains(t, out, "multimodal_receipt")
	assert.Contains(t, out, "2s")
}

func TestSpans(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	Spans(&buf, []spantree.NameStats{{Name: "safety.check", Count: 4, Errors: 1, Mean: 30 * time.Millisecond, Max: 90 * time.Millisecond}})
	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, "safety.check")
	assert.Contains(t, out, "30ms")
	assert.Contains(t, out, "90ms")
}
