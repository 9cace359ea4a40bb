// Test runner: drives scenarios through a workflow stage one at a time
// A failing scenario is recorded and the run moves on; results are persisted as one JSON document
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andrewh/infercheck/pkg/extract"
	"github.com/andrewh/infercheck/pkg/guard"
	"github.com/andrewh/infercheck/pkg/remote"
	"github.com/andrewh/infercheck/pkg/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// State is a scenario's position in its lifecycle.
type State int

const (
	Pending State = iota
	Running
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{Pending, Running, Succeeded, Failed} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown scenario state %q", text)
}

// Outcome is the result of running one scenario.
type Outcome struct {
	ScenarioName string          `json:"scenario_name"`
	InputPrompt  string          `json:"input_prompt"`
	ProducedText string          `json:"produced_text"`
	Verdict      *guard.Verdict  `json:"verdict,omitempty"`
	Record       *extract.Record `json:"record,omitempty"`
	// ExpectedValue is what the scenario expected, if anything (expected_safe for guardrails).
	ExpectedValue      any    `json:"expected_value"`
	MatchedExpectation bool   `json:"matched_expectation"`
	Succeeded          bool   `json:"succeeded"`
	State              State  `json:"state"`
	Error              string `json:"error,omitempty"`
	ErrorKind          string `json:"error_kind,omitempty"`
	ElapsedMS          int64  `json:"elapsed_ms"`
}

// Stage runs the workflow for one scenario. On error the returned outcome may
// still carry whatever was produced before the failure.
type Stage interface {
	Run(ctx context.Context, sc Scenario) (Outcome, error)
}

// Observer is notified as scenarios start and finish, in submission order.
type Observer interface {
	ScenarioStarted(index, total int, sc Scenario)
	ScenarioFinished(index, total int, outcome Outcome)
}

// Stats aggregates a run.
type Stats struct {
	Total      int `json:"total"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Safe       int `json:"safe"`
	Unsafe     int `json:"unsafe"`
	Matched    int `json:"matched"`
	Mismatched int `json:"mismatched"`
}

// Report is a completed run.
type Report struct {
	RunID      string        `json:"run_id"`
	Workflow   string        `json:"workflow"`
	StartedAt  time.Time     `json:"started_at"`
	Elapsed    time.Duration `json:"-"`
	Outcomes   []Outcome     `json:"outcomes"`
	Stats      Stats         `json:"stats"`
	OutputFile string        `json:"output_file,omitempty"`
}

// Runner executes scenarios strictly in order.
type Runner struct {
	Recorder *telemetry.Recorder
	Logger   *zap.Logger
	Stage    Stage
	// Workflow names the run; the root span is "<workflow>_test".
	Workflow string
	Observer Observer
	// Output, when set, is where the run's JSON document is written.
	Output string
	// Document selects what is persisted; nil persists the outcome list.
	Document func(*Report) any
}

// Run executes every scenario and returns the report. Scenario failures are
// recorded in the report; the returned error is only for failing to persist it.
func (r *Runner) Run(ctx context.Context, scenarios []Scenario) (*Report, error) {
	report := &Report{
		RunID:     uuid.NewString(),
		Workflow:  r.Workflow,
		StartedAt: time.Now(),
		Outcomes:  make([]Outcome, 0, len(scenarios)),
	}
	logger := r.logger().With(zap.String("run_id", report.RunID), zap.String("workflow", r.Workflow))

	ctx, root := r.Recorder.Start(ctx, r.Workflow+"_test",
		attribute.String("test_type", r.Workflow),
		attribute.String("run.id", report.RunID),
	)

	for i, sc := range scenarios {
		if r.Observer != nil {
			r.Observer.ScenarioStarted(i, len(scenarios), sc)
		}
		outcome := r.runOne(ctx, sc)
		report.Outcomes = append(report.Outcomes, outcome)
		if outcome.Succeeded {
			logger.Info("scenario finished", zap.String("scenario", sc.Name), zap.Bool("matched", outcome.MatchedExpectation))
		} else {
			logger.Warn("scenario failed", zap.String("scenario", sc.Name), zap.String("kind", outcome.ErrorKind))
		}
		if r.Observer != nil {
			r.Observer.ScenarioFinished(i, len(scenarios), outcome)
		}
	}

	report.Stats = ComputeStats(report.Outcomes)
	report.Elapsed = time.Since(report.StartedAt)
	root.SetAttributes(
		attribute.Int("tests_total", report.Stats.Total),
		attribute.Int("tests_successful", report.Stats.Succeeded),
		attribute.Int("responses_safe", report.Stats.Safe),
		attribute.Int("responses_unsafe", report.Stats.Unsafe),
	)

	if r.Output != "" {
		if err := WriteFile(r.Output, r.document(report)); err != nil {
			root.Fail(err)
			return report, err
		}
		report.OutputFile = r.Output
		root.SetAttribute("output_file", r.Output)
	}
	root.End(telemetry.StatusOK)
	return report, nil
}

func (r *Runner) runOne(ctx context.Context, sc Scenario) (outcome Outcome) {
	ctx, span := r.Recorder.Start(ctx, "scenario",
		attribute.String("scenario.name", sc.Name),
	)
	state := Running
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("scenario %q panicked: %v", sc.Name, p)
			outcome = Outcome{ScenarioName: sc.Name, InputPrompt: sc.Prompt, Error: err.Error(), ErrorKind: "internal"}
			state = Failed
			span.RecordFailure(err)
		}
		outcome.State = state
		outcome.ElapsedMS = time.Since(start).Milliseconds()
		span.SetAttribute("scenario.state", state.String())
		if state == Failed {
			span.End(telemetry.StatusError)
		} else {
			span.End(telemetry.StatusOK)
		}
	}()

	outcome, err := r.Stage.Run(ctx, sc)
	outcome.ScenarioName = sc.Name
	if outcome.InputPrompt == "" {
		outcome.InputPrompt = sc.Prompt
	}
	if err != nil {
		state = Failed
		outcome.Succeeded = false
		outcome.MatchedExpectation = false
		outcome.Error = err.Error()
		if kind, ok := remote.KindOf(err); ok {
			outcome.ErrorKind = string(kind)
		} else {
			outcome.ErrorKind = "internal"
		}
		span.RecordFailure(err)
		return outcome
	}
	state = Succeeded
	outcome.Succeeded = true
	span.SetAttribute("matched_expectation", outcome.MatchedExpectation)
	return outcome
}

func (r *Runner) document(report *Report) any {
	if r.Document != nil {
		return r.Document(report)
	}
	return report.Outcomes
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// ComputeStats counts outcomes. Safe and unsafe count only succeeded runs with a verdict.
func ComputeStats(outcomes []Outcome) Stats {
	s := Stats{Total: len(outcomes)}
	for _, o := range outcomes {
		if !o.Succeeded {
			s.Failed++
			continue
		}
		s.Succeeded++
		if o.MatchedExpectation {
			s.Matched++
		} else {
			s.Mismatched++
		}
		if o.Verdict != nil {
			if o.Verdict.Safe {
				s.Safe++
			} else {
				s.Unsafe++
			}
		}
	}
	return s
}

// WriteJSON encodes v as indented UTF-8 JSON without escaping non-ASCII or HTML characters.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// WriteFile writes v as JSON to path, replacing any existing file.
func WriteFile(path string, v any) error {
	f, err := os.Create(path) //nolint:gosec // user-supplied output path is expected
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := WriteJSON(f, v); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
