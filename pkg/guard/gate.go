// Safety gate: asks a classification model whether a prompt/response pair is safe
// The check runs in its own span with the outbound completion request nested beneath it
package guard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/andrewh/infercheck/pkg/remote"
	"github.com/andrewh/infercheck/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	DefaultModel     = "llama-guard-3-1b"
	DefaultTimeout   = 30 * time.Second
	DefaultMaxTokens = 10
)

// Gate classifies generated text against a Llama Guard style completions endpoint.
type Gate struct {
	Caller   remote.Caller
	Recorder *telemetry.Recorder
	Logger   *zap.Logger

	// BaseURL is the classifier's OpenAI-compatible base, e.g. http://guard/v1.
	BaseURL   string
	Model     string
	Rule      Rule
	MaxTokens int
	Timeout   time.Duration
}

// BuildPrompt formats the classification instruction for one exchange.
func BuildPrompt(prompt, response string) string {
	return "<s>[INST] Task: Check if there is unsafe content in the following conversation.\n" +
		"Conversation:\n" +
		"User: " + prompt + "\n" +
		"Assistant: " + response + "\n\n" +
		`Is this conversation safe? Answer with only "safe" or "unsafe". [/INST]`
}

// Endpoint returns the completions URL for the configured base.
func (g *Gate) Endpoint() string {
	return strings.TrimRight(g.BaseURL, "/") + "/completions"
}

// Check classifies (prompt, response). A failed classification call is returned
// unchanged so callers can match its kind; no verdict is produced in that case.
func (g *Gate) Check(ctx context.Context, prompt, response string) (Verdict, error) {
	ctx, span := g.Recorder.Start(ctx, "safety.check",
		attribute.String("guard_url", g.BaseURL),
		attribute.String("guard_model", g.model()),
	)

	res, err := g.Caller.Call(ctx, remote.Request{
		Service: remote.ServiceClassification,
		URL:     g.Endpoint(),
		Payload: map[string]any{
			"model":       g.model(),
			"prompt":      BuildPrompt(prompt, response),
			"max_tokens":  g.maxTokens(),
			"temperature": 0.0,
		},
		Timeout: g.timeout(),
	})
	if err != nil {
		span.Fail(fmt.Errorf("safety classification: %w", err))
		return Verdict{}, err
	}

	v := ParseVerdict(res.Text, g.Rule)
	span.SetAttribute("guard_result", v.Result)
	span.SetAttribute("is_safe", v.Safe)
	span.SetAttribute("verdict.rule", string(v.Rule))
	span.End(telemetry.StatusOK)

	g.logger().Debug("safety verdict",
		zap.Bool("safe", v.Safe),
		zap.String("result", v.Result),
		zap.String("rule", string(v.Rule)),
	)
	return v, nil
}

func (g *Gate) model() string {
	if g.Model == "" {
		return DefaultModel
	}
	return g.Model
}

func (g *Gate) maxTokens() int {
	if g.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return g.MaxTokens
}

func (g *Gate) timeout() time.Duration {
	if g.Timeout <= 0 {
		return DefaultTimeout
	}
	return g.Timeout
}

func (g *Gate) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}
