// Generation stage: one chat completion, optionally multimodal, optionally gated
// Each invocation is a single span carrying the prompt prefix and model
package generate

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/andrewh/infercheck/pkg/guard"
	"github.com/andrewh/infercheck/pkg/remote"
	"github.com/andrewh/infercheck/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PromptAttributeLimit is the most prompt characters recorded on a span.
const PromptAttributeLimit = 100

// Settings are the sampling parameters and timeout for one workflow.
type Settings struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

var (
	// GuardrailSettings suit short conversational answers that are then classified.
	GuardrailSettings = Settings{Temperature: 0.7, MaxTokens: 500, Timeout: 60 * time.Second}

	// ReceiptSettings suit near-deterministic structured extraction from an image.
	ReceiptSettings = Settings{Temperature: 0.1, MaxTokens: 2000, Timeout: 120 * time.Second}
)

// Outcome is the result of one successful generation.
type Outcome struct {
	Prompt string `json:"prompt"`
	Text   string `json:"response"`
	Model  string `json:"model"`
	// Verdict is set only when the call was gated.
	Verdict *guard.Verdict `json:"guardrails"`
}

// GateError reports a generation that succeeded but whose safety check failed.
// The generated text is kept for diagnosis; the pipeline as a whole has failed.
type GateError struct {
	Generated string
	Err       error
}

func (e *GateError) Error() string { return fmt.Sprintf("safety check failed: %v", e.Err) }

func (e *GateError) Unwrap() error { return e.Err }

// Generator calls an OpenAI-compatible chat completions endpoint.
type Generator struct {
	Caller   remote.Caller
	Recorder *telemetry.Recorder
	Logger   *zap.Logger
	// Gate classifies the output when Generate is asked to gate. Required in that case.
	Gate *guard.Gate

	BaseURL  string
	Model    string
	Settings Settings
	// SpanName overrides the top-level span name (default "generate").
	SpanName string
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role string `json:"role"`
	// Content is a string for text-only requests and []contentPart for multimodal ones.
	Content any `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// Endpoint returns the chat completions URL for the configured base.
func (g *Generator) Endpoint() string {
	return strings.TrimRight(g.BaseURL, "/") + "/v1/chat/completions"
}

// Generate sends prompt, with image embedded as a data URL when non-empty, and
// returns the first choice's content. With gate set the output is classified
// before returning; a classification failure fails the whole call with a *GateError.
func (g *Generator) Generate(ctx context.Context, prompt string, image []byte, gate bool) (*Outcome, error) {
	ctx, span := g.Recorder.Start(ctx, g.spanName(),
		attribute.String("prompt", truncate(prompt, PromptAttributeLimit)),
		attribute.String("model", g.Model),
		attribute.Bool("use_guardrails", gate),
	)

	if gate && g.Gate == nil {
		err := errors.New("gating requested but no safety gate is configured")
		span.Fail(err)
		return nil, err
	}

	payload := chatRequest{
		Model:       g.Model,
		Messages:    []chatMessage{userMessage(prompt, image)},
		Temperature: g.Settings.Temperature,
		MaxTokens:   g.Settings.MaxTokens,
	}
	if len(image) > 0 {
		span.SetAttribute("image_size_bytes", base64.StdEncoding.EncodedLen(len(image)))
	}

	res, err := g.Caller.Call(ctx, remote.Request{
		Service: remote.ServiceGeneration,
		URL:     g.Endpoint(),
		Payload: payload,
		Timeout: g.Settings.Timeout,
	})
	if err != nil {
		span.Fail(err)
		return nil, err
	}
	span.SetAttribute("response_length", utf8.RuneCountInString(res.Text))

	out := &Outcome{Prompt: prompt, Text: res.Text, Model: g.Model}
	if !gate {
		span.End(telemetry.StatusOK)
		return out, nil
	}

	verdict, err := g.Gate.Check(ctx, prompt, res.Text)
	if err != nil {
		gerr := &GateError{Generated: res.Text, Err: err}
		span.Fail(gerr)
		g.logger().Warn("generation succeeded but safety check failed", zap.Error(err))
		return nil, gerr
	}
	out.Verdict = &verdict
	span.SetAttribute("guardrails_safe", verdict.Safe)
	span.End(telemetry.StatusOK)
	return out, nil
}

func userMessage(prompt string, image []byte) chatMessage {
	if len(image) == 0 {
		return chatMessage{Role: "user", Content: prompt}
	}
	return chatMessage{Role: "user", Content: []contentPart{
		{Type: "text", Text: prompt},
		{Type: "image_url", ImageURL: &imageURL{URL: DataURL(image)}},
	}}
}

// DataURL base64-encodes image as a data URL. The media type is always image/jpeg
// whatever the bytes are; vision servers decode the payload themselves.
func DataURL(image []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func (g *Generator) spanName() string {
	if g.SpanName == "" {
		return "generate"
	}
	return g.SpanName
}

func (g *Generator) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}
