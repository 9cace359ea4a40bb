// Remote call client for OpenAI-compatible inference services
// One attempt per call, bounded by a per-call timeout, with every outcome classified
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"sync/atomic"
	"time"

	"github.com/andrewh/infercheck/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// Service names used in span names, metrics, and error messages.
const (
	ServiceGeneration     = "generation"
	ServiceClassification = "classification"
)

// DefaultMaxResponseBytes caps how much of a response body is read.
const DefaultMaxResponseBytes = 32 << 20

// Request is one outbound JSON POST.
type Request struct {
	Service string
	URL     string
	Payload any
	Timeout time.Duration
}

// Result is a decoded 200 response.
type Result struct {
	StatusCode int
	Body       map[string]any
	// Text is choices[0].message.content for chat responses or choices[0].text for completions.
	Text string
}

// Caller issues a single remote call. *Client implements it; tests substitute fakes.
type Caller interface {
	Call(ctx context.Context, req Request) (*Result, error)
}

// Client performs remote calls inside their own spans. It never retries.
type Client struct {
	HTTP             *http.Client
	Recorder         *telemetry.Recorder
	Logger           *zap.Logger
	MaxResponseBytes int64
}

// NewClient returns a Client using a fresh http.Client. Timeouts come from each Request.
func NewClient(rec *telemetry.Recorder, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		HTTP:             &http.Client{},
		Recorder:         rec,
		Logger:           logger,
		MaxResponseBytes: DefaultMaxResponseBytes,
	}
}

// Call posts req.Payload as JSON and classifies the outcome. Every failure other
// than cancellation is a Failure (see KindOf) and is recorded on the call's span
// before it is returned.
func (c *Client) Call(ctx context.Context, req Request) (*Result, error) {
	ctx, span := c.Recorder.Start(ctx, req.Service+".request",
		attribute.String("remote.service", req.Service),
		attribute.String("url.full", req.URL),
		attribute.Int64("remote.timeout_ms", req.Timeout.Milliseconds()),
	)

	start := time.Now()
	res, status, err := c.do(ctx, req)
	elapsed := time.Since(start)

	if status != 0 {
		span.SetAttribute("http.response.status_code", status)
	}
	span.Finish(err)

	info := telemetry.CallInfo{
		Service:    req.Service,
		URL:        req.URL,
		Timestamp:  start,
		Duration:   elapsed,
		StatusCode: status,
		TraceID:    span.TraceID(),
	}
	if kind, ok := KindOf(err); ok {
		info.Failure = string(kind)
	} else if errors.Is(err, context.Canceled) {
		info.Failure = "cancelled"
	} else if err != nil {
		info.Failure = "internal"
	}
	c.Recorder.Observe(info)

	logger := c.logger().With(
		zap.String("service", req.Service),
		zap.String("url", req.URL),
		zap.Duration("elapsed", elapsed),
		zap.String("trace_id", info.TraceID),
	)
	if err != nil {
		logger.Warn("remote call failed", zap.String("kind", info.Failure), zap.Int("status", status))
		return nil, err
	}
	logger.Debug("remote call completed", zap.Int("status", status))
	return res, nil
}

func (c *Client) do(ctx context.Context, req Request) (*Result, int, error) {
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, 0, fmt.Errorf("encoding %s request: %w", req.Service, err)
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var connected atomic.Bool
	ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GotConn: func(httptrace.GotConnInfo) { connected.Store(true) },
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("building %s request: %w", req.Service, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	propagation.TraceContext{}.Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, 0, c.transportError(req, err, connected.Load())
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes()))
	if err != nil {
		return nil, resp.StatusCode, c.transportError(req, err, true)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, &HTTPStatusError{
			Service:    req.Service,
			URL:        req.URL,
			StatusCode: resp.StatusCode,
			Body:       excerpt(string(raw)),
		}
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, resp.StatusCode, &MalformedResponseError{
			Service: req.Service, URL: req.URL, Reason: "body is not a JSON object", Err: err,
		}
	}
	text, ok := choiceText(body)
	if !ok {
		return nil, resp.StatusCode, &MalformedResponseError{
			Service: req.Service, URL: req.URL,
			Reason: "missing choices[0].message.content or choices[0].text",
		}
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Body:       body,
		Text:       text,
	}, resp.StatusCode, nil
}

// transportError maps a failed round trip onto the taxonomy. A timeout before the
// connection was established is a connection failure, not a response timeout.
// Cancellation by the caller is not a Failure and carries no kind.
func (c *Client) transportError(req Request, err error, connected bool) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s request cancelled: %w", req.Service, err)
	}
	if connected && isTimeout(err) {
		return &TimeoutError{Service: req.Service, URL: req.URL, Timeout: req.Timeout, Err: err}
	}
	return &ConnectionError{Service: req.Service, URL: req.URL, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// choiceText pulls the generated text from either response shape.
func choiceText(body map[string]any) (string, bool) {
	choices, ok := body["choices"].([]any)
	if !ok || len(choices) == 0 {
		return "", false
	}
	first, ok := choices[0].(map[string]any)
	if !ok {
		return "", false
	}
	if msg, ok := first["message"].(map[string]any); ok {
		if content, ok := msg["content"].(string); ok {
			return content, true
		}
	}
	if text, ok := first["text"].(string); ok {
		return text, true
	}
	return "", false
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}

func (c *Client) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c *Client) maxResponseBytes() int64 {
	if c.MaxResponseBytes <= 0 {
		return DefaultMaxResponseBytes
	}
	return c.MaxResponseBytes
}
