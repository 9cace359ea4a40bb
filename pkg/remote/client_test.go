// Tests for the remote call client against httptest services.
// Covers each failure kind, the span recorded per call, and observer fan-out.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andrewh/infercheck/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type recordingObserver struct {
	mu    sync.Mutex
	calls []telemetry.CallInfo
}

func (r *recordingObserver) Observe(info telemetry.CallInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, info)
}

func newTestClient(t *testing.T) (*Client, *tracetest.InMemoryExporter, *recordingObserver) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	obs := &recordingObserver{}
	return NewClient(telemetry.NewWithTracerProvider(tp, obs), nil), exporter, obs
}

func serve(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestCallChatCompletion(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	var gotHeader http.Header
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"Bonjour"}}]}`)
	})

	client, exporter, obs := newTestClient(t)
	res, err := client.Call(context.Background(), Request{
		Service: ServiceGeneration,
		URL:     srv.URL + "/v1/chat/completions",
		Payload: map[string]any{"model": "m", "max_tokens": 5},
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "Bonjour", res.Text)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "m", gotBody["model"])
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.NotEmpty(t, gotHeader.Get("traceparent"), "trace context should be propagated")

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "generation.request", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)

	require.Len(t, obs.calls, 1)
	assert.Empty(t, obs.calls[0].Failure)
	assert.Equal(t, http.StatusOK, obs.calls[0].StatusCode)
}

func TestCallCompletionTextShape(t *testing.T) {
	t.Parallel()

	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[{"text":" safe"}]}`)
	})

	client, _, _ := newTestClient(t)
	res, err := client.Call(context.Background(), Request{Service: ServiceClassification, URL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, " safe", res.Text)
}

func TestCallHTTPStatusFailure(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", 2000)
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, long)
	})

	client, exporter, obs := newTestClient(t)
	_, err := client.Call(context.Background(), Request{Service: ServiceGeneration, URL: srv.URL, Timeout: time.Second})
	require.Error(t, err)

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.LessOrEqual(t, len([]rune(statusErr.Body)), MaxBodyExcerpt)
	assert.Equal(t, MaxBodyExcerpt, len([]rune(statusErr.Body)))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	require.NotEmpty(t, spans[0].Events)
	assert.Equal(t, "exception", spans[0].Events[0].Name)

	require.Len(t, obs.calls, 1)
	assert.Equal(t, string(KindHTTPStatus), obs.calls[0].Failure)
}

func TestCallMalformedResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>oops</html>`},
		{"json array", `[1,2,3]`},
		{"null", `null`},
		{"no choices", `{"id":"x"}`},
		{"empty choices", `{"choices":[]}`},
		{"content not a string", `{"choices":[{"message":{"content":42}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			})
			client, exporter, _ := newTestClient(t)
			_, err := client.Call(context.Background(), Request{Service: ServiceGeneration, URL: srv.URL, Timeout: time.Second})
			require.Error(t, err)
			kind, ok := KindOf(err)
			require.True(t, ok)
			assert.Equal(t, KindMalformed, kind)
			assert.Equal(t, codes.Error, exporter.GetSpans()[0].Status.Code)
		})
	}
}

func TestCallConnectionFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, exporter, _ := newTestClient(t)
	_, err := client.Call(context.Background(), Request{Service: ServiceClassification, URL: url, Timeout: time.Second})
	require.Error(t, err)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Contains(t, err.Error(), "LLAMA_GUARD_URL", "connection errors carry remediation hints")
	assert.Equal(t, codes.Error, exporter.GetSpans()[0].Status.Code)
}

func TestCallTimeoutAfterConnect(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	t.Cleanup(func() { close(release) })

	client, _, obs := newTestClient(t)
	start := time.Now()
	_, err := client.Call(context.Background(), Request{Service: ServiceGeneration, URL: srv.URL, Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 50*time.Millisecond, timeoutErr.Timeout)
	assert.Equal(t, string(KindTimeout), obs.calls[0].Failure)
}

func TestCallCancelledIsNotAFailure(t *testing.T) {
	t.Parallel()

	arrived := make(chan struct{})
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-arrived
		cancel()
	}()

	client, exporter, obs := newTestClient(t)
	_, err := client.Call(ctx, Request{Service: ServiceGeneration, URL: srv.URL, Timeout: 10 * time.Second})
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)

	_, ok := KindOf(err)
	assert.False(t, ok, "cancellation carries no failure kind")
	var connErr *ConnectionError
	assert.False(t, errors.As(err, &connErr))
	assert.NotContains(t, err.Error(), "cannot connect")
	assert.Equal(t, "cancelled", obs.calls[0].Failure)
	assert.Equal(t, codes.Error, exporter.GetSpans()[0].Status.Code)
}

func TestCallUnencodablePayload(t *testing.T) {
	t.Parallel()

	client, exporter, _ := newTestClient(t)
	_, err := client.Call(context.Background(), Request{Service: ServiceGeneration, URL: "http://127.0.0.1:1", Payload: func() {}})
	require.Error(t, err)
	_, ok := KindOf(err)
	assert.False(t, ok)
	assert.Equal(t, codes.Error, exporter.GetSpans()[0].Status.Code)
}

func TestKindOfWrapped(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("scenario failed: %w", &TimeoutError{Service: "generation"})
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindTimeout, kind)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestExcerpt(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", excerpt("short"))
	assert.Len(t, []rune(excerpt(strings.Repeat("x", 501))), 500)
	assert.Equal(t, strings.Repeat("ü", 500), excerpt(strings.Repeat("ü", 600)))
}
