// Span handle returned by Recorder.Start
// Ends exactly once; a recorded failure always wins over a later OK status
package telemetry

import (
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Status is the terminal state of a span.
type Status int

const (
	StatusOK Status = iota
	StatusError
)

func (s Status) String() string {
	if s == StatusError {
		return "error"
	}
	return "ok"
}

// Span is one unit of work. Methods are safe for concurrent use and do nothing
// once the span has ended.
type Span struct {
	span trace.Span

	mu      sync.Mutex
	failure error
	ended   bool
}

// SetAttribute sets a scalar attribute. Later writes to the same key win.
// Values that are not strings, numbers, or booleans are stored as their fmt.Sprint form.
func (s *Span) SetAttribute(key string, value any) {
	s.SetAttributes(attributeFor(key, value))
}

// SetAttributes sets pre-built attributes.
func (s *Span) SetAttributes(kv ...attribute.KeyValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.span.SetAttributes(kv...)
}

// RecordFailure attaches err as the span's exception and marks it as errored.
func (s *Span) RecordFailure(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.failure = err
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// End closes the span. Only the first call has any effect.
func (s *Span) End(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	switch {
	case s.failure != nil:
		// status already set by RecordFailure
	case status == StatusError:
		s.span.SetStatus(codes.Error, "operation failed")
	default:
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}

// Fail records err and ends the span with an error status.
func (s *Span) Fail(err error) {
	s.RecordFailure(err)
	s.End(StatusError)
}

// Finish ends the span with OK when err is nil and fails it otherwise.
func (s *Span) Finish(err error) {
	if err != nil {
		s.Fail(err)
		return
	}
	s.End(StatusOK)
}

// Failure returns the error recorded on the span, if any.
func (s *Span) Failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// TraceID returns the hex trace ID, or an empty string for a non-recording span.
func (s *Span) TraceID() string {
	sc := s.span.SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

func attributeFor(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case float32:
		return attribute.Float64(key, float64(v))
	case []string:
		return attribute.StringSlice(key, v)
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}
