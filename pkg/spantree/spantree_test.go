// Tests for span parsing, tree building, and rendering
// The round-trip test reads back what the telemetry stdout exporter writes
package spantree

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/andrewh/infercheck/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStdouttraceBasic(t *testing.T) {
	t.Parallel()

	input := `{"Name":"classification.request","SpanContext":{"TraceID":"aaa","SpanID":"bbb"},"Parent":{"TraceID":"aaa","SpanID":"0000000000000000"},"StartTime":"2024-01-01T00:00:00Z","EndTime":"2024-01-01T00:00:00.005Z","Attributes":[{"Key":"http.response.status_code","Value":{"Type":"INT64","Value":503}},{"Key":"telemetry.sdk.name","Value":{"Type":"STRING","Value":"opentelemetry"}}],"Events":[{"Name":"exception","Attributes":[{"Key":"exception.message","Value":{"Type":"STRING","Value":"HTTP 503"}}]}],"Status":{"Code":"Error","Description":"classification service returned HTTP 503"}}
{"Resource":[],"ScopeMetrics":[]}`

	spans, err := Parse(strings.NewReader(input), FormatAuto)
	require.NoError(t, err)
	require.Len(t, spans, 1, "non-span lines are skipped")

	s := spans[0]
	assert.Equal(t, "aaa", s.TraceID)
	assert.Empty(t, s.ParentID)
	assert.True(t, s.Error)
	assert.Equal(t, "classification service returned HTTP 503", s.Message)
	assert.Equal(t, "HTTP 503", s.Exception)
	assert.Equal(t, "503", s.Attributes["http.response.status_code"])
	assert.NotContains(t, s.Attributes, "telemetry.sdk.name")
	assert.Equal(t, 5*time.Millisecond, s.Duration())
}

func TestParseOTLP(t *testing.T) {
	t.Parallel()

	// AQIDBAUGBwgJCgsMDQ4PEA== is bytes 1..16
	input := `{
		"resourceSpans": [{
			"resource": {"attributes": [{"key": "service.name", "value": {"stringValue": "infercheck"}}]},
			"scopeSpans": [{"scope": {"name": "infercheck"}, "spans": [{
				"traceId": "AQIDBAUGBwgJCgsMDQ4PEA==",
				"spanId": "AQIDBAUGBwg=",
				"name": "safety.check",
				"startTimeUnixNano": "1700000000000000000",
				"endTimeUnixNano": "1700000000030000000",
				"status": {"code": 2, "message": "timeout"},
				"attributes": [
					{"key": "is_safe", "value": {"boolValue": false}},
					{"key": "guard_result", "value": {"stringValue": "unsafe"}}
				]
			}]}]
		}]
	}`

	spans, err := Parse(strings.NewReader(input), FormatAuto)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	s := spans[0]
	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", s.TraceID)
	assert.Equal(t, "0102030405060708", s.SpanID)
	assert.Empty(t, s.ParentID)
	assert.True(t, s.Error)
	assert.Equal(t, "timeout", s.Message)
	assert.Equal(t, "false", s.Attributes["is_safe"])
	assert.Equal(t, "unsafe", s.Attributes["guard_result"])
	assert.Equal(t, 30*time.Millisecond, s.Duration())
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	_, err := Parse(strings.NewReader(""), FormatAuto)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no spans found")

	_, err = Parse(strings.NewReader(`{"Resource":[]}`), FormatAuto)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no spans found")

	_, err = Parse(strings.NewReader(`{"a":1}`), "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown format "xml"`)

	_, err = Parse(strings.NewReader(`{"resourceSpans": 5}`), FormatOTLP)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing OTLP")
}

func TestBuildOrdersAndLinks(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	spans := []Span{
		{TraceID: "t2", SpanID: "r2", Name: "later", Start: base.Add(time.Second), End: base.Add(2 * time.Second)},
		{TraceID: "t1", SpanID: "c2", ParentID: "r1", Name: "second", Start: base.Add(20 * time.Millisecond), End: base.Add(30 * time.Millisecond)},
		{TraceID: "t1", SpanID: "c1", ParentID: "r1", Name: "first", Start: base.Add(10 * time.Millisecond), End: base.Add(15 * time.Millisecond)},
		{TraceID: "t1", SpanID: "r1", Name: "root", Start: base, End: base.Add(50 * time.Millisecond)},
		{TraceID: "t1", SpanID: "o1", ParentID: "gone", Name: "orphan", Start: base.Add(40 * time.Millisecond), End: base.Add(45 * time.Millisecond)},
	}

	trees := Build(spans)
	require.Len(t, trees, 2)
	assert.Equal(t, "t1", trees[0].TraceID)
	assert.Equal(t, 1, trees[0].Orphans)
	require.Len(t, trees[0].Roots, 2)
	root := trees[0].Roots[0]
	assert.Equal(t, "root", root.Span.Name)
	require.Len(t, root.Children, 2)
	assert.Equal(t, "first", root.Children[0].Span.Name)
	assert.Equal(t, "second", root.Children[1].Span.Name)
	assert.Equal(t, "orphan", trees[0].Roots[1].Span.Name)

	stats := Summarize(trees)
	require.Len(t, stats, 5)
	assert.Equal(t, "first", stats[0].Name)
	assert.Equal(t, 5*time.Millisecond, stats[0].Mean)
}

func TestRecorderRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	rec, err := telemetry.New(context.Background(), telemetry.Options{
		ServiceName: "infercheck-test",
		Stdout:      true,
		Writer:      &buf,
	})
	require.NoError(t, err)

	ctx, root := rec.Start(context.Background(), "llama_guardrails_test")
	_, check := rec.Start(ctx, "safety.check")
	check.SetAttribute("is_safe", true)
	check.Fail(errors.New("classification service did not respond\nsecond line"))
	root.SetAttribute("tests_total", 1)
	root.End(telemetry.StatusOK)
	require.NoError(t, rec.Shutdown(context.Background()))

	spans, err := Parse(&buf, FormatAuto)
	require.NoError(t, err)
	trees := Build(spans)
	require.Len(t, trees, 1)
	require.Len(t, trees[0].Roots, 1)
	r := trees[0].Roots[0]
	assert.Equal(t, "llama_guardrails_test", r.Span.Name)
	require.Len(t, r.Children, 1)
	child := r.Children[0]
	assert.True(t, child.Span.Error)
	assert.Contains(t, child.Span.Exception, "did not respond")

	var out bytes.Buffer
	require.NoError(t, Render(&out, trees))
	text := out.String()
	assert.Contains(t, text, "trace "+r.Span.TraceID)
	assert.Contains(t, text, "  llama_guardrails_test")
	assert.Contains(t, text, "tests_total=1")
	assert.Contains(t, text, "    safety.check")
	assert.Contains(t, text, "is_safe=true")
	assert.Contains(t, text, "ERROR: classification service did not respond")
	assert.NotContains(t, text, "second line", "only the first line of a message is shown")
}

func TestIsZeroID(t *testing.T) {
	t.Parallel()

	assert.True(t, isZeroID("0000000000000000"))
	assert.True(t, isZeroID(""))
	assert.False(t, isZeroID("0a00000000000000"))
}
