// Span records read back from exported traces
// Accepts stdouttrace line-delimited JSON (as written by --stdout) and OTLP protobuf JSON
package spantree

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/encoding/protojson"
)

// Span is one exported span, independent of the format it was read from.
type Span struct {
	TraceID  string
	SpanID   string
	ParentID string // empty for root spans
	Name     string
	Start    time.Time
	End      time.Time
	Error    bool
	// Message is the status description of an errored span.
	Message string
	// Exception is the first recorded exception message, if any.
	Exception  string
	Attributes map[string]string
}

// Duration is End minus Start.
func (s Span) Duration() time.Duration { return s.End.Sub(s.Start) }

// Format identifies the input trace format.
type Format string

const (
	FormatAuto        Format = "auto"
	FormatStdouttrace Format = "stdouttrace"
	FormatOTLP        Format = "otlp"
)

const maxInputSize = 256 << 20

var errNoSpans = errors.New("no spans found in input\n\nProvide a file or pipe stdin:\n  infercheck spans spans.json\n  infercheck guardrails --stdout | infercheck spans")

// ignoredAttributes are resource-level attributes that add nothing per span.
var ignoredAttributes = map[string]bool{
	"telemetry.sdk.language": true,
	"telemetry.sdk.name":     true,
	"telemetry.sdk.version":  true,
	"service.name":           true,
}

// Parse reads spans from r. FormatAuto inspects the input to pick a parser.
func Parse(r io.Reader, format Format) ([]Span, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxInputSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	if len(data) > maxInputSize {
		return nil, fmt.Errorf("input exceeds maximum size of %d MB", maxInputSize>>20)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errNoSpans
	}

	if format == FormatAuto || format == "" {
		format = detectFormat(data)
	}

	switch format {
	case FormatStdouttrace:
		return parseStdouttrace(data)
	case FormatOTLP:
		return parseOTLP(data)
	default:
		return nil, fmt.Errorf("unknown format %q, valid formats: auto, stdouttrace, otlp", format)
	}
}

// detectFormat treats a document with resourceSpans at the top level as OTLP and
// anything else as a stdouttrace stream.
func detectFormat(data []byte) Format {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err == nil {
		if _, ok := top["resourceSpans"]; ok {
			return FormatOTLP
		}
	}
	return FormatStdouttrace
}

type stdoutKeyValue struct {
	Key   string `json:"Key"`
	Value struct {
		Type  string `json:"Type"`
		Value any    `json:"Value"`
	} `json:"Value"`
}

// stdoutSpan mirrors the Go SDK's stdouttrace JSON output.
type stdoutSpan struct {
	Name        string `json:"Name"`
	SpanContext *struct {
		TraceID string `json:"TraceID"`
		SpanID  string `json:"SpanID"`
	} `json:"SpanContext"`
	Parent struct {
		SpanID string `json:"SpanID"`
	} `json:"Parent"`
	StartTime  time.Time        `json:"StartTime"`
	EndTime    time.Time        `json:"EndTime"`
	Attributes []stdoutKeyValue `json:"Attributes"`
	Events     []struct {
		Name       string           `json:"Name"`
		Attributes []stdoutKeyValue `json:"Attributes"`
	} `json:"Events"`
	Status struct {
		Code        string `json:"Code"`
		Description string `json:"Description"`
	} `json:"Status"`
}

// parseStdouttrace reads one JSON document per line. Lines that are not spans,
// such as metric or log records sharing the same stream, are skipped.
func parseStdouttrace(data []byte) ([]Span, error) {
	var spans []Span
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 1<<20), 16<<20)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var evt stdoutSpan
		if err := json.Unmarshal(line, &evt); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if evt.SpanContext == nil {
			continue
		}

		parentID := evt.Parent.SpanID
		if isZeroID(parentID) {
			parentID = ""
		}
		s := Span{
			TraceID:    evt.SpanContext.TraceID,
			SpanID:     evt.SpanContext.SpanID,
			ParentID:   parentID,
			Name:       evt.Name,
			Start:      evt.StartTime,
			End:        evt.EndTime,
			Error:      evt.Status.Code == "Error",
			Message:    evt.Status.Description,
			Attributes: make(map[string]string, len(evt.Attributes)),
		}
		for _, kv := range evt.Attributes {
			if !ignoredAttributes[kv.Key] {
				s.Attributes[kv.Key] = fmt.Sprint(kv.Value.Value)
			}
		}
		for _, ev := range evt.Events {
			if ev.Name != "exception" || s.Exception != "" {
				continue
			}
			for _, kv := range ev.Attributes {
				if kv.Key == "exception.message" {
					s.Exception = fmt.Sprint(kv.Value.Value)
				}
			}
		}
		spans = append(spans, s)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	if len(spans) == 0 {
		return nil, errNoSpans
	}
	return spans, nil
}

func parseOTLP(data []byte) ([]Span, error) {
	var req coltracepb.ExportTraceServiceRequest
	opts := protojson.UnmarshalOptions{DiscardUnknown: true}
	if err := opts.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parsing OTLP: %w", err)
	}

	var spans []Span
	for _, rs := range req.ResourceSpans {
		for _, ss := range rs.ScopeSpans {
			for _, span := range ss.Spans {
				parentID := hex.EncodeToString(span.ParentSpanId)
				if isZeroID(parentID) {
					parentID = ""
				}
				s := Span{
					TraceID:    hex.EncodeToString(span.TraceId),
					SpanID:     hex.EncodeToString(span.SpanId),
					ParentID:   parentID,
					Name:       span.Name,
					Start:      time.Unix(0, int64(span.StartTimeUnixNano)), //nolint:gosec // nanosecond timestamps are always positive
					End:        time.Unix(0, int64(span.EndTimeUnixNano)),   //nolint:gosec // nanosecond timestamps are always positive
					Error:      span.GetStatus().GetCode() == tracepb.Status_STATUS_CODE_ERROR,
					Message:    span.GetStatus().GetMessage(),
					Attributes: make(map[string]string, len(span.Attributes)),
				}
				for _, kv := range span.Attributes {
					if !ignoredAttributes[kv.Key] {
						s.Attributes[kv.Key] = anyValueString(kv.Value)
					}
				}
				for _, ev := range span.Events {
					if ev.Name != "exception" || s.Exception != "" {
						continue
					}
					for _, kv := range ev.Attributes {
						if kv.Key == "exception.message" {
							s.Exception = anyValueString(kv.Value)
						}
					}
				}
				spans = append(spans, s)
			}
		}
	}

	if len(spans) == 0 {
		return nil, errNoSpans
	}
	return spans, nil
}

// isZeroID reports whether a hex ID is empty or all zeros.
func isZeroID(id string) bool {
	return strings.Trim(id, "0") == ""
}

func anyValueString(v *commonpb.AnyValue) string {
	switch x := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return x.StringValue
	case *commonpb.AnyValue_BoolValue:
		return fmt.Sprint(x.BoolValue)
	case *commonpb.AnyValue_IntValue:
		return fmt.Sprint(x.IntValue)
	case *commonpb.AnyValue_DoubleValue:
		return fmt.Sprint(x.DoubleValue)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
