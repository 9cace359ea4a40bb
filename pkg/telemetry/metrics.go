// CallMetrics derives call duration, count, and failure metrics from remote calls.
// Uses the OTel Metrics API with service and failure-kind attributes.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CallMetrics records derived metrics for each observed call.
type CallMetrics struct {
	duration metric.Float64Histogram
	calls    metric.Int64Counter
	failures metric.Int64Counter
}

// NewCallMetrics creates a CallMetrics backed by the given MeterProvider.
func NewCallMetrics(mp metric.MeterProvider) (*CallMetrics, error) {
	meter := mp.Meter(InstrumentationName)

	duration, err := meter.Float64Histogram("remote.call.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Duration of remote inference calls in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	calls, err := meter.Int64Counter("remote.call.count",
		metric.WithDescription("Number of remote inference calls"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("remote.call.failures",
		metric.WithDescription("Number of failed remote inference calls by failure kind"),
	)
	if err != nil {
		return nil, err
	}

	return &CallMetrics{
		duration: duration,
		calls:    calls,
		failures: failures,
	}, nil
}

// Observe records metrics derived from the completed call.
func (m *CallMetrics) Observe(info CallInfo) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("remote.service", info.Service))
	m.calls.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(info.Duration)/float64(time.Millisecond), attrs)
	if info.Failure != "" {
		m.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("remote.service", info.Service),
			attribute.String("failure.kind", info.Failure),
		))
	}
}
