// CallLogs derives log records from failed and slow remote calls.
// Emits ERROR-severity records for failures and WARN-severity records for slow calls.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/log"
)

// CallLogs emits log records for notable calls.
type CallLogs struct {
	logger        log.Logger
	slowThreshold time.Duration
}

// NewCallLogs creates a CallLogs that emits via the given LoggerProvider.
// A slowThreshold of 0 disables slow call detection.
func NewCallLogs(lp log.LoggerProvider, slowThreshold time.Duration) *CallLogs {
	return &CallLogs{
		logger:        lp.Logger(InstrumentationName),
		slowThreshold: slowThreshold,
	}
}

// Observe emits log records for failed calls and calls exceeding the slow threshold.
func (l *CallLogs) Observe(info CallInfo) {
	attrs := []log.KeyValue{
		log.String("remote.service", info.Service),
		log.String("url.full", info.URL),
		log.Int("http.response.status_code", info.StatusCode),
	}
	if info.TraceID != "" {
		attrs = append(attrs, log.String("trace_id", info.TraceID))
	}

	if info.Failure != "" {
		var rec log.Record
		rec.SetTimestamp(info.Timestamp)
		rec.SetSeverity(log.SeverityError)
		rec.SetSeverityText("ERROR")
		rec.SetBody(log.StringValue(fmt.Sprintf("%s call failed: %s", info.Service, info.Failure)))
		rec.AddAttributes(attrs...)
		l.logger.Emit(context.Background(), rec)
	}

	if l.slowThreshold > 0 && info.Duration > l.slowThreshold {
		var rec log.Record
		rec.SetTimestamp(info.Timestamp)
		rec.SetSeverity(log.SeverityWarn)
		rec.SetSeverityText("WARN")
		rec.SetBody(log.StringValue(fmt.Sprintf(
			"slow %s call: %s (threshold %s)",
			info.Service, info.Duration, l.slowThreshold,
		)))
		rec.AddAttributes(attrs...)
		l.logger.Emit(context.Background(), rec)
	}
}
