// CallObserver interface for deriving metrics and logs from completed remote calls
// Observers receive call metadata after the call's span has ended
package telemetry

import "time"

// CallInfo describes one completed outbound request.
type CallInfo struct {
	Service    string
	URL        string
	Timestamp  time.Time
	Duration   time.Duration
	StatusCode int
	// Failure is the failure kind, empty when the call succeeded.
	Failure string
	TraceID string
}

// CallObserver receives metadata for each completed remote call.
type CallObserver interface {
	Observe(info CallInfo)
}
