// Typed failures for outbound inference calls
// Callers match on kind with errors.As or KindOf instead of inspecting messages
package remote

import (
	"errors"
	"fmt"
	"time"
)

// Kind categorises a failed remote call.
type Kind string

const (
	// KindConnection means no connection could be established.
	KindConnection Kind = "connection"

	// KindTimeout means the connection was made but no response arrived in time.
	KindTimeout Kind = "timeout"

	// KindHTTPStatus means the service answered with a status other than 200.
	KindHTTPStatus Kind = "http_status"

	// KindMalformed means a 200 response whose body was not the expected JSON shape.
	KindMalformed Kind = "malformed_response"
)

// MaxBodyExcerpt is the most characters of a non-200 response body kept for diagnosis.
const MaxBodyExcerpt = 500

// Failure is implemented by every error this package returns for a failed call.
type Failure interface {
	error
	Kind() Kind
}

// KindOf reports the failure kind of err, looking through wrapped errors.
func KindOf(err error) (Kind, bool) {
	var f Failure
	if errors.As(err, &f) {
		return f.Kind(), true
	}
	return "", false
}

// ConnectionError means the transport never connected to the service.
type ConnectionError struct {
	Service string
	URL     string
	Err     error
}

func (e *ConnectionError) Kind() Kind { return KindConnection }

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cannot connect to %s service at %s: %v\n\n"+
		"Check that the service is running and ready:\n"+
		"  kubectl get pods -A | grep predictor\n\n"+
		"If the pod is failing, inspect it:\n"+
		"  kubectl describe pod -n <namespace> <pod>\n\n"+
		"To target a different deployment, set the base URL:\n"+
		"  --generation-url / LLAMA_STACK_URL, --guard-url / LLAMA_GUARD_URL\n\n"+
		"From outside the cluster, use the fully qualified service name or a port-forward.",
		e.Service, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError means the service accepted the connection but did not respond in time.
type TimeoutError struct {
	Service string
	URL     string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Kind() Kind { return KindTimeout }

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s service at %s did not respond within %s; it may be overloaded or still loading the model",
		e.Service, e.URL, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// HTTPStatusError carries a non-200 status and a bounded excerpt of the body.
type HTTPStatusError struct {
	Service    string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Kind() Kind { return KindHTTPStatus }

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s service at %s returned HTTP %d: %s\n\n"+
		"Check that the requested model is served by this endpoint and that the service is healthy.",
		e.Service, e.URL, e.StatusCode, e.Body)
}

// MalformedResponseError means the body could not be decoded or lacked a choice with text.
type MalformedResponseError struct {
	Service string
	URL     string
	Reason  string
	Err     error
}

func (e *MalformedResponseError) Kind() Kind { return KindMalformed }

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed response from %s service at %s: %s: %v", e.Service, e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed response from %s service at %s: %s", e.Service, e.URL, e.Reason)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// excerpt truncates s to at most MaxBodyExcerpt runes.
func excerpt(s string) string {
	n := 0
	for i := range s {
		if n == MaxBodyExcerpt {
			return s[:i]
		}
		n++
	}
	return s
}
