package resilience

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen signals that the target's circuit breaker rejected the call
// without invoking it. Retrying right now would not help; callers should
// surface a "temporarily unavailable" message rather than a generic failure.
var ErrCircuitOpen = errors.New("circuit breaker open")

// ErrorKind classifies a failed outbound call
type ErrorKind string

const (
	ErrKindNetwork     ErrorKind = "network"
	ErrKindTimeout     ErrorKind = "timeout"
	ErrKindCircuitOpen ErrorKind = "circuit_open"
	ErrKindHTTPStatus  ErrorKind = "http_status"
)

// CallError is the classified failure surfaced by the retrying caller after
// the breaker rejects a call or all attempts are spent. It carries the
// target, attempt count and original cause so a consuming health check can
// report degradation.
type CallError struct {
	Kind       ErrorKind
	Target     string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *CallError) Error() string {
	switch e.Kind {
	case ErrKindCircuitOpen:
		return fmt.Sprintf("call to %s rejected: %v", e.Target, e.Err)
	case ErrKindHTTPStatus:
		return fmt.Sprintf("call to %s failed with status %d after %d attempt(s): %v",
			e.Target, e.StatusCode, e.Attempts, e.Err)
	default:
		return fmt.Sprintf("call to %s failed after %d attempt(s): %v", e.Target, e.Attempts, e.Err)
	}
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// httpStatusError marks a retryable server-class response inside the breaker
type httpStatusError struct {
	code int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}
