package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/kingrea/lattice-recipes/internal/adapter"
)

// Reason classifies why an adapter call failed.
type Reason string

const (
	ReasonRateLimit   Reason = "rate_limit"
	ReasonTimeout     Reason = "timeout"
	ReasonUnavailable Reason = "unavailable"
	ReasonInvalid     Reason = "invalid"
	ReasonUnknown     Reason = "unknown"
)

// ParseReason validates a configured reason.
func ParseReason(value string) (Reason, error) {
	switch Reason(value) {
	case ReasonRateLimit, ReasonTimeout, ReasonUnavailable, ReasonInvalid, ReasonUnknown:
		return Reason(value), nil
	default:
		return "", fmt.Errorf("retry: unknown reason %q", value)
	}
}

// Reasoner is implemented by errors that know their failure reason.
type Reasoner interface {
	RetryReason() Reason
}

type reasonError struct {
	reason Reason
	err    error
}

func (e *reasonError) Error() string       { return e.err.Error() }
func (e *reasonError) Unwrap() error       { return e.err }
func (e *reasonError) RetryReason() Reason { return e.reason }

// Mark annotates err with a failure reason.
func Mark(err error, reason Reason) error {
	if err == nil {
		return nil
	}
	return &reasonError{reason: reason, err: err}
}

type stopError struct {
	err error
}

func (e *stopError) Error() string { return e.err.Error() }
func (e *stopError) Unwrap() error { return e.err }

// Stop marks err as final: the wrapper will not retry it whatever the policy.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &stopError{err: err}
}

// Classify derives the failure reason of err.
func Classify(err error) Reason {
	var reasoner Reasoner
	if errors.As(err, &reasoner) {
		return reasoner.RetryReason()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	return ReasonUnknown
}

// ExhaustedError is returned when every permitted attempt failed.
type ExhaustedError struct {
	Kind     adapter.Kind
	Method   string
	Attempts int
	Reason   Reason
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: %s.%s failed after %d attempt(s) (%s): %v", e.Kind, e.Method, e.Attempts, e.Reason, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// PauseRequest describes a call that should be re-invoked on resume.
type PauseRequest struct {
	AdapterKind adapter.Kind  `json:"adapter_kind"`
	Method      string        `json:"method"`
	Attempt     int           `json:"attempt"`
	Delay       time.Duration `json:"delay"`
	Input       any           `json:"input,omitempty"`
	Reason      Reason        `json:"reason,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Payload renders the request for a pause snapshot.
func (r PauseRequest) Payload() map[string]any {
	payload := map[string]any{
		"adapter_kind": string(r.AdapterKind),
		"method":       r.Method,
		"attempt":      r.Attempt,
		"delay_ms":     r.Delay.Milliseconds(),
		"reason":       string(r.Reason),
	}
	if r.Input != nil {
		payload["input"] = r.Input
	}
	if r.Error != "" {
		payload["error"] = r.Error
	}
	return payload
}

// PauseSignal is the error adapter decorators return when a pause-mode
// policy is exhausted. The executor turns it into a system pause.
type PauseSignal struct {
	Request PauseRequest
}

func (s *PauseSignal) Error() string {
	return fmt.Sprintf("retry: %s.%s paused after %d attempt(s)", s.Request.AdapterKind, s.Request.Method, s.Request.Attempt)
}

// AsPause extracts a pause signal from err.
func AsPause(err error) (*PauseSignal, bool) {
	var signal *PauseSignal
	if errors.As(err, &signal) {
		return signal, true
	}
	return nil, false
}
