package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kingrea/lattice-recipes/internal/adapter"
	"github.com/kingrea/lattice-recipes/internal/logging"
)

// Status is the three-way result of a wrapped call.
type Status string

const (
	StatusCompleted      Status = "completed"
	StatusRetryExhausted Status = "retry_exhausted"
	StatusPauseRequested Status = "pause_requested"
)

// Result carries exactly one of a value, an exhaustion error or a pause
// request.
type Result[T any] struct {
	Status   Status
	Value    T
	Err      error
	Attempts int
	Pause    *PauseRequest
}

// Unpack converts the result into the (value, error) shape adapter methods
// return. A pause request becomes a *PauseSignal error.
func (r Result[T]) Unpack() (T, error) {
	switch r.Status {
	case StatusCompleted:
		return r.Value, nil
	case StatusPauseRequested:
		var zero T
		return zero, &PauseSignal{Request: *r.Pause}
	default:
		var zero T
		return zero, r.Err
	}
}

// Call identifies the adapter method being wrapped.
type Call struct {
	Kind   adapter.Kind
	Method string
	Input  any
	// Hint is the adapter's own retry hint, used only when no runtime policy
	// is configured for Kind.
	Hint *adapter.RetryHint
}

// Attempt is reported to observers after every failed attempt.
type Attempt struct {
	Call    Call
	Number  int
	Err     error
	Reason  Reason
	Delay   time.Duration
	Retried bool
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Wrapper applies per-kind policies to adapter calls.
type Wrapper struct {
	patches  Patches
	sleep    Sleeper
	logger   *slog.Logger
	observer func(Attempt)
}

// Option customizes a Wrapper.
type Option func(*Wrapper)

// WithSleeper replaces the backoff sleep.
func WithSleeper(sleep Sleeper) Option {
	return func(w *Wrapper) {
		if sleep != nil {
			w.sleep = sleep
		}
	}
}

// WithLogger sets the logger used for retry debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Wrapper) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithObserver registers a callback invoked after each failed attempt.
func WithObserver(fn func(Attempt)) Option {
	return func(w *Wrapper) {
		w.observer = fn
	}
}

// NewWrapper builds a wrapper enforcing patches on top of DefaultPolicy.
func NewWrapper(patches Patches, opts ...Option) *Wrapper {
	w := &Wrapper{
		patches: patches.Merge(nil),
		sleep:   sleepContext,
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Policy returns the effective policy for call. A configured patch for the
// kind wins over the adapter's hint.
func (w *Wrapper) Policy(call Call) Policy {
	if patch, ok := w.patches[call.Kind]; ok && !patch.IsZero() {
		return patch.Apply(DefaultPolicy())
	}
	policy := DefaultPolicy()
	if call.Hint != nil {
		if !call.Hint.Retryable {
			policy.MaxAttempts = 1
		} else if call.Hint.MaxAttempts > 0 {
			policy.MaxAttempts = call.Hint.MaxAttempts
		}
	}
	return policy.normalized()
}

// Invoke runs fn under the wrapper's policy for call.
func Invoke[T any](ctx context.Context, w *Wrapper, call Call, fn func(context.Context) (T, error)) Result[T] {
	if w == nil {
		w = NewWrapper(nil)
	}
	policy := w.Policy(call)
	var lastErr error
	var reason Reason
	attempts := 0
	for {
		attempts++
		value, err := fn(ctx)
		if err == nil {
			return Result[T]{Status: StatusCompleted, Value: value, Attempts: attempts}
		}
		if signal, paused := AsPause(err); paused {
			// a nested wrapped call already asked to pause
			request := signal.Request
			return Result[T]{Status: StatusPauseRequested, Attempts: attempts, Pause: &request}
		}
		lastErr = err
		reason = Classify(err)
		var stop *stopError
		final := errors.As(err, &stop) || ctx.Err() != nil || !policy.Retries(reason)
		if final {
			w.observe(Attempt{Call: call, Number: attempts, Err: err, Reason: reason})
			return Result[T]{
				Status:   StatusRetryExhausted,
				Err:      &ExhaustedError{Kind: call.Kind, Method: call.Method, Attempts: attempts, Reason: reason, Err: unwrapStop(err)},
				Attempts: attempts,
			}
		}
		if attempts >= policy.MaxAttempts {
			w.observe(Attempt{Call: call, Number: attempts, Err: err, Reason: reason})
			break
		}
		w.observe(Attempt{Call: call, Number: attempts, Err: err, Reason: reason, Delay: policy.Backoff, Retried: true})
		w.logger.Debug("retrying adapter call",
			"kind", call.Kind, "method", call.Method, "attempt", attempts, "reason", reason, "delay", policy.Backoff, "error", err)
		if sleepErr := w.sleep(ctx, policy.Backoff); sleepErr != nil {
			return Result[T]{
				Status:   StatusRetryExhausted,
				Err:      &ExhaustedError{Kind: call.Kind, Method: call.Method, Attempts: attempts, Reason: reason, Err: err},
				Attempts: attempts,
			}
		}
	}
	if policy.Mode == ModePause {
		return Result[T]{
			Status:   StatusPauseRequested,
			Attempts: attempts,
			Pause: &PauseRequest{
				AdapterKind: call.Kind,
				Method:      call.Method,
				Attempt:     attempts,
				Delay:       policy.Backoff,
				Input:       call.Input,
				Reason:      reason,
				Error:       lastErr.Error(),
			},
		}
	}
	return Result[T]{
		Status:   StatusRetryExhausted,
		Err:      &ExhaustedError{Kind: call.Kind, Method: call.Method, Attempts: attempts, Reason: reason, Err: lastErr},
		Attempts: attempts,
	}
}

func (w *Wrapper) observe(a Attempt) {
	if w.observer != nil {
		w.observer(a)
	}
}

func unwrapStop(err error) error {
	var stop *stopError
	if errors.As(err, &stop) {
		return stop.err
	}
	return err
}
