// Package retry wraps adapter calls with attempt, backoff and escalation
// policies.
package retry

import (
	"fmt"
	"time"

	"github.com/kingrea/lattice-recipes/internal/adapter"
)

// Mode decides what happens once attempts are exhausted.
type Mode string

const (
	// ModeThrow surfaces the final error (the default).
	ModeThrow Mode = "throw"
	// ModePause suspends the run so the call can be re-invoked on resume.
	ModePause Mode = "pause"
)

// ParseMode validates a configured mode.
func ParseMode(value string) (Mode, error) {
	switch Mode(value) {
	case ModeThrow, ModePause:
		return Mode(value), nil
	case "":
		return ModeThrow, nil
	default:
		return "", fmt.Errorf("retry: unknown mode %q", value)
	}
}

const (
	// DefaultBackoff is used when a policy leaves the delay unset.
	DefaultBackoff = 200 * time.Millisecond
	minBackoff     = time.Millisecond
	maxBackoff     = 30 * time.Second
)

// Policy is the effective retry behaviour for one adapter kind.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	Mode        Mode
	// RetryOn restricts retries to the listed failure reasons. Empty retries
	// every reason.
	RetryOn []Reason
}

// DefaultPolicy makes a single attempt and surfaces the error.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 1, Backoff: DefaultBackoff, Mode: ModeThrow}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Mode == "" {
		p.Mode = ModeThrow
	}
	p.Backoff = clampBackoff(p.Backoff)
	return p
}

// Retries reports whether a failure with reason may be retried.
func (p Policy) Retries(reason Reason) bool {
	if len(p.RetryOn) == 0 {
		return true
	}
	for _, allowed := range p.RetryOn {
		if allowed == reason {
			return true
		}
	}
	return false
}

func clampBackoff(d time.Duration) time.Duration {
	if d < minBackoff {
		return minBackoff
	}
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Patch overrides individual policy leaves. Nil leaves inherit.
type Patch struct {
	MaxAttempts *int
	Backoff     *time.Duration
	Mode        *Mode
	RetryOn     []Reason
}

// IsZero reports whether the patch overrides nothing.
func (p Patch) IsZero() bool {
	return p.MaxAttempts == nil && p.Backoff == nil && p.Mode == nil && p.RetryOn == nil
}

// Merge returns p with every leaf set in override replacing p's.
func (p Patch) Merge(override Patch) Patch {
	out := p
	if override.MaxAttempts != nil {
		v := *override.MaxAttempts
		out.MaxAttempts = &v
	}
	if override.Backoff != nil {
		v := *override.Backoff
		out.Backoff = &v
	}
	if override.Mode != nil {
		v := *override.Mode
		out.Mode = &v
	}
	if override.RetryOn != nil {
		out.RetryOn = append([]Reason{}, override.RetryOn...)
	}
	return out
}

// Apply returns base with the patch applied.
func (p Patch) Apply(base Policy) Policy {
	out := base
	if p.MaxAttempts != nil {
		out.MaxAttempts = *p.MaxAttempts
	}
	if p.Backoff != nil {
		out.Backoff = *p.Backoff
	}
	if p.Mode != nil {
		out.Mode = *p.Mode
	}
	if p.RetryOn != nil {
		out.RetryOn = append([]Reason(nil), p.RetryOn...)
	}
	return out.normalized()
}

// Patches keys policy patches by adapter kind.
type Patches map[adapter.Kind]Patch

// Merge deep-merges override into p per kind; override leaves win.
func (p Patches) Merge(override Patches) Patches {
	if len(p) == 0 && len(override) == 0 {
		return nil
	}
	out := make(Patches, len(p)+len(override))
	for kind, patch := range p {
		out[kind] = Patch{}.Merge(patch)
	}
	for kind, patch := range override {
		out[kind] = out[kind].Merge(patch)
	}
	return out
}

// Attempts returns a pointer for Patch.MaxAttempts.
func Attempts(n int) *int { return &n }

// Delay returns a pointer for Patch.Backoff.
func Delay(d time.Duration) *time.Duration { return &d }

// As returns a pointer for Patch.Mode.
func As(mode Mode) *Mode { return &mode }
