// Package diag collects structured diagnostics and timeline events for a
// recipe run. Every outcome carries both, in step-execution order.
package diag

import (
	"fmt"
	"sync"
	"time"
)

// Level enumerates diagnostic severities.
type Level string

const (
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Origin records which phase produced a diagnostic.
type Origin string

const (
	OriginBuild  Origin = "build"
	OriginRun    Origin = "run"
	OriginResume Origin = "resume"
)

// Mode controls how diagnostics are treated once collected.
type Mode string

const (
	// ModeDefault collects diagnostics without changing them.
	ModeDefault Mode = "default"
	// ModeStrict escalates warnings to errors and halts execution when the
	// build phase produced any error.
	ModeStrict Mode = "strict"
)

// ParseMode normalizes a configured mode string. Unknown values fall back to
// ModeDefault.
func ParseMode(value string) Mode {
	if Mode(value) == ModeStrict {
		return ModeStrict
	}
	return ModeDefault
}

// Diagnostic kinds emitted by the engine.
const (
	KindStepDuplicate             = "step_duplicate"
	KindStepDependencyMissing     = "step_dependency_missing"
	KindStepDependencyCycle       = "step_dependency_cycle"
	KindStepFailed                = "step_failed"
	KindConstructCapabilityMissed = "construct_capability_missing"
	KindConstructProviderConflict = "construct_provider_conflict"
	KindAdapterRequirementMissing = "adapter_requirement_missing"
	KindRecipeCapabilityMissing   = "recipe_capability_missing"
	KindRecipeUnknown             = "recipe_unknown"
	KindRetryExhausted            = "retry_exhausted"
	KindResumeNotConfigured       = "resume_not_configured"
	KindResumeTokenInvalid        = "resume_token_invalid"
	KindResumePlanMismatch        = "resume_plan_mismatch"
	KindResumeFailed              = "resume_failed"
	KindRollbackFailed            = "rollback_failed"
	KindRollbackUnavailable       = "rollback_unavailable"
	KindEventStreamFailed         = "event_stream_failed"
	KindPlanInvalid               = "plan_invalid"
)

// Entry is a single structured diagnostic.
type Entry struct {
	Level   Level          `json:"level"`
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Origin  Origin         `json:"origin,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Warn builds a warn-level entry.
func Warn(kind, format string, args ...any) Entry {
	return Entry{Level: LevelWarn, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Error builds an error-level entry.
func Error(kind, format string, args ...any) Entry {
	return Entry{Level: LevelError, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// With returns a copy of the entry carrying an additional data field.
func (e Entry) With(key string, value any) Entry {
	data := make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data[key] = value
	e.Data = data
	return e
}

// From returns a copy of the entry stamped with an origin.
func (e Entry) From(origin Origin) Entry {
	e.Origin = origin
	return e
}

// Entries is an ordered list of diagnostics.
type Entries []Entry

// HasErrors reports whether any entry is error-level.
func (es Entries) HasErrors() bool {
	for _, entry := range es {
		if entry.Level == LevelError {
			return true
		}
	}
	return false
}

// Errors returns only the error-level entries.
func (es Entries) Errors() Entries {
	var out Entries
	for _, entry := range es {
		if entry.Level == LevelError {
			out = append(out, entry)
		}
	}
	return out
}

// OfKind returns the entries matching kind.
func (es Entries) OfKind(kind string) Entries {
	var out Entries
	for _, entry := range es {
		if entry.Kind == kind {
			out = append(out, entry)
		}
	}
	return out
}

// Clone returns a copy that shares no backing array with es.
func (es Entries) Clone() Entries {
	if len(es) == 0 {
		return nil
	}
	out := make(Entries, len(es))
	copy(out, es)
	return out
}

// ApplyMode returns entries adjusted for mode. Default passes entries through
// unchanged; strict escalates warn-level entries to error-level.
func ApplyMode(entries Entries, mode Mode) Entries {
	out := entries.Clone()
	if mode != ModeStrict {
		return out
	}
	for i := range out {
		if out[i].Level == LevelWarn {
			out[i].Level = LevelError
		}
	}
	return out
}

// Event is a single timeline entry.
type Event struct {
	Name      string         `json:"name"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Collector accumulates diagnostics and trace events for one execution.
// Adapters may report from helper goroutines, so appends are serialized.
type Collector struct {
	mu      sync.Mutex
	mode    Mode
	origin  Origin
	entries Entries
	events  []Event
	clock   func() time.Time
	onEvent func(Event)
}

// CollectorOption customizes a Collector.
type CollectorOption func(*Collector)

// WithClock injects the clock used to stamp trace events.
func WithClock(clock func() time.Time) CollectorOption {
	return func(c *Collector) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithEventHook registers a callback invoked after each trace event is
// recorded, outside the collector lock.
func WithEventHook(hook func(Event)) CollectorOption {
	return func(c *Collector) {
		c.onEvent = hook
	}
}

// NewCollector builds an empty collector operating in mode.
func NewCollector(mode Mode, opts ...CollectorOption) *Collector {
	c := &Collector{mode: mode, origin: OriginRun, clock: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mode returns the diagnostics mode the collector escalates with.
func (c *Collector) Mode() Mode {
	return c.mode
}

// SetOrigin changes the origin stamped onto entries that carry none.
func (c *Collector) SetOrigin(origin Origin) {
	c.mu.Lock()
	c.origin = origin
	c.mu.Unlock()
}

// Report appends entries, applying the collector's mode.
func (c *Collector) Report(entries ...Entry) {
	if len(entries) == 0 {
		return
	}
	adjusted := ApplyMode(entries, c.mode)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range adjusted {
		if entry.Origin == "" {
			entry.Origin = c.origin
		}
		c.entries = append(c.entries, entry)
	}
}

// Note appends entries as reported, without applying the collector's mode.
// It carries engine warnings such as rollback or event-delivery failures,
// which stay warnings under strict mode and never halt a run.
func (c *Collector) Note(entries ...Entry) {
	if len(entries) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range entries {
		if entry.Origin == "" {
			entry.Origin = c.origin
		}
		c.entries = append(c.entries, entry)
	}
}

// Trace records a timeline event.
func (c *Collector) Trace(name string, data map[string]any) {
	event := Event{Name: name, Timestamp: c.clock(), Data: data}
	c.mu.Lock()
	c.events = append(c.events, event)
	hook := c.onEvent
	c.mu.Unlock()
	if hook != nil {
		hook(event)
	}
}

// Entries returns a copy of the collected diagnostics.
func (c *Collector) Entries() Entries {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Clone()
}

// Events returns a copy of the collected trace.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return nil
	}
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// HasErrors reports whether an error-level diagnostic has been collected.
func (c *Collector) HasErrors() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.HasErrors()
}
