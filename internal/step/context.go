package step

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/kingrea/lattice-recipes/internal/adapter"
	"github.com/kingrea/lattice-recipes/internal/diag"
)

// State is the artefact a run accumulates. Values must be JSON-serializable
// so a paused run can be persisted and rehydrated in another process.
type State map[string]any

// Get returns the value stored under key.
func (s State) Get(key string) (any, bool) {
	value, ok := s[key]
	return value, ok
}

// Set stores value under key.
func (s State) Set(key string, value any) {
	s[key] = value
}

// Keys returns the sorted state keys.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s))
	for key := range s {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Encode serializes the state for a pause snapshot.
func (s State) Encode() (json.RawMessage, error) {
	if s == nil {
		return json.RawMessage("{}"), nil
	}
	data, err := json.Marshal(map[string]any(s))
	if err != nil {
		return nil, fmt.Errorf("step: encode state: %w", err)
	}
	return data, nil
}

// DecodeState rehydrates a state encoded by State.Encode.
func DecodeState(data json.RawMessage) (State, error) {
	state := State{}
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("step: decode state: %w", err)
	}
	return state, nil
}

// Clone deep-copies the state through its serialized form.
func (s State) Clone() (State, error) {
	data, err := s.Encode()
	if err != nil {
		return nil, err
	}
	return DecodeState(data)
}

// Strategy tells resume how to treat the step that paused.
type Strategy string

const (
	// StrategyContinue treats the pausing step as committed; resume carries on
	// with the next step.
	StrategyContinue Strategy = "continue"
	// StrategyRestart discards the pausing step's partial effects (running
	// rollbacks) and re-runs it on resume.
	StrategyRestart Strategy = "restart"
)

// Directive asks the executor to suspend the run after the current step.
type Directive struct {
	Reason   string         `json:"reason,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	Strategy Strategy       `json:"strategy,omitempty"`
}

// RollbackFunc undoes a side effect performed by a step.
type RollbackFunc func(ctx context.Context) error

// Rollback pairs a rollback with the step that registered it. Name lets a
// fresh process find a replacement handler when the closure is gone.
type Rollback struct {
	Step string
	Name string
	Fn   RollbackFunc
}

// Binding wires a step Context to the executing run.
type Binding struct {
	Step     string
	Index    int
	Input    map[string]any
	State    State
	Adapters adapter.Bundle
	Report   func(...diag.Entry)
	Trace    func(string, map[string]any)
	Rollback func(Rollback)
}

// Context is handed to every step. It is owned by a single run and must not
// be retained after the step returns.
type Context struct {
	binding   Binding
	directive *Directive
}

// NewContext builds a step context from its run binding.
func NewContext(b Binding) *Context {
	if b.State == nil {
		b.State = State{}
	}
	return &Context{binding: b}
}

// Step returns the qualified name of the executing step.
func (c *Context) Step() string { return c.binding.Step }

// Index returns the plan position of the executing step.
func (c *Context) Index() int { return c.binding.Index }

// Input returns the run input.
func (c *Context) Input() map[string]any { return c.binding.Input }

// State returns the shared run state.
func (c *Context) State() State { return c.binding.State }

// Adapters returns the retry-wrapped adapter bundle for this run.
func (c *Context) Adapters() adapter.Bundle { return c.binding.Adapters }

// Report emits diagnostics into the run.
func (c *Context) Report(entries ...diag.Entry) {
	if c.binding.Report != nil {
		c.binding.Report(entries...)
	}
}

// Trace records a timeline event.
func (c *Context) Trace(name string, data map[string]any) {
	if c.binding.Trace != nil {
		c.binding.Trace(name, data)
	}
}

// OnRollback registers fn to undo a side effect if the run is restarted.
func (c *Context) OnRollback(name string, fn RollbackFunc) {
	if fn == nil || c.binding.Rollback == nil {
		return
	}
	c.binding.Rollback(Rollback{Step: c.binding.Step, Name: name, Fn: fn})
}

// Pause suspends the run once the step returns. The last call wins.
func (c *Context) Pause(d Directive) {
	if d.Strategy == "" {
		d.Strategy = StrategyContinue
	}
	copyDirective := d
	c.directive = &copyDirective
}

// Directive returns the pause directive emitted by the step, if any.
func (c *Context) Directive() *Directive {
	return c.directive
}
