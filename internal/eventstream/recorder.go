package eventstream

import (
	"context"
	"sync"
)

// Recorder captures events in memory and exposes deterministic snapshots.
type Recorder struct {
	mu     sync.RWMutex
	events []Event
}

var (
	_ Stream       = (*Recorder)(nil)
	_ BatchEmitter = (*Recorder)(nil)
)

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{events: make([]Event, 0)}
}

// Emit records the event.
func (r *Recorder) Emit(ctx context.Context, event Event) Result {
	if ctx != nil && ctx.Err() != nil {
		return ResultFailure
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, cloneEvent(event))
	return ResultSuccess
}

// EmitMany records every event.
func (r *Recorder) EmitMany(ctx context.Context, events []Event) Result {
	if ctx != nil && ctx.Err() != nil {
		return ResultFailure
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range events {
		r.events = append(r.events, cloneEvent(event))
	}
	return ResultSuccess
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Event, len(r.events))
	for i := range r.events {
		out[i] = cloneEvent(r.events[i])
	}
	return out
}

// Names returns the recorded event names in order.
func (r *Recorder) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.events))
	for _, event := range r.events {
		names = append(names, event.Name)
	}
	return names
}
