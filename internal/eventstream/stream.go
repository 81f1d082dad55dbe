// Package eventstream surfaces run trace events to observers while a run is
// still executing.
package eventstream

import (
	"context"
	"time"
)

// Result is the delivery status an emitter reports.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	// ResultUnknown means the emitter accepted the event without confirming
	// delivery (for example it was buffered).
	ResultUnknown Result = "unknown"
)

// Worst returns the least favourable of the results. Failure outranks
// unknown, which outranks success.
func Worst(results ...Result) Result {
	worst := ResultSuccess
	for _, r := range results {
		switch r {
		case ResultFailure:
			return ResultFailure
		case ResultUnknown:
			worst = ResultUnknown
		case ResultSuccess:
		default:
			worst = ResultUnknown
		}
	}
	return worst
}

// Event is one trace entry of one run.
type Event struct {
	ID        string         `json:"id"`
	Run       string         `json:"run"`
	Name      string         `json:"name"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

func cloneEvent(e Event) Event {
	if len(e.Data) > 0 {
		data := make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			data[k] = v
		}
		e.Data = data
	}
	return e
}

// Stream receives events one at a time.
type Stream interface {
	Emit(ctx context.Context, event Event) Result
}

// BatchEmitter is implemented by streams that deliver several events at once.
type BatchEmitter interface {
	EmitMany(ctx context.Context, events []Event) Result
}

// StreamFunc adapts a function to Stream.
type StreamFunc func(ctx context.Context, event Event) Result

// Emit calls f.
func (f StreamFunc) Emit(ctx context.Context, event Event) Result {
	if f == nil {
		return ResultUnknown
	}
	return f(ctx, event)
}

// EmitMany delivers events through s, batching when s supports it.
func EmitMany(ctx context.Context, s Stream, events []Event) Result {
	if len(events) == 0 {
		return ResultSuccess
	}
	if batch, ok := s.(BatchEmitter); ok {
		return batch.EmitMany(ctx, events)
	}
	results := make([]Result, 0, len(events))
	for _, event := range events {
		results = append(results, s.Emit(ctx, event))
	}
	return Worst(results...)
}
