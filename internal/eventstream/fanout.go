package eventstream

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Fanout emits every event to all of its streams concurrently and reports
// the worst individual result.
type Fanout struct {
	streams []Stream
}

// NewFanout builds a fan-out over streams, skipping nil entries.
func NewFanout(streams ...Stream) *Fanout {
	f := &Fanout{}
	for _, s := range streams {
		if s != nil {
			f.streams = append(f.streams, s)
		}
	}
	return f
}

// Emit implements Stream.
func (f *Fanout) Emit(ctx context.Context, event Event) Result {
	return f.each(ctx, func(ctx context.Context, s Stream) Result {
		return s.Emit(ctx, cloneEvent(event))
	})
}

// EmitMany implements BatchEmitter.
func (f *Fanout) EmitMany(ctx context.Context, events []Event) Result {
	return f.each(ctx, func(ctx context.Context, s Stream) Result {
		copied := make([]Event, len(events))
		for i, event := range events {
			copied[i] = cloneEvent(event)
		}
		return EmitMany(ctx, s, copied)
	})
}

func (f *Fanout) each(ctx context.Context, emit func(context.Context, Stream) Result) Result {
	if len(f.streams) == 0 {
		return ResultSuccess
	}
	results := make([]Result, len(f.streams))
	var group errgroup.Group
	for i, s := range f.streams {
		i, s := i, s
		group.Go(func() error {
			results[i] = emit(ctx, s)
			return nil
		})
	}
	_ = group.Wait()
	return Worst(results...)
}
