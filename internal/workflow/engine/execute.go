package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kingrea/lattice-recipes/internal/adapter"
	"github.com/kingrea/lattice-recipes/internal/diag"
	"github.com/kingrea/lattice-recipes/internal/eventstream"
	"github.com/kingrea/lattice-recipes/internal/pause"
	"github.com/kingrea/lattice-recipes/internal/retry"
	"github.com/kingrea/lattice-recipes/internal/step"
)

// execution is the per-call state of one Run or Resume. It is owned by a
// single goroutine except for the collector, which adapters may report into
// concurrently.
type execution struct {
	rt        *Runtime
	runID     string
	mode      diag.Mode
	origin    diag.Origin
	collector *diag.Collector
	adapters  adapter.Bundle
	input     map[string]any
	state     step.State
	committed []string
	rollbacks []pause.RollbackRecord
	closures  map[int]step.RollbackFunc
	nextSeq   int
}

func (r *Runtime) newExecution(ctx context.Context, runID string, call Overrides, origin diag.Origin) *execution {
	x := &execution{
		rt:       r,
		runID:    runID,
		mode:     r.executionMode(call),
		origin:   origin,
		closures: map[int]step.RollbackFunc{},
	}
	opts := []diag.CollectorOption{diag.WithClock(r.cfg.clock)}
	if r.cfg.stream != nil {
		opts = append(opts, diag.WithEventHook(x.forward(ctx)))
	}
	x.collector = diag.NewCollector(x.mode, opts...)
	x.collector.SetOrigin(origin)
	x.collector.Report(r.buildDiags...)
	for _, event := range r.buildEvents {
		x.collector.Trace(event.Name, event.Data)
	}
	return x
}

// forward relays trace events to the configured stream. A failed delivery
// becomes a warning; it never stops the run.
func (x *execution) forward(ctx context.Context) func(diag.Event) {
	return func(event diag.Event) {
		result := x.rt.cfg.stream.Emit(ctx, eventstream.Event{
			ID:        uuid.NewString(),
			Run:       x.runID,
			Name:      event.Name,
			Timestamp: event.Timestamp,
			Data:      event.Data,
		})
		if result != eventstream.ResultFailure {
			return
		}
		x.rt.cfg.logger.Warn("event stream delivery failed", "run", x.runID, "event", event.Name)
		x.collector.Note(diag.Warn(diag.KindEventStreamFailed, "event %s was not delivered", event.Name).
			With("event", event.Name))
	}
}

// prepare resolves adapters for this execution and wraps them with the
// effective retry policy. It reports false when strict mode must halt.
func (x *execution) prepare(call Overrides) bool {
	env := x.rt.resolve(call)
	for _, entry := range env.diags {
		x.collector.Report(entry.From(diag.OriginBuild))
	}
	opts := []retry.Option{
		retry.WithLogger(x.rt.cfg.logger),
		retry.WithObserver(x.observeRetry),
	}
	if x.rt.cfg.sleeper != nil {
		opts = append(opts, retry.WithSleeper(x.rt.cfg.sleeper))
	}
	wrapper := retry.NewWrapper(x.rt.defaults.Retry.Merge(call.Retry), opts...)
	x.adapters = retry.WrapBundle(env.bundle, wrapper)
	return !x.halting()
}

func (x *execution) observeRetry(a retry.Attempt) {
	data := map[string]any{
		"kind":    string(a.Call.Kind),
		"method":  a.Call.Method,
		"attempt": a.Number,
		"reason":  string(a.Reason),
		"retried": a.Retried,
	}
	if a.Retried {
		data["delay_ms"] = a.Delay.Milliseconds()
	}
	if a.Err != nil {
		data["error"] = a.Err.Error()
	}
	x.collector.Trace("retry.attempt", data)
}

func (x *execution) halting() bool {
	return x.mode == diag.ModeStrict && x.collector.HasErrors()
}

// execute runs plan steps from start until completion, a pause or a failure.
func (x *execution) execute(ctx context.Context, start int) Outcome {
	steps := x.rt.plan.Steps
	for i := start; i < len(steps); i++ {
		spec := steps[i]
		name := spec.QualifiedName()
		if x.halting() {
			return x.halt("before step " + name)
		}
		if err := ctx.Err(); err != nil {
			x.collector.Report(diag.Error(diag.KindStepFailed, "run stopped before step %s: %v", name, err).
				With("step", name).With("index", i))
			return x.fail(fmt.Errorf("workflow engine: step %s: %w", name, err))
		}
		before, encodeErr := x.state.Encode()
		sc := step.NewContext(step.Binding{
			Step:     name,
			Index:    i,
			Input:    x.input,
			State:    x.state,
			Adapters: x.adapters,
			Report:   x.collector.Report,
			Trace:    x.collector.Trace,
			Rollback: x.register,
		})
		x.collector.Trace("step.started", map[string]any{"step": name, "index": i})
		x.rt.cfg.logger.Debug("step started", "run", x.runID, "step", name, "index", i)
		if err := x.invoke(ctx, spec, sc); err != nil {
			if signal, ok := retry.AsPause(err); ok {
				directive := step.Directive{
					Reason:   "retry",
					Payload:  signal.Request.Payload(),
					Strategy: step.StrategyRestart,
				}
				return x.suspend(i, name, pause.KindSystem, directive, before, encodeErr)
			}
			return x.stepFailed(i, name, err)
		}
		if directive := sc.Directive(); directive != nil {
			return x.suspend(i, name, pause.KindUser, *directive, before, encodeErr)
		}
		x.committed = append(x.committed, name)
		x.collector.Trace("step.completed", map[string]any{"step": name, "index": i})
		x.rt.cfg.logger.Debug("step completed", "run", x.runID, "step", name)
	}
	if x.halting() {
		return x.halt("after the last step")
	}
	data := map[string]any{"steps": len(x.committed)}
	if missing := x.rt.contract.MissingArtifacts(x.state); len(missing) > 0 {
		data["missing_artifacts"] = missing
	}
	x.collector.Trace("run.completed", data)
	x.rt.cfg.logger.Debug("run completed", "recipe", x.rt.contract.Name, "run", x.runID)
	return Outcome{
		Status:      StatusOK,
		RunID:       x.runID,
		Artifact:    x.state,
		Diagnostics: x.collector.Entries(),
		Trace:       x.collector.Events(),
	}
}

func (x *execution) invoke(ctx context.Context, spec step.Spec, sc *step.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step panicked: %v", r)
		}
	}()
	return spec.Apply(adapter.WithReporter(ctx, x.collector), sc)
}

func (x *execution) register(rb step.Rollback) {
	seq := x.nextSeq
	x.nextSeq++
	x.rollbacks = append(x.rollbacks, pause.RollbackRecord{Seq: seq, Step: rb.Step, Name: rb.Name})
	x.closures[seq] = rb.Fn
	x.collector.Trace("rollback.registered", map[string]any{"step": rb.Step, "name": rb.Name, "seq": seq})
}

// suspend turns a pause directive into a snapshot. Continue commits the
// pausing step; restart records the stage before it together with the state
// the step started from.
func (x *execution) suspend(index int, name string, kind pause.Kind, directive step.Directive, before json.RawMessage, encodeErr error) Outcome {
	stage := index
	var state json.RawMessage
	if directive.Strategy == step.StrategyRestart {
		if encodeErr != nil {
			return x.stepFailed(index, name, encodeErr)
		}
		stage = index - 1
		state = before
	} else {
		encoded, err := x.state.Encode()
		if err != nil {
			return x.stepFailed(index, name, err)
		}
		x.committed = append(x.committed, name)
		state = encoded
	}
	token := pause.NewToken()
	snapshot := pause.Snapshot{
		Token:           token,
		RunID:           x.runID,
		Kind:            kind,
		Strategy:        directive.Strategy,
		Reason:          directive.Reason,
		Payload:         directive.Payload,
		CreatedAt:       x.rt.cfg.clock(),
		StageIndex:      stage,
		Step:            name,
		State:           state,
		Input:           cloneInput(x.input),
		Recipe:          x.rt.contract.Name,
		PlanFingerprint: x.rt.fingerprint,
		Committed:       append([]string(nil), x.committed...),
		Rollbacks:       append([]pause.RollbackRecord(nil), x.rollbacks...),
	}
	x.rt.ledger.Put(token, x.closures)
	x.collector.Trace("run.paused", map[string]any{
		"token":       token,
		"step":        name,
		"kind":        string(kind),
		"strategy":    string(directive.Strategy),
		"stage_index": stage,
	})
	x.rt.cfg.logger.Info("run paused", "recipe", x.rt.contract.Name, "run", x.runID, "step", name, "kind", kind, "strategy", directive.Strategy)
	artifact, err := step.DecodeState(state)
	if err != nil {
		artifact = x.state
	}
	return Outcome{
		Status:      StatusPaused,
		RunID:       x.runID,
		Artifact:    artifact,
		Token:       token,
		Snapshot:    &snapshot,
		Diagnostics: x.collector.Entries(),
		Trace:       x.collector.Events(),
	}
}

func (x *execution) stepFailed(index int, name string, err error) Outcome {
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		x.collector.Report(diag.Error(diag.KindRetryExhausted, "%s %s gave up after %d attempts",
			exhausted.Kind, exhausted.Method, exhausted.Attempts).
			With("construct", string(exhausted.Kind)).
			With("method", exhausted.Method).
			With("attempts", exhausted.Attempts).
			With("reason", string(exhausted.Reason)).
			With("step", name))
	}
	x.collector.Report(diag.Error(diag.KindStepFailed, "step %s failed: %v", name, err).
		With("step", name).With("index", index))
	return x.fail(fmt.Errorf("workflow engine: step %s: %w", name, err))
}

func (x *execution) halt(where string) Outcome {
	return x.fail(fmt.Errorf("workflow engine: strict diagnostics halted %s %s", x.rt.contract.Name, where))
}

func (x *execution) fail(err error) Outcome {
	x.collector.Trace("run.failed", map[string]any{"error": err.Error()})
	x.rt.cfg.logger.Warn("run failed", "recipe", x.rt.contract.Name, "run", x.runID, "error", err)
	return Outcome{
		Status:      StatusError,
		RunID:       x.runID,
		Artifact:    x.state,
		Err:         err,
		Diagnostics: x.collector.Entries(),
		Trace:       x.collector.Events(),
	}
}
