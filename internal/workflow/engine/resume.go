package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kingrea/lattice-recipes/internal/diag"
	"github.com/kingrea/lattice-recipes/internal/pause"
	"github.com/kingrea/lattice-recipes/internal/step"
)

var (
	// ErrResumeNotConfigured is reported when the handle has no resumer or
	// session store.
	ErrResumeNotConfigured = errors.New("workflow engine: resume is not configured")
	// ErrInvalidToken is reported when the store has no usable snapshot.
	ErrInvalidToken = errors.New("workflow engine: invalid resume token")
	// ErrPlanMismatch is reported when a snapshot was taken against another plan.
	ErrPlanMismatch = errors.New("workflow engine: snapshot does not match plan")
)

// Resume continues a paused run. User pauses go through the configured
// Resumer; system pauses re-invoke the step whose adapter call paused.
func (r *Runtime) Resume(ctx context.Context, token string, input map[string]any, overrides Overrides) Outcome {
	if ctx == nil {
		ctx = context.Background()
	}
	snapshot, rejection, err := r.loadSnapshot(ctx, token)
	runID := snapshot.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	x := r.newExecution(ctx, runID, overrides, diag.OriginResume)
	x.collector.Trace("resume.started", map[string]any{"token": token, "run": runID})
	if err != nil {
		x.collector.Report(rejection)
		return x.fail(err)
	}
	if !x.prepare(overrides) {
		return x.halt("before resuming " + snapshot.Step)
	}

	state, err := step.DecodeState(snapshot.State)
	if err != nil {
		x.collector.Report(diag.Error(diag.KindResumeFailed, "snapshot %s state: %v", token, err).With("token", token))
		return x.fail(fmt.Errorf("workflow engine: resume %s: %w", token, err))
	}
	x.input = cloneInput(snapshot.Input)
	x.committed = append([]string(nil), snapshot.Committed...)

	// Resolve before touching rollbacks so a rejected resume leaves the
	// closures in the ledger and the side effects in place.
	if snapshot.Kind == pause.KindSystem {
		x.collector.Trace("resume.retry", map[string]any{"step": snapshot.Step, "token": token})
	} else {
		resolved, err := r.cfg.resumer.Resolve(ctx, pause.ResolveRequest{
			Snapshot: snapshot,
			State:    state,
			Input:    cloneInput(input),
		})
		if err != nil {
			x.state = state
			x.collector.Report(diag.Error(diag.KindResumeFailed, "resolve %s: %v", token, err).
				With("token", token).With("step", snapshot.Step))
			return x.fail(fmt.Errorf("workflow engine: resume %s: %w", token, err))
		}
		if resolved != nil {
			state = resolved
		}
	}

	closures := r.ledger.Take(snapshot.Token)
	if snapshot.Strategy == step.StrategyRestart {
		x.replayRollbacks(ctx, snapshot, closures)
	} else {
		x.rollbacks = append([]pause.RollbackRecord(nil), snapshot.Rollbacks...)
		for _, record := range snapshot.Rollbacks {
			if fn, ok := closures[record.Seq]; ok {
				x.closures[record.Seq] = fn
			}
			if record.Seq >= x.nextSeq {
				x.nextSeq = record.Seq + 1
			}
		}
	}
	x.state = state
	r.cfg.logger.Info("run resumed", "recipe", r.contract.Name, "run", runID, "step", snapshot.Step, "kind", snapshot.Kind)
	return x.execute(ctx, snapshot.StageIndex+1)
}

// loadSnapshot fetches and checks the snapshot for token. On rejection it
// returns the diagnostic to report alongside the error.
func (r *Runtime) loadSnapshot(ctx context.Context, token string) (pause.Snapshot, diag.Entry, error) {
	if r.cfg.resumer == nil || r.cfg.store == nil {
		return pause.Snapshot{}, diag.Error(diag.KindResumeNotConfigured,
			"resume requires a resumer and a session store"), ErrResumeNotConfigured
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return pause.Snapshot{}, diag.Error(diag.KindResumeTokenInvalid, "resume token is empty"), ErrInvalidToken
	}
	snapshot, err := r.cfg.store.Get(ctx, token)
	if err != nil {
		if errors.Is(err, pause.ErrSnapshotNotFound) {
			return pause.Snapshot{}, diag.Error(diag.KindResumeTokenInvalid, "no snapshot for token %s", token).
				With("token", token), fmt.Errorf("%w: %s", ErrInvalidToken, token)
		}
		return pause.Snapshot{}, diag.Error(diag.KindResumeFailed, "load snapshot %s: %v", token, err).
			With("token", token), fmt.Errorf("workflow engine: load snapshot %s: %w", token, err)
	}
	if snapshot.Token == "" {
		snapshot.Token = token
	}
	if err := snapshot.Validate(); err != nil {
		return snapshot, diag.Error(diag.KindResumeTokenInvalid, "%v", err).With("token", token),
			fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if snapshot.PlanFingerprint != r.fingerprint || (snapshot.Recipe != "" && snapshot.Recipe != r.contract.Name) {
		return snapshot, diag.Error(diag.KindResumePlanMismatch,
			"snapshot %s was taken for recipe %s with a different plan", token, snapshot.Recipe).
			With("token", token).
			With("recipe", snapshot.Recipe).
			With("fingerprint", snapshot.PlanFingerprint), ErrPlanMismatch
	}
	if snapshot.StageIndex >= r.plan.Len() {
		return snapshot, diag.Error(diag.KindResumeTokenInvalid,
			"snapshot %s stage %d is outside the plan", token, snapshot.StageIndex).With("token", token), ErrInvalidToken
	}
	return snapshot, diag.Entry{}, nil
}

// replayRollbacks undoes partial side effects before a restart. Failures are
// warnings; remaining rollbacks still run.
func (x *execution) replayRollbacks(ctx context.Context, snapshot pause.Snapshot, closures map[int]step.RollbackFunc) {
	for _, result := range pause.Replay(ctx, snapshot, closures, x.rt.cfg.rollbacks) {
		record := result.Record
		data := map[string]any{"step": record.Step, "name": record.Name, "seq": record.Seq}
		switch {
		case result.Missing:
			x.collector.Note(diag.Warn(diag.KindRollbackUnavailable,
				"no rollback available for %s (%s)", record.Step, record.Name).
				With("step", record.Step).With("name", record.Name))
			x.collector.Trace("rollback.unavailable", data)
		case result.Err != nil:
			x.collector.Note(diag.Warn(diag.KindRollbackFailed,
				"rollback %s for %s failed: %v", record.Name, record.Step, result.Err).
				With("step", record.Step).With("name", record.Name))
			x.rt.cfg.logger.Warn("rollback failed", "run", x.runID, "step", record.Step, "name", record.Name, "error", result.Err)
			x.collector.Trace("rollback.failed", data)
		default:
			x.collector.Trace("rollback.completed", data)
		}
	}
}
