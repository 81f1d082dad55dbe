package engine

import (
	"context"
	"fmt"

	"github.com/kingrea/lattice-recipes/internal/diag"
	"github.com/kingrea/lattice-recipes/internal/pause"
	"github.com/kingrea/lattice-recipes/internal/step"
)

// Status is the terminal state of one execution.
type Status string

const (
	StatusOK     Status = "ok"
	StatusPaused Status = "paused"
	StatusError  Status = "error"
)

// Outcome is the single result of Run or Resume. Diagnostics and Trace are
// always populated, whatever the status.
type Outcome struct {
	Status   Status
	RunID    string
	Artifact step.State
	// Token and Snapshot are set when Status is paused.
	Token    string
	Snapshot *pause.Snapshot
	// Err is set when Status is error.
	Err         error
	Diagnostics diag.Entries
	Trace       []diag.Event
}

// OK reports a completed execution.
func (o Outcome) OK() bool { return o.Status == StatusOK }

// Paused reports a suspended execution.
func (o Outcome) Paused() bool { return o.Status == StatusPaused }

// Failed reports an execution that ended in error.
func (o Outcome) Failed() bool { return o.Status == StatusError }

// Persist stores the pause snapshot under its token. The engine never
// persists snapshots itself.
func (o Outcome) Persist(ctx context.Context, store pause.SessionStore) error {
	if o.Status != StatusPaused || o.Snapshot == nil {
		return fmt.Errorf("workflow engine: outcome %s has no snapshot to persist", o.Status)
	}
	if store == nil {
		return fmt.Errorf("workflow engine: session store is required")
	}
	return store.Set(ctx, o.Token, *o.Snapshot)
}
