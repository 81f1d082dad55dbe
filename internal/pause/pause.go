// Package pause turns a suspended run into a token plus a persistable
// snapshot, and defines the collaborators resume needs.
package pause

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/lattice-recipes/internal/step"
)

// Kind records who asked for the pause.
type Kind string

const (
	// KindUser pauses come from step logic (for example human approval).
	KindUser Kind = "user"
	// KindSystem pauses are synthesised by the retry wrapper.
	KindSystem Kind = "system"
)

// ErrSnapshotNotFound is returned by stores that have no snapshot for a token.
var ErrSnapshotNotFound = errors.New("pause: snapshot not found")

// RollbackRecord is the persisted description of a registered rollback.
type RollbackRecord struct {
	Seq  int    `json:"seq"`
	Step string `json:"step"`
	Name string `json:"name,omitempty"`
}

// Snapshot is everything needed to resume a run in another process.
type Snapshot struct {
	Token           string           `json:"token"`
	RunID           string           `json:"run_id,omitempty"`
	Kind            Kind             `json:"kind"`
	Strategy        step.Strategy    `json:"strategy"`
	Reason          string           `json:"reason,omitempty"`
	Payload         map[string]any   `json:"payload,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	StageIndex      int              `json:"stage_index"`
	Step            string           `json:"step"`
	State           json.RawMessage  `json:"state"`
	Input           map[string]any   `json:"input,omitempty"`
	Recipe          string           `json:"recipe,omitempty"`
	PlanFingerprint string           `json:"plan_fingerprint"`
	Committed       []string         `json:"committed,omitempty"`
	Rollbacks       []RollbackRecord `json:"rollbacks,omitempty"`
}

// Validate checks the fields resume depends on.
func (s Snapshot) Validate() error {
	if strings.TrimSpace(s.Token) == "" {
		return fmt.Errorf("pause: snapshot token is required")
	}
	switch s.Kind {
	case KindUser, KindSystem:
	default:
		return fmt.Errorf("pause: snapshot %s has unknown kind %q", s.Token, s.Kind)
	}
	switch s.Strategy {
	case step.StrategyContinue, step.StrategyRestart:
	default:
		return fmt.Errorf("pause: snapshot %s has unknown strategy %q", s.Token, s.Strategy)
	}
	if s.StageIndex < -1 {
		return fmt.Errorf("pause: snapshot %s has invalid stage index %d", s.Token, s.StageIndex)
	}
	return nil
}

// Clone returns a deep copy through the JSON form.
func (s Snapshot) Clone() (Snapshot, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return Snapshot{}, fmt.Errorf("pause: clone snapshot: %w", err)
	}
	var out Snapshot
	if err := json.Unmarshal(data, &out); err != nil {
		return Snapshot{}, fmt.Errorf("pause: clone snapshot: %w", err)
	}
	return out, nil
}

// NewToken mints an opaque resume token.
func NewToken() string {
	return uuid.NewString()
}

// SessionStore persists snapshots by token. Implementations own the
// lifecycle; the engine never deletes a snapshot itself.
type SessionStore interface {
	Get(ctx context.Context, token string) (Snapshot, error)
	Set(ctx context.Context, token string, snapshot Snapshot) error
	Delete(ctx context.Context, token string) error
}

// ResolveRequest is handed to a Resumer for user pauses.
type ResolveRequest struct {
	Snapshot Snapshot
	State    step.State
	Input    map[string]any
}

// Resumer merges resume input into the rehydrated run state.
type Resumer interface {
	Resolve(ctx context.Context, req ResolveRequest) (step.State, error)
}

// ResumerFunc adapts a function to Resumer.
type ResumerFunc func(ctx context.Context, req ResolveRequest) (step.State, error)

// Resolve calls f.
func (f ResumerFunc) Resolve(ctx context.Context, req ResolveRequest) (step.State, error) {
	return f(ctx, req)
}

// MergeInput is a Resumer that copies every resume input key into the
// state, optionally under a single namespace key.
type MergeInput struct {
	Key string
}

// Resolve implements Resumer.
func (m MergeInput) Resolve(_ context.Context, req ResolveRequest) (step.State, error) {
	state := req.State
	if state == nil {
		state = step.State{}
	}
	if m.Key != "" {
		values := make(map[string]any, len(req.Input))
		for key, value := range req.Input {
			values[key] = value
		}
		state.Set(m.Key, values)
		return state, nil
	}
	for key, value := range req.Input {
		state.Set(key, value)
	}
	return state, nil
}
