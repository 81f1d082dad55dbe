// Package sessionstore provides reference pause.SessionStore implementations.
package sessionstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/kingrea/lattice-recipes/internal/pause"
)

// Memory keeps snapshots in process memory.
type Memory struct {
	mu        sync.RWMutex
	snapshots map[string]pause.Snapshot
}

var _ pause.SessionStore = (*Memory)(nil)

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{snapshots: map[string]pause.Snapshot{}}
}

// Get returns a copy of the snapshot stored under token.
func (m *Memory) Get(ctx context.Context, token string) (pause.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return pause.Snapshot{}, err
	}
	m.mu.RLock()
	snapshot, ok := m.snapshots[token]
	m.mu.RUnlock()
	if !ok {
		return pause.Snapshot{}, fmt.Errorf("%w: %s", pause.ErrSnapshotNotFound, token)
	}
	return snapshot.Clone()
}

// Set stores a copy of snapshot under token.
func (m *Memory) Set(ctx context.Context, token string, snapshot pause.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clone, err := snapshot.Clone()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[token] = clone
	return nil
}

// Delete removes the snapshot stored under token.
func (m *Memory) Delete(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, token)
	return nil
}

// Len returns the number of stored snapshots.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snapshots)
}
