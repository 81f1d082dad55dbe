package pause

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kingrea/lattice-recipes/internal/step"
)

// Order returns records in replay order. Rollbacks whose step never reached a
// committed stage run first; the rest follow. Within each group the most
// recently registered rollback runs first.
func Order(records []RollbackRecord, committed []string) []RollbackRecord {
	done := make(map[string]struct{}, len(committed))
	for _, name := range committed {
		done[name] = struct{}{}
	}
	var orphans, rest []RollbackRecord
	for _, record := range records {
		if _, ok := done[record.Step]; ok {
			rest = append(rest, record)
			continue
		}
		orphans = append(orphans, record)
	}
	newestFirst := func(list []RollbackRecord) {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Seq > list[j].Seq })
	}
	newestFirst(orphans)
	newestFirst(rest)
	return append(orphans, rest...)
}

// Handler replays a named rollback when its original closure is no longer
// available, typically after the process that paused has exited.
type Handler func(ctx context.Context, record RollbackRecord, snapshot Snapshot) error

// ReplayResult reports what happened to one rollback.
type ReplayResult struct {
	Record  RollbackRecord
	Err     error
	Missing bool
}

// Replay runs the snapshot's rollbacks in Order. Closures registered in this
// process win; otherwise a handler registered under the rollback's name is
// used. Failures and panics are captured per rollback and never stop the
// remaining ones.
func Replay(ctx context.Context, snapshot Snapshot, closures map[int]step.RollbackFunc, handlers map[string]Handler) []ReplayResult {
	ordered := Order(snapshot.Rollbacks, snapshot.Committed)
	results := make([]ReplayResult, 0, len(ordered))
	for _, record := range ordered {
		result := ReplayResult{Record: record}
		if fn, ok := closures[record.Seq]; ok && fn != nil {
			result.Err = guard(func() error { return fn(ctx) })
		} else if handler, ok := handlers[record.Name]; ok && record.Name != "" && handler != nil {
			result.Err = guard(func() error { return handler(ctx, record, snapshot) })
		} else {
			result.Missing = true
		}
		results = append(results, result)
	}
	return results
}

func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pause: rollback panicked: %v", r)
		}
	}()
	return fn()
}

// DefaultLedgerLimit bounds how many paused runs a Ledger keeps closures for.
const DefaultLedgerLimit = 1024

// Ledger keeps rollback closures of paused runs in memory, keyed by token.
// Only the snapshot's records survive a process restart. Once the limit is
// reached the oldest token is evicted; its rollbacks then replay through
// named handlers like those of a fresh process.
type Ledger struct {
	mu      sync.Mutex
	limit   int
	entries map[string]map[int]step.RollbackFunc
	order   []string
}

// NewLedger builds an empty ledger holding at most limit tokens. A limit
// below one selects DefaultLedgerLimit.
func NewLedger(limit int) *Ledger {
	if limit < 1 {
		limit = DefaultLedgerLimit
	}
	return &Ledger{limit: limit, entries: map[string]map[int]step.RollbackFunc{}}
}

// Put stores closures for token keyed by their registration sequence.
func (l *Ledger) Put(token string, closures map[int]step.RollbackFunc) {
	if len(closures) == 0 {
		return
	}
	copied := make(map[int]step.RollbackFunc, len(closures))
	for seq, fn := range closures {
		copied[seq] = fn
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[token]; ok {
		l.removeLocked(token)
	}
	for len(l.order) >= l.limit {
		delete(l.entries, l.order[0])
		l.order = l.order[1:]
	}
	l.entries[token] = copied
	l.order = append(l.order, token)
}

// Take removes and returns the closures stored for token.
func (l *Ledger) Take(token string) map[int]step.RollbackFunc {
	l.mu.Lock()
	defer l.mu.Unlock()
	closures := l.entries[token]
	l.removeLocked(token)
	return closures
}

// Forget drops the closures stored for token without running them.
func (l *Ledger) Forget(token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeLocked(token)
}

func (l *Ledger) removeLocked(token string) {
	if _, ok := l.entries[token]; !ok {
		return
	}
	delete(l.entries, token)
	for i, existing := range l.order {
		if existing == token {
			l.order = append(l.order[:i:i], l.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of tokens with stored closures.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
