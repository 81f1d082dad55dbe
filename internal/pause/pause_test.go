package pause

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/kingrea/lattice-recipes/internal/step"
)

func TestOrderRunsOrphansFirstThenNewestFirst(t *testing.T) {
	records := []RollbackRecord{
		{Seq: 0, Step: "demo.alpha", Name: "alpha-first"},
		{Seq: 1, Step: "demo.alpha", Name: "alpha-second"},
		{Seq: 2, Step: "demo.orphan", Name: "orphan"},
	}
	ordered := Order(records, []string{"demo.alpha", "demo.alpha"})
	var names []string
	for _, record := range ordered {
		names = append(names, record.Name)
	}
	want := []string{"orphan", "alpha-second", "alpha-first"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("unexpected rollback order: got %v want %v", names, want)
	}
}

func TestReplayUsesClosuresThenHandlers(t *testing.T) {
	var ran []string
	snapshot := Snapshot{
		Token: "tok",
		Rollbacks: []RollbackRecord{
			{Seq: 0, Step: "p.a", Name: "closure"},
			{Seq: 1, Step: "p.a", Name: "named"},
			{Seq: 2, Step: "p.a", Name: "ghost"},
			{Seq: 3, Step: "p.a", Name: "explodes"},
		},
		Committed: []string{"p.a"},
	}
	closures := map[int]step.RollbackFunc{
		0: func(context.Context) error { ran = append(ran, "closure"); return nil },
		3: func(context.Context) error { panic("kaboom") },
	}
	handlers := map[string]Handler{
		"named": func(_ context.Context, record RollbackRecord, snap Snapshot) error {
			ran = append(ran, record.Name+"@"+snap.Token)
			return errors.New("undo failed")
		},
	}
	results := Replay(context.Background(), snapshot, closures, handlers)
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if !reflect.DeepEqual(ran, []string{"named@tok", "closure"}) {
		t.Fatalf("unexpected execution order: %v", ran)
	}
	if results[0].Record.Name != "explodes" || results[0].Err == nil {
		t.Fatalf("panicking rollback should surface as error: %+v", results[0])
	}
	if !results[1].Missing {
		t.Fatalf("ghost rollback should be reported missing: %+v", results[1])
	}
	if results[2].Err == nil || results[3].Err != nil {
		t.Fatalf("unexpected errors: %+v", results)
	}
}

func TestLedgerTakeRemovesEntries(t *testing.T) {
	ledger := NewLedger(0)
	ledger.Put("tok", map[int]step.RollbackFunc{0: func(context.Context) error { return nil }})
	ledger.Put("empty", nil)
	if ledger.Len() != 1 {
		t.Fatalf("expected one entry, got %d", ledger.Len())
	}
	if got := ledger.Take("tok"); len(got) != 1 {
		t.Fatalf("expected closures back, got %v", got)
	}
	if got := ledger.Take("tok"); got != nil {
		t.Fatalf("second take should be empty")
	}
}

func TestLedgerEvictsOldestAndForgets(t *testing.T) {
	noop := map[int]step.RollbackFunc{0: func(context.Context) error { return nil }}
	ledger := NewLedger(2)
	ledger.Put("a", noop)
	ledger.Put("b", noop)
	ledger.Put("c", noop)
	if ledger.Len() != 2 {
		t.Fatalf("expected the limit to hold, got %d", ledger.Len())
	}
	if got := ledger.Take("a"); got != nil {
		t.Fatalf("oldest token should have been evicted")
	}
	ledger.Forget("b")
	if got := ledger.Take("b"); got != nil {
		t.Fatalf("forgotten token should be gone")
	}
	ledger.Put("d", noop)
	ledger.Put("e", noop)
	if ledger.Len() != 2 || ledger.Take("c") != nil || ledger.Take("e") == nil {
		t.Fatalf("unexpected ledger contents after eviction")
	}
}

func TestSnapshotRoundTripAndValidate(t *testing.T) {
	state := step.State{"answer": "42"}
	raw, err := state.Encode()
	if err != nil {
		t.Fatalf("encode state: %v", err)
	}
	snap := Snapshot{
		Token:      NewToken(),
		Kind:       KindUser,
		Strategy:   step.StrategyContinue,
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		StageIndex: 1,
		State:      raw,
		Committed:  []string{"p.a", "p.b"},
	}
	if err := snap.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	restored, err := step.DecodeState(decoded.State)
	if err != nil || restored["answer"] != "42" {
		t.Fatalf("state not preserved: %v %v", restored, err)
	}
	bad := snap
	bad.Kind = "other"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected unknown kind to fail validation")
	}
}

func TestMergeInputResumer(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want step.State
	}{
		{name: "flat", want: step.State{"draft": "v1", "approved": true}},
		{name: "namespaced", key: "resume", want: step.State{"draft": "v1", "resume": map[string]any{"approved": true}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			state, err := MergeInput{Key: tc.key}.Resolve(context.Background(), ResolveRequest{
				State: step.State{"draft": "v1"},
				Input: map[string]any{"approved": true},
			})
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if !reflect.DeepEqual(state, tc.want) {
				t.Fatalf("unexpected state: %v", state)
			}
		})
	}
}
