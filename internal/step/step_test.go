package step

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/kingrea/lattice-recipes/internal/diag"
)

func noop(context.Context, *Context) error { return nil }

func TestPackValidate(t *testing.T) {
	tests := []struct {
		name string
		pack Pack
		msg  string
	}{
		{"ok", Pack{Name: "core", Steps: []Spec{{Name: "a", Apply: noop}}}, ""},
		{"no name", Pack{Steps: []Spec{{Name: "a", Apply: noop}}}, "pack name is required"},
		{"dotted", Pack{Name: "a.b"}, "must not contain"},
		{"no step name", Pack{Name: "core", Steps: []Spec{{Apply: noop}}}, "name is required"},
		{"no apply", Pack{Name: "core", Steps: []Spec{{Name: "a"}}}, "apply function is required"},
		{"bad mode", Pack{Name: "core", Steps: []Spec{{Name: "a", Apply: noop, Mode: "merge"}}}, "unknown mode"},
	}
	for _, tc := range tests {
		err := tc.pack.Validate()
		if tc.msg == "" {
			if err != nil {
				t.Fatalf("%s: unexpected error %v", tc.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tc.msg) {
			t.Fatalf("%s: expected error containing %q, got %v", tc.name, tc.msg, err)
		}
	}
}

func TestQualify(t *testing.T) {
	if got := Qualify("core", "draft"); got != "core.draft" {
		t.Fatalf("unexpected qualified name %s", got)
	}
	if got := Qualify("core", "other.draft"); got != "other.draft" {
		t.Fatalf("qualified names should pass through, got %s", got)
	}
	if got := (Spec{Name: "draft", Pack: "core"}).QualifiedName(); got != "core.draft" {
		t.Fatalf("unexpected spec name %s", got)
	}
}

func TestMinimumCapabilitiesUnion(t *testing.T) {
	packs := []Pack{
		{Name: "a", MinimumCapabilities: []string{"web_search", " model "}},
		{Name: "b", MinimumCapabilities: []string{"model", ""}},
	}
	if got := MinimumCapabilities(packs); !reflect.DeepEqual(got, []string{"model", "web_search"}) {
		t.Fatalf("unexpected minimum capabilities: %v", got)
	}
}

func TestStateRoundTripAndClone(t *testing.T) {
	state := State{"n": 1, "nested": map[string]any{"k": "v"}}
	clone, err := state.Clone()
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	clone["nested"].(map[string]any)["k"] = "changed"
	if state["nested"].(map[string]any)["k"] != "v" {
		t.Fatalf("clone shares nested values")
	}
	if _, err := (State{"fn": func() {}}).Encode(); err == nil {
		t.Fatalf("expected unserializable state to fail")
	}
	decoded, err := DecodeState(nil)
	if err != nil || len(decoded) != 0 {
		t.Fatalf("empty payload should decode to empty state: %v %v", decoded, err)
	}
}

func TestContextBindings(t *testing.T) {
	var reported diag.Entries
	var traced []string
	var rollbacks []Rollback
	sc := NewContext(Binding{
		Step:     "core.a",
		Index:    2,
		Report:   func(e ...diag.Entry) { reported = append(reported, e...) },
		Trace:    func(name string, _ map[string]any) { traced = append(traced, name) },
		Rollback: func(rb Rollback) { rollbacks = append(rollbacks, rb) },
	})
	if sc.State() == nil || sc.Index() != 2 || sc.Step() != "core.a" {
		t.Fatalf("unexpected context: step=%s index=%d", sc.Step(), sc.Index())
	}
	sc.Report(diag.Warn("k", "m"))
	sc.Trace("custom", nil)
	sc.OnRollback("undo", func(context.Context) error { return nil })
	sc.OnRollback("ignored", nil)
	if len(reported) != 1 || len(traced) != 1 || len(rollbacks) != 1 || rollbacks[0].Step != "core.a" {
		t.Fatalf("bindings not invoked: %d %d %d", len(reported), len(traced), len(rollbacks))
	}
	sc.Pause(Directive{Reason: "first"})
	sc.Pause(Directive{Reason: "second", Strategy: StrategyRestart})
	if d := sc.Directive(); d == nil || d.Reason != "second" || d.Strategy != StrategyRestart {
		t.Fatalf("last pause should win: %+v", d)
	}
	sc.Pause(Directive{})
	if sc.Directive().Strategy != StrategyContinue {
		t.Fatalf("default strategy should be continue")
	}
}
