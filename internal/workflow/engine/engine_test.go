package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/kingrea/lattice-recipes/internal/adapter"
	"github.com/kingrea/lattice-recipes/internal/capability"
	"github.com/kingrea/lattice-recipes/internal/diag"
	"github.com/kingrea/lattice-recipes/internal/eventstream"
	"github.com/kingrea/lattice-recipes/internal/plugin"
	"github.com/kingrea/lattice-recipes/internal/recipe"
	"github.com/kingrea/lattice-recipes/internal/retry"
	"github.com/kingrea/lattice-recipes/internal/step"
)

func TestRunExecutesStepsInPlanOrder(t *testing.T) {
	h := New("ordering", WithClock(fixedClock)).Use(
		packPlugin("core", step.Pack{Name: "core", Steps: []step.Spec{
			{Name: "finish", DependsOn: []string{"prepare", "extra.enrich"}, Apply: appendOrder("core.finish")},
			{Name: "prepare", Apply: appendOrder("core.prepare")},
		}}),
		packPlugin("extra", step.Pack{Name: "extra", Steps: []step.Spec{
			{Name: "enrich", DependsOn: []string{"core.prepare"}, Apply: appendOrder("extra.enrich")},
		}}),
	)
	out := h.Run(context.Background(), nil, Overrides{})
	if !out.OK() {
		t.Fatalf("expected ok outcome, got %s: %v", out.Status, out.Err)
	}
	want := []any{"core.prepare", "extra.enrich", "core.finish"}
	if !reflect.DeepEqual(out.Artifact["order"], want) {
		t.Fatalf("unexpected order: %v", out.Artifact["order"])
	}
	if out.RunID == "" {
		t.Fatalf("expected run id")
	}
	names := eventNames(out.Trace)
	if names[0] != "plan.compiled" || names[1] != "run.started" || names[len(names)-1] != "run.completed" {
		t.Fatalf("unexpected trace: %v", names)
	}
	if len(out.Diagnostics) != 0 {
		t.Fatalf("expected no diagnostics, got %+v", out.Diagnostics)
	}
}

func TestBuildFailsOnCompilerErrors(t *testing.T) {
	h := New("broken").Use(packPlugin("loop", step.Pack{Name: "loop", Steps: []step.Spec{
		{Name: "a", DependsOn: []string{"b"}, Apply: set("a", 1)},
		{Name: "b", DependsOn: []string{"a"}, Apply: set("b", 1)},
	}}))
	_, err := h.Build()
	if !errors.Is(err, ErrInvalidPlan) {
		t.Fatalf("expected invalid plan, got %v", err)
	}
	var buildErr *BuildError
	if !errors.As(err, &buildErr) || len(buildErr.Diagnostics.OfKind(diag.KindStepDependencyCycle)) != 1 {
		t.Fatalf("expected cycle diagnostic, got %v", err)
	}
	out := h.Run(context.Background(), nil, Overrides{})
	if !out.Failed() || !errors.Is(out.Err, ErrInvalidPlan) {
		t.Fatalf("expected error outcome, got %s", out.Status)
	}
	if len(out.Diagnostics.OfKind(diag.KindStepDependencyCycle)) != 1 || !hasEvent(out.Trace, "run.failed") {
		t.Fatalf("expected diagnostics and trace on build failure: %+v", out)
	}
}

func TestUnknownRecipeFailsBuild(t *testing.T) {
	_, err := New("missing", WithRecipes(recipe.NewRegistry())).Build()
	var buildErr *BuildError
	if !errors.As(err, &buildErr) || len(buildErr.Diagnostics.OfKind(diag.KindRecipeUnknown)) != 1 {
		t.Fatalf("expected recipe_unknown, got %v", err)
	}
}

func TestDefaultPluginsResolveFromRegistry(t *testing.T) {
	recipes := recipe.NewRegistry()
	recipes.MustRegister(recipe.Contract{Name: "chat", DefaultPlugins: []string{"base"}})
	plugins := plugin.NewRegistry()
	plugins.MustRegister("base", func(cfg plugin.Config) (plugin.Plugin, error) {
		return packPlugin("", step.Pack{Name: "base", Steps: []step.Spec{
			{Name: "greet", Apply: set("greeting", cfg["greeting"])},
		}}), nil
	})
	h := New("chat", WithRecipes(recipes), WithPluginRegistry(plugins, plugin.Config{"greeting": "hi"}))
	rt := build(t, h)
	out := rt.Run(context.Background(), nil, Overrides{})
	if !out.OK() || out.Artifact["greeting"] != "hi" {
		t.Fatalf("default plugin did not run: %+v", out)
	}
	if got := rt.Explain().Plugins; !reflect.DeepEqual(got, []string{"base"}) {
		t.Fatalf("unexpected plugins: %v", got)
	}

	h.Use(packPlugin("base", step.Pack{Name: "base", Steps: []step.Spec{{Name: "greet", Apply: set("greeting", "custom")}}}))
	out = h.Run(context.Background(), nil, Overrides{})
	if out.Artifact["greeting"] != "custom" {
		t.Fatalf("registered plugin should win over the default, got %v", out.Artifact["greeting"])
	}
}

func TestPluginReplacementIsTraced(t *testing.T) {
	h := New("replace").
		Use(packPlugin("p", step.Pack{Name: "first", Steps: []step.Spec{{Name: "a", Apply: set("first", true)}}})).
		Use(packPlugin("p", step.Pack{Name: "second", Steps: []step.Spec{{Name: "a", Apply: set("second", true)}}}))
	out := h.Run(context.Background(), nil, Overrides{})
	if _, ok := out.Artifact["first"]; ok {
		t.Fatalf("replaced plugin should not contribute steps")
	}
	if out.Artifact["second"] != true || !hasEvent(out.Trace, "plugin.replaced") {
		t.Fatalf("expected replacement plugin and trace: %+v", out)
	}
	if !reflect.DeepEqual(h.Plugins(), []string{"p"}) {
		t.Fatalf("unexpected plugin keys: %v", h.Plugins())
	}
}

func TestInvalidPluginFailsBuild(t *testing.T) {
	_, err := New("bad").Use(plugin.Plugin{}).Build()
	var buildErr *BuildError
	if !errors.As(err, &buildErr) || len(buildErr.Diagnostics.OfKind(diag.KindPlanInvalid)) != 1 {
		t.Fatalf("expected plan_invalid, got %v", err)
	}
}

func TestStepErrorsBecomeErrorOutcomes(t *testing.T) {
	tests := []struct {
		name  string
		apply step.Func
	}{
		{"error", func(context.Context, *step.Context) error { return errors.New("boom") }},
		{"panic", func(context.Context, *step.Context) error { panic("kaboom") }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ran := false
			h := New("failing").Use(packPlugin("p", step.Pack{Name: "p", Steps: []step.Spec{
				{Name: "first", Apply: set("first", true)},
				{Name: "explode", DependsOn: []string{"first"}, Apply: tc.apply},
				{Name: "after", DependsOn: []string{"explode"}, Apply: func(context.Context, *step.Context) error {
					ran = true
					return nil
				}},
			}}))
			out := h.Run(context.Background(), nil, Overrides{})
			if !out.Failed() || out.Err == nil {
				t.Fatalf("expected error outcome, got %s", out.Status)
			}
			failed := out.Diagnostics.OfKind(diag.KindStepFailed)
			if len(failed) != 1 || failed[0].Data["step"] != "p.explode" || failed[0].Origin != diag.OriginRun {
				t.Fatalf("unexpected diagnostics: %+v", out.Diagnostics)
			}
			if ran {
				t.Fatalf("steps after a failure must not run")
			}
			if out.Artifact["first"] != true {
				t.Fatalf("expected partial artefact, got %v", out.Artifact)
			}
			if !hasEvent(out.Trace, "run.failed") {
				t.Fatalf("expected run.failed trace")
			}
		})
	}
}

func TestRetryExhaustionInThrowMode(t *testing.T) {
	model := &scriptedModel{failures: 5, text: "never"}
	h := New("retry", WithSleeper(noSleep)).
		Use(plugin.Plugin{
			Key:      "llm",
			Adapters: adapter.Bundle{Model: model},
			Packs:    []step.Pack{{Name: "chat", Steps: []step.Spec{{Name: "answer", Apply: generate("answer", "hi")}}}},
		}).
		Defaults(Overrides{Retry: retry.Patches{adapter.KindModel: {MaxAttempts: retry.Attempts(3)}}})
	out := h.Run(context.Background(), nil, Overrides{})
	if !out.Failed() {
		t.Fatalf("expected error outcome, got %s", out.Status)
	}
	if model.Calls() != 3 {
		t.Fatalf("expected three attempts, got %d", model.Calls())
	}
	exhausted := out.Diagnostics.OfKind(diag.KindRetryExhausted)
	if len(exhausted) != 1 || exhausted[0].Data["attempts"] != 3 {
		t.Fatalf("expected retry_exhausted diagnostic, got %+v", out.Diagnostics)
	}
	var exhaustedErr *retry.ExhaustedError
	if !errors.As(out.Err, &exhaustedErr) {
		t.Fatalf("expected exhausted error, got %v", out.Err)
	}
	retries := 0
	for _, event := range out.Trace {
		if event.Name == "retry.attempt" {
			retries++
		}
	}
	if retries != 3 {
		t.Fatalf("expected a retry trace per failed attempt, got %d", retries)
	}
}

func TestCallRetryOverrideWinsOverDefaults(t *testing.T) {
	model := &scriptedModel{failures: 2, text: "ok"}
	h := New("retry", WithSleeper(noSleep)).
		Use(plugin.Plugin{
			Key:      "llm",
			Adapters: adapter.Bundle{Model: model},
			Packs:    []step.Pack{{Name: "chat", Steps: []step.Spec{{Name: "answer", Apply: generate("answer", "hi")}}}},
		}).
		Defaults(Overrides{Retry: retry.Patches{adapter.KindModel: {MaxAttempts: retry.Attempts(1)}}})
	rt := build(t, h)
	if out := rt.Run(context.Background(), nil, Overrides{}); !out.Failed() {
		t.Fatalf("defaults allow a single attempt, got %s", out.Status)
	}
	model2 := &scriptedModel{failures: 2, text: "ok"}
	out := rt.Run(context.Background(), nil, Overrides{
		Adapters: adapter.Bundle{Model: model2},
		Retry:    retry.Patches{adapter.KindModel: {MaxAttempts: retry.Attempts(3)}},
	})
	if !out.OK() || out.Artifact["answer"] != "ok:hi" {
		t.Fatalf("expected call override to succeed, got %s %v", out.Status, out.Err)
	}
	if model2.Calls() != 3 {
		t.Fatalf("expected overriding model to be called three times, got %d", model2.Calls())
	}
}

func TestStrictModeEscalatesAndHalts(t *testing.T) {
	tests := []struct {
		name   string
		mode   diag.Mode
		status Status
		level  diag.Level
	}{
		{"default", diag.ModeDefault, StatusOK, diag.LevelWarn},
		{"strict", diag.ModeStrict, StatusError, diag.LevelError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ran := false
			h := New("search", WithDiagnosticsMode(tc.mode)).Use(packPlugin("p", step.Pack{
				Name:                "p",
				MinimumCapabilities: []string{"web_search"},
				Steps: []step.Spec{{Name: "search", Apply: func(context.Context, *step.Context) error {
					ran = true
					return nil
				}}},
			}))
			out := h.Run(context.Background(), nil, Overrides{})
			if out.Status != tc.status {
				t.Fatalf("expected %s, got %s", tc.status, out.Status)
			}
			missing := out.Diagnostics.OfKind(diag.KindRecipeCapabilityMissing)
			if len(missing) != 1 || missing[0].Level != tc.level || missing[0].Origin != diag.OriginBuild {
				t.Fatalf("unexpected diagnostics: %+v", out.Diagnostics)
			}
			if ran == (tc.mode == diag.ModeStrict) {
				t.Fatalf("step ran=%v under %s mode", ran, tc.mode)
			}
		})
	}
}

func TestStrictModeCanBeSelectedPerCall(t *testing.T) {
	h := New("search").Use(packPlugin("p", step.Pack{
		Name:                "p",
		MinimumCapabilities: []string{"web_search"},
		Steps:               []step.Spec{{Name: "search", Apply: set("done", true)}},
	}))
	rt := build(t, h)
	if out := rt.Run(context.Background(), nil, Overrides{}); !out.OK() {
		t.Fatalf("expected ok in default mode, got %s", out.Status)
	}
	if out := rt.Run(context.Background(), nil, Overrides{DiagnosticsMode: Mode(diag.ModeStrict)}); !out.Failed() {
		t.Fatalf("expected strict call to halt, got %s", out.Status)
	}
}

func TestStrictOKOutcomeHasNoDiagnostics(t *testing.T) {
	h := New("inline", WithDiagnosticsMode(diag.ModeStrict)).Use(packPlugin("p", step.Pack{Name: "p", Steps: []step.Spec{
		{Name: "warn", Apply: func(_ context.Context, sc *step.Context) error {
			sc.Report(diag.Warn("custom", "something odd"))
			return nil
		}},
		{Name: "next", DependsOn: []string{"warn"}, Apply: set("next", true)},
	}}))
	out := h.Run(context.Background(), nil, Overrides{})
	if out.OK() {
		t.Fatalf("strict run with an escalated warning must not be ok")
	}
	if _, ok := out.Artifact["next"]; ok {
		t.Fatalf("strict mode should halt at the next step boundary")
	}
	if out.Diagnostics[0].Level != diag.LevelError {
		t.Fatalf("expected escalated entry, got %+v", out.Diagnostics[0])
	}
}

func TestAdapterReportsFlowIntoDiagnostics(t *testing.T) {
	h := New("inline").Use(packPlugin("p", step.Pack{Name: "p", Steps: []step.Spec{
		{Name: "call", Apply: func(ctx context.Context, _ *step.Context) error {
			adapter.Report(ctx, diag.Warn("adapter_note", "slow response"))
			return nil
		}},
	}}))
	out := h.Run(context.Background(), nil, Overrides{})
	notes := out.Diagnostics.OfKind("adapter_note")
	if !out.OK() || len(notes) != 1 || notes[0].Origin != diag.OriginRun {
		t.Fatalf("expected adapter diagnostic, got %+v", out.Diagnostics)
	}
}

func TestCapabilitiesReflectProvidersAndOverrides(t *testing.T) {
	h := New("caps").Use(
		plugin.Plugin{
			Key:          "openai",
			Capabilities: capability.Set{"json_mode": capability.Enabled(true)},
			Providers: []capability.Provider{{
				ID: "gpt", Construct: adapter.KindModel, Capabilities: []string{"json_mode"}, Instance: &scriptedModel{text: "gpt"},
			}},
			Requirements: []capability.Requirement{{Construct: adapter.KindModel, Capabilities: []string{"json_mode"}, Required: true}},
		},
		plugin.Plugin{Key: "search", Capabilities: capability.Set{"retriever": capability.Enabled(true)}},
	)
	rt := build(t, h)
	snapshot := rt.Capabilities(Overrides{})
	if !snapshot.Declared.Has("retriever") || snapshot.Resolved.Has("retriever") {
		t.Fatalf("retriever is declared but unresolved: %+v", snapshot)
	}
	if !snapshot.Resolved.Has("json_mode") {
		t.Fatalf("expected json_mode resolved: %+v", snapshot.Resolved)
	}
	snapshot = rt.Capabilities(Overrides{Adapters: adapter.Bundle{Retriever: retrieverFunc(nil)}})
	if !snapshot.Resolved.Has("retriever") {
		t.Fatalf("override retriever should resolve the capability: %+v", snapshot.Resolved)
	}
	explain := rt.Explain()
	if explain.Providers[adapter.KindModel] != "gpt" {
		t.Fatalf("expected gpt provider, got %v", explain.Providers)
	}
}

type retrieverFunc func(ctx context.Context, query string) ([]adapter.Document, error)

func (f retrieverFunc) Retrieve(ctx context.Context, query string) ([]adapter.Document, error) {
	if f == nil {
		return nil, nil
	}
	return f(ctx, query)
}

func TestMissingRequiredProviderIsReported(t *testing.T) {
	h := New("needs-model").Use(plugin.Plugin{
		Key:          "p",
		Requirements: []capability.Requirement{{Construct: adapter.KindModel, Required: true}},
		Packs:        []step.Pack{{Name: "p", Steps: []step.Spec{{Name: "answer", Apply: generate("answer", "hi")}}}},
	})
	rt := build(t, h)
	out := rt.Run(context.Background(), nil, Overrides{})
	missing := out.Diagnostics.OfKind(diag.KindConstructCapabilityMissed)
	if len(missing) != 1 || missing[0].Level != diag.LevelError {
		t.Fatalf("expected construct_capability_missing error, got %+v", out.Diagnostics)
	}
	if !out.Failed() {
		t.Fatalf("step without a model should fail, got %s", out.Status)
	}
	out = rt.Run(context.Background(), nil, Overrides{Adapters: adapter.Bundle{Model: &scriptedModel{text: "late"}}})
	if !out.OK() || out.Artifact["answer"] != "late:hi" {
		t.Fatalf("adapter override should satisfy the requirement: %s %+v", out.Status, out.Diagnostics)
	}
	if len(out.Diagnostics) != 0 {
		t.Fatalf("expected no diagnostics with override, got %+v", out.Diagnostics)
	}
}

func TestEventStreamReceivesTrace(t *testing.T) {
	rec := eventstream.NewRecorder()
	h := New("stream", WithEventStream(rec)).Use(packPlugin("p", step.Pack{Name: "p", Steps: []step.Spec{
		{Name: "a", Apply: set("a", 1)},
	}}))
	out := h.Run(context.Background(), nil, Overrides{})
	events := rec.Events()
	if len(events) != len(out.Trace) {
		t.Fatalf("expected every trace event streamed: %d vs %d", len(events), len(out.Trace))
	}
	for i, event := range events {
		if event.Run != out.RunID || event.Name != out.Trace[i].Name || event.ID == "" {
			t.Fatalf("unexpected streamed event %d: %+v", i, event)
		}
	}
}

func TestEventStreamFailuresBecomeWarnings(t *testing.T) {
	failing := eventstream.StreamFunc(func(context.Context, eventstream.Event) eventstream.Result {
		return eventstream.ResultFailure
	})
	h := New("stream", WithEventStream(failing)).Use(packPlugin("p", step.Pack{Name: "p", Steps: []step.Spec{
		{Name: "a", Apply: set("a", 1)},
	}}))
	out := h.Run(context.Background(), nil, Overrides{})
	if !out.OK() {
		t.Fatalf("stream failures must not fail the run, got %s", out.Status)
	}
	warnings := out.Diagnostics.OfKind(diag.KindEventStreamFailed)
	if len(warnings) != len(out.Trace) || warnings[0].Level != diag.LevelWarn {
		t.Fatalf("expected one warning per undelivered event, got %d for %d events", len(warnings), len(out.Trace))
	}
}

func TestCanceledContextStopsBeforeSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := New("cancel").Use(packPlugin("p", step.Pack{Name: "p", Steps: []step.Spec{{Name: "a", Apply: set("a", 1)}}}))
	out := h.Run(ctx, nil, Overrides{})
	if !out.Failed() || !errors.Is(out.Err, context.Canceled) {
		t.Fatalf("expected canceled error outcome, got %s %v", out.Status, out.Err)
	}
	if _, ok := out.Artifact["a"]; ok {
		t.Fatalf("no step should run after cancellation")
	}
}

func TestExplainDescribesPlan(t *testing.T) {
	recipes := recipe.NewRegistry()
	recipes.MustRegister(recipe.Contract{Name: "rag", ArtifactKeys: []string{"answer"}})
	h := New("rag", WithRecipes(recipes)).Use(packPlugin("p", step.Pack{Name: "p", Steps: []step.Spec{
		{Name: "retrieve", Apply: set("docs", 1)},
		{Name: "answer", DependsOn: []string{"retrieve"}, Priority: 5, Apply: set("answer", "x")},
	}}))
	rt := build(t, h)
	explain := rt.Explain()
	if explain.Recipe.Name != "rag" || explain.Fingerprint != rt.Fingerprint() {
		t.Fatalf("unexpected explain header: %+v", explain)
	}
	if len(explain.Steps) != 2 || explain.Steps[1].Name != "p.answer" || explain.Steps[1].Priority != 5 {
		t.Fatalf("unexpected steps: %+v", explain.Steps)
	}
	if !reflect.DeepEqual(explain.Steps[1].DependsOn, []string{"p.retrieve"}) {
		t.Fatalf("expected qualified dependencies, got %v", explain.Steps[1].DependsOn)
	}
	if !reflect.DeepEqual(explain.Packs, []string{"p"}) {
		t.Fatalf("unexpected packs: %v", explain.Packs)
	}
}

func TestStrictRunIgnoresFailedEventDelivery(t *testing.T) {
	failing := eventstream.StreamFunc(func(context.Context, eventstream.Event) eventstream.Result {
		return eventstream.ResultFailure
	})
	h := New("inline", WithDiagnosticsMode(diag.ModeStrict), WithEventStream(failing)).
		Use(packPlugin("p", step.Pack{Name: "p", Steps: []step.Spec{{Name: "only", Apply: set("done", true)}}}))
	out := h.Run(context.Background(), nil, Overrides{})
	if !out.OK() || out.Artifact["done"] != true {
		t.Fatalf("stream failures must not halt a strict run: %s %v %v", out.Status, out.Err, kinds(out.Diagnostics))
	}
	failed := out.Diagnostics.OfKind(diag.KindEventStreamFailed)
	if len(failed) == 0 || failed[0].Level != diag.LevelWarn || out.Diagnostics.HasErrors() {
		t.Fatalf("expected event_stream_failed warnings only, got %+v", out.Diagnostics)
	}
}
