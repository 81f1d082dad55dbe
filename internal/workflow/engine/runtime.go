package engine

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/kingrea/lattice-recipes/internal/adapter"
	"github.com/kingrea/lattice-recipes/internal/capability"
	"github.com/kingrea/lattice-recipes/internal/diag"
	"github.com/kingrea/lattice-recipes/internal/pause"
	"github.com/kingrea/lattice-recipes/internal/plugin"
	"github.com/kingrea/lattice-recipes/internal/recipe"
	"github.com/kingrea/lattice-recipes/internal/step"
	"github.com/kingrea/lattice-recipes/internal/workflow"
)

const (
	overrideProvider = "call-override"
	defaultProvider  = "handle-default"
)

// Runtime executes one compiled recipe. The plan is fixed at Build; the
// capability snapshot and adapter bundle are recomputed on every execution.
// A Runtime is safe for concurrent Run calls.
type Runtime struct {
	cfg         settings
	contract    recipe.Contract
	plan        workflow.Plan
	fingerprint string
	plugins     plugin.List
	defaults    Overrides
	minimum     []string
	buildDiags  diag.Entries
	buildEvents []diag.Event
	ledger      *pause.Ledger
}

// Recipe returns the recipe contract the runtime was built for.
func (r *Runtime) Recipe() recipe.Contract {
	return r.contract.Clone()
}

// Plan returns a copy of the compiled plan.
func (r *Runtime) Plan() workflow.Plan {
	return r.plan.Clone()
}

// Fingerprint identifies the compiled plan. Snapshots taken against a
// different fingerprint cannot be resumed.
func (r *Runtime) Fingerprint() string {
	return r.fingerprint
}

// Forget releases the in-memory rollback closures of a paused run that will
// not be resumed. Call it alongside deleting the snapshot from the store.
func (r *Runtime) Forget(token string) {
	r.ledger.Forget(token)
}

// Run executes the plan from the first step.
func (r *Runtime) Run(ctx context.Context, input map[string]any, overrides Overrides) Outcome {
	if ctx == nil {
		ctx = context.Background()
	}
	x := r.newExecution(ctx, uuid.NewString(), overrides, diag.OriginRun)
	x.collector.Trace("run.started", map[string]any{
		"recipe": r.contract.Name,
		"run":    x.runID,
		"steps":  r.plan.Len(),
	})
	if !x.prepare(overrides) {
		return x.halt("before the first step")
	}
	x.input = cloneInput(input)
	x.state = step.State{}
	r.cfg.logger.Debug("run started", "recipe", r.contract.Name, "run", x.runID)
	return x.execute(ctx, 0)
}

// Capabilities reports declared and resolved capabilities for the given
// overrides without executing anything.
func (r *Runtime) Capabilities(overrides Overrides) capability.Snapshot {
	env := r.resolve(overrides)
	return capability.NewSnapshot(env.declared, env.bundle)
}

// ExplainedStep describes one plan entry.
type ExplainedStep struct {
	Index     int       `json:"index"`
	Name      string    `json:"name"`
	Pack      string    `json:"pack"`
	DependsOn []string  `json:"depends_on,omitempty"`
	Priority  int       `json:"priority,omitempty"`
	Mode      step.Mode `json:"mode,omitempty"`
}

// Explanation is a static description of a runtime.
type Explanation struct {
	Recipe       recipe.Contract         `json:"recipe"`
	Fingerprint  string                  `json:"fingerprint"`
	Plugins      []string                `json:"plugins"`
	Packs        []string                `json:"packs"`
	Steps        []ExplainedStep         `json:"steps"`
	Capabilities capability.Snapshot     `json:"capabilities"`
	Providers    map[adapter.Kind]string `json:"providers,omitempty"`
	Diagnostics  diag.Entries            `json:"diagnostics,omitempty"`
}

// Explain describes the compiled plan and what the handle defaults resolve
// to. It never runs a step.
func (r *Runtime) Explain() Explanation {
	env := r.resolve(Overrides{})
	steps := make([]ExplainedStep, 0, r.plan.Len())
	for i, spec := range r.plan.Steps {
		steps = append(steps, ExplainedStep{
			Index:     i,
			Name:      spec.QualifiedName(),
			Pack:      spec.Pack,
			DependsOn: append([]string(nil), spec.DependsOn...),
			Priority:  spec.Priority,
			Mode:      spec.Mode,
		})
	}
	diags := r.buildDiags.Clone()
	diags = append(diags, diag.ApplyMode(env.diags, r.executionMode(Overrides{}))...)
	return Explanation{
		Recipe:       r.contract.Clone(),
		Fingerprint:  r.fingerprint,
		Plugins:      r.plugins.Keys(),
		Packs:        append([]string(nil), r.plan.Packs...),
		Steps:        steps,
		Capabilities: capability.NewSnapshot(env.declared, env.bundle),
		Providers:    env.providers,
		Diagnostics:  diags,
	}
}

type environment struct {
	declared  capability.Set
	bundle    adapter.Bundle
	providers map[adapter.Kind]string
	diags     diag.Entries
}

// resolve rebuilds capabilities and the adapter bundle. Adapter overrides
// act as pinned selections: call adapters at override level, handle adapters
// at default level.
func (r *Runtime) resolve(call Overrides) environment {
	adapters := r.defaults.Adapters.Merge(call.Adapters)
	decls := r.plugins.Declarations()
	if len(adapters.Present()) > 0 {
		decls = append(decls, capability.Declaration{Source: "overrides", Adapters: adapters})
	}
	declared := capability.Build(decls...)

	overrides := call.Selections.Merge(adapterChoices(call.Adapters, overrideProvider))
	defaults := r.defaults.Selections.Merge(adapterChoices(r.defaults.Adapters, defaultProvider))
	bundle, resolutions, diags := capability.ResolveBundle(r.plugins.Requirements(), r.plugins.Providers(), overrides, defaults)

	providers := make(map[adapter.Kind]string, len(resolutions))
	for kind, resolution := range resolutions {
		providers[kind] = resolution.ProviderID
	}
	resolved := capability.Resolve(declared, bundle)
	diags = append(diags, capability.ValidateAdapterRequirements(bundle, resolved, providers)...)
	for _, name := range resolved.Missing(r.minimum) {
		diags = append(diags, diag.Warn(diag.KindRecipeCapabilityMissing,
			"recipe %s requires capability %s", r.contract.Name, name).
			With("recipe", r.contract.Name).With("capability", name))
	}
	return environment{declared: declared, bundle: bundle, providers: providers, diags: diags}
}

func (r *Runtime) executionMode(call Overrides) diag.Mode {
	switch {
	case call.DiagnosticsMode != nil:
		return diag.ParseMode(string(*call.DiagnosticsMode))
	case r.defaults.DiagnosticsMode != nil:
		return diag.ParseMode(string(*r.defaults.DiagnosticsMode))
	default:
		return r.cfg.mode
	}
}

func adapterChoices(bundle adapter.Bundle, providerID string) capability.Selection {
	present := bundle.Present()
	if len(present) == 0 {
		return nil
	}
	out := make(capability.Selection, len(present))
	for _, kind := range present {
		out[kind] = capability.Choice{ProviderID: providerID, Instance: bundle.Get(kind)}
	}
	return out
}

func cloneInput(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}

func uniqueSorted(values []string) []string {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		if value != "" {
			set[value] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for value := range set {
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}
