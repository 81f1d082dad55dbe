package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/lattice-recipes/internal/diag"
	"github.com/kingrea/lattice-recipes/internal/eventstream"
	"github.com/kingrea/lattice-recipes/internal/logging"
	"github.com/kingrea/lattice-recipes/internal/pause"
	"github.com/kingrea/lattice-recipes/internal/plugin"
	"github.com/kingrea/lattice-recipes/internal/recipe"
	"github.com/kingrea/lattice-recipes/internal/retry"
	"github.com/kingrea/lattice-recipes/internal/step"
	"github.com/kingrea/lattice-recipes/internal/workflow"
)

// settings are shared by a Handle and every Runtime it builds.
type settings struct {
	mode      diag.Mode
	logger    *slog.Logger
	clock     func() time.Time
	resumer   pause.Resumer
	store     pause.SessionStore
	rollbacks map[string]pause.Handler
	stream    eventstream.Stream
	sleeper   retry.Sleeper
	ledger    int
}

func (s settings) clone() settings {
	out := s
	out.rollbacks = make(map[string]pause.Handler, len(s.rollbacks))
	for name, handler := range s.rollbacks {
		out.rollbacks[name] = handler
	}
	return out
}

// Handle accumulates plugins and defaults for one named recipe. It is safe
// for concurrent use; Build snapshots its current contents.
type Handle struct {
	mu        sync.Mutex
	recipe    string
	recipes   *recipe.Registry
	registry  *plugin.Registry
	pluginCfg plugin.Config
	plugins   plugin.List
	pending   diag.Entries
	events    []diag.Event
	defaults  Overrides
	cfg       settings
}

// Option customizes a Handle.
type Option func(*Handle)

// WithRecipes resolves the handle's recipe name against an explicit registry.
// Without one the recipe carries no contract requirements.
func WithRecipes(registry *recipe.Registry) Option {
	return func(h *Handle) {
		h.recipes = registry
	}
}

// WithPluginRegistry resolves the recipe's default plugins by key.
func WithPluginRegistry(registry *plugin.Registry, cfg plugin.Config) Option {
	return func(h *Handle) {
		h.registry = registry
		h.pluginCfg = cfg
	}
}

// WithLogger injects the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handle) {
		if logger != nil {
			h.cfg.logger = logger
		}
	}
}

// WithDiagnosticsMode sets the default diagnostics mode.
func WithDiagnosticsMode(mode diag.Mode) Option {
	return func(h *Handle) {
		h.cfg.mode = diag.ParseMode(string(mode))
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(h *Handle) {
		if clock != nil {
			h.cfg.clock = clock
		}
	}
}

// WithResume enables Resume with the given resumer and session store.
func WithResume(resumer pause.Resumer, store pause.SessionStore) Option {
	return func(h *Handle) {
		h.cfg.resumer = resumer
		h.cfg.store = store
	}
}

// WithRollbackHandler replays rollbacks registered under name when their
// closures are not available in this process.
func WithRollbackHandler(name string, handler pause.Handler) Option {
	return func(h *Handle) {
		if strings.TrimSpace(name) == "" || handler == nil {
			return
		}
		h.cfg.rollbacks[name] = handler
	}
}

// WithEventStream forwards every trace event to stream as it is recorded.
func WithEventStream(stream eventstream.Stream) Option {
	return func(h *Handle) {
		h.cfg.stream = stream
	}
}

// WithSleeper replaces the retry backoff sleeper.
func WithSleeper(sleeper retry.Sleeper) Option {
	return func(h *Handle) {
		h.cfg.sleeper = sleeper
	}
}

// WithLedgerLimit bounds how many paused runs keep their rollback closures
// in memory. Evicted runs replay rollbacks through named handlers.
func WithLedgerLimit(limit int) Option {
	return func(h *Handle) {
		h.cfg.ledger = limit
	}
}

// New creates a handle for the named recipe.
func New(recipeName string, opts ...Option) *Handle {
	h := &Handle{
		recipe: strings.TrimSpace(recipeName),
		cfg: settings{
			mode:      diag.ModeDefault,
			logger:    logging.Nop(),
			clock:     time.Now,
			rollbacks: map[string]pause.Handler{},
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Recipe returns the recipe name.
func (h *Handle) Recipe() string {
	return h.recipe
}

// Use registers plugins in order. A plugin whose key is already registered
// replaces the earlier one in place. Invalid plugins are reported by Build.
func (h *Handle) Use(plugins ...plugin.Plugin) *Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range plugins {
		if err := p.Validate(); err != nil {
			h.pending = append(h.pending, diag.Error(diag.KindPlanInvalid, "%v", err).
				With("plugin", p.Key).From(diag.OriginBuild))
			continue
		}
		next, replaced := h.plugins.With(p)
		h.plugins = next
		if replaced {
			h.events = append(h.events, diag.Event{
				Name:      "plugin.replaced",
				Timestamp: h.cfg.clock(),
				Data:      map[string]any{"plugin": p.Key},
			})
			h.cfg.logger.Debug("plugin replaced", "recipe", h.recipe, "plugin", p.Key)
		}
	}
	return h
}

// Defaults merges handle-level overrides applied to every execution.
func (h *Handle) Defaults(o Overrides) *Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.defaults = h.defaults.Merge(o)
	return h
}

// Plugins returns the registered plugin keys in order.
func (h *Handle) Plugins() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.plugins.Keys()
}

// Build compiles the accumulated packs into a runtime. Error-level
// diagnostics (after applying the diagnostics mode) fail the build with a
// *BuildError; remaining warnings are replayed into every execution.
func (h *Handle) Build() (*Runtime, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	diags := h.pending.Clone()
	contract, entries := h.contract()
	diags = append(diags, entries...)
	plugins, entries := h.withDefaultPlugins(contract)
	diags = append(diags, entries...)
	packs := plugins.Packs()
	plan, entries := workflow.Compile(packs...)
	diags = append(diags, entries...)

	diags = diag.ApplyMode(diags, h.cfg.mode)
	for i := range diags {
		if diags[i].Origin == "" {
			diags[i].Origin = diag.OriginBuild
		}
	}
	if diags.HasErrors() {
		h.cfg.logger.Warn("recipe build failed", "recipe", h.recipe, "errors", len(diags.Errors()))
		return nil, &BuildError{Recipe: h.recipe, Diagnostics: diags}
	}

	minimum := append([]string(nil), contract.MinimumCapabilities...)
	minimum = append(minimum, step.MinimumCapabilities(packs)...)
	events := append([]diag.Event(nil), h.events...)
	events = append(events, diag.Event{
		Name:      "plan.compiled",
		Timestamp: h.cfg.clock(),
		Data:      map[string]any{"steps": plan.Len(), "packs": len(plan.Packs), "fingerprint": plan.Fingerprint()},
	})
	h.cfg.logger.Debug("recipe built", "recipe", h.recipe, "steps", plan.Len(), "plugins", len(plugins))
	return &Runtime{
		cfg:         h.cfg.clone(),
		contract:    contract,
		plan:        plan,
		fingerprint: plan.Fingerprint(),
		plugins:     plugins,
		defaults:    h.defaults.Merge(Overrides{}),
		minimum:     uniqueSorted(minimum),
		buildDiags:  diags,
		buildEvents: events,
		ledger:      pause.NewLedger(h.cfg.ledger),
	}, nil
}

// Run builds and runs in one call. A build failure becomes an error Outcome.
func (h *Handle) Run(ctx context.Context, input map[string]any, overrides Overrides) Outcome {
	rt, err := h.Build()
	if err != nil {
		h.mu.Lock()
		cfg := h.cfg.clone()
		h.mu.Unlock()
		collector := diag.NewCollector(cfg.mode, diag.WithClock(cfg.clock))
		collector.SetOrigin(diag.OriginBuild)
		var buildErr *BuildError
		if errors.As(err, &buildErr) {
			collector.Report(buildErr.Diagnostics...)
		}
		collector.Trace("run.failed", map[string]any{"error": err.Error()})
		return Outcome{
			Status:      StatusError,
			RunID:       uuid.NewString(),
			Err:         err,
			Diagnostics: collector.Entries(),
			Trace:       collector.Events(),
		}
	}
	return rt.Run(ctx, input, overrides)
}

func (h *Handle) contract() (recipe.Contract, diag.Entries) {
	if h.recipes == nil {
		return recipe.Contract{Name: h.recipe}, nil
	}
	contract, err := h.recipes.Lookup(h.recipe)
	if err != nil {
		return recipe.Contract{Name: h.recipe}, diag.Entries{
			diag.Error(diag.KindRecipeUnknown, "%v", err).With("recipe", h.recipe),
		}
	}
	return contract, nil
}

// withDefaultPlugins places the contract's default plugins ahead of the
// registered ones. A registered plugin with the same key wins.
func (h *Handle) withDefaultPlugins(contract recipe.Contract) (plugin.List, diag.Entries) {
	registered := map[string]struct{}{}
	for _, key := range h.plugins.Keys() {
		registered[key] = struct{}{}
	}
	var list plugin.List
	var diags diag.Entries
	for _, key := range contract.DefaultPlugins {
		if _, ok := registered[key]; ok {
			continue
		}
		if h.registry == nil {
			diags = append(diags, diag.Error(diag.KindPlanInvalid,
				"default plugin %s: no plugin registry configured", key).With("plugin", key))
			continue
		}
		p, err := h.registry.Resolve(key, h.pluginCfg)
		if err != nil {
			diags = append(diags, diag.Error(diag.KindPlanInvalid, "default plugin %s: %v", key, err).With("plugin", key))
			continue
		}
		list, _ = list.With(p)
	}
	for _, p := range h.plugins {
		list, _ = list.With(p)
	}
	return list, diags
}
