package plugins

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kingrea/lattice-recipes/internal/config"
	"github.com/kingrea/lattice-recipes/internal/pause"
	"github.com/kingrea/lattice-recipes/internal/plugin"
	"github.com/kingrea/lattice-recipes/internal/recipe"
	"github.com/kingrea/lattice-recipes/internal/sessionstore"
	"github.com/kingrea/lattice-recipes/internal/workflow/engine"
)

func initTestConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	if err := config.InitLatticeDir(root); err != nil {
		t.Fatalf("init lattice: %v", err)
	}
	cfg, err := config.NewConfig(root)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestRegisterPluginsAndRecipes(t *testing.T) {
	cfg := initTestConfig(t)
	writeFile(t, filepath.Join(cfg.PluginsDir(), "review.yaml"), sampleDefinition)
	writeFile(t, filepath.Join(cfg.PluginsDir(), "greet.go"), goPluginSource)
	writeFile(t, filepath.Join(cfg.RecipesDir(), "review.yaml"), sampleRecipe)

	reg := plugin.NewRegistry()
	recipes := recipe.NewRegistry()
	loader := NewLoader()
	if err := loader.RegisterPlugins(reg, cfg); err != nil {
		t.Fatalf("register plugins: %v", err)
	}
	if err := loader.RegisterRecipes(recipes, cfg); err != nil {
		t.Fatalf("register recipes: %v", err)
	}
	if keys := reg.Keys(); len(keys) != 2 || keys[0] != "go-plugin" || keys[1] != "review" {
		t.Fatalf("unexpected plugin keys: %v", keys)
	}
	if _, err := reg.Resolve("go-plugin", nil); err != nil {
		t.Fatalf("resolve go plugin: %v", err)
	}
	if _, err := recipes.Lookup("review"); err != nil {
		t.Fatalf("lookup recipe: %v", err)
	}
}

func TestRegisterRecipesFromGoSources(t *testing.T) {
	cfg := initTestConfig(t)
	writeFile(t, filepath.Join(cfg.PluginsDir(), "greeter.go"), goRecipeSource)
	writeFile(t, filepath.Join(cfg.RecipesDir(), "review.yaml"), sampleRecipe)

	reg := plugin.NewRegistry()
	recipes := recipe.NewRegistry()
	loader := NewLoader()
	if err := loader.RegisterPlugins(reg, cfg); err != nil {
		t.Fatalf("register plugins: %v", err)
	}
	if err := loader.RegisterRecipes(recipes, cfg); err != nil {
		t.Fatalf("register recipes: %v", err)
	}
	rt, err := engine.New("greeting", engine.WithRecipes(recipes), engine.WithPluginRegistry(reg, nil)).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	out := rt.Run(context.Background(), nil, engine.Overrides{})
	if !out.OK() || out.Artifact["greeting"] != "hi" {
		t.Fatalf("unexpected outcome: %s %v", out.Status, out.Artifact)
	}
	if _, err := recipes.Lookup("review"); err != nil {
		t.Fatalf("yaml recipes should still load: %v", err)
	}
}

func TestRegisterPluginsRejectsDuplicateKeys(t *testing.T) {
	cfg := initTestConfig(t)
	writeFile(t, filepath.Join(cfg.PluginsDir(), "a.yaml"), sampleDefinition)
	writeFile(t, filepath.Join(cfg.PluginsDir(), "b.yaml"), sampleDefinition)
	if err := NewLoader().RegisterPlugins(plugin.NewRegistry(), cfg); err == nil {
		t.Fatalf("expected duplicate plugin key to fail")
	}
}

func TestLoadedRecipeRunsAndResumes(t *testing.T) {
	cfg := initTestConfig(t)
	writeFile(t, filepath.Join(cfg.PluginsDir(), "review.yaml"), sampleDefinition)
	writeFile(t, filepath.Join(cfg.RecipesDir(), "review.yaml"), sampleRecipe)

	reg := plugin.NewRegistry()
	recipes := recipe.NewRegistry()
	loader := NewLoader()
	if err := loader.RegisterPlugins(reg, cfg); err != nil {
		t.Fatalf("register plugins: %v", err)
	}
	if err := loader.RegisterRecipes(recipes, cfg); err != nil {
		t.Fatalf("register recipes: %v", err)
	}
	store := sessionstore.NewFile(cfg.SessionsDir())
	newHandle := func() *engine.Handle {
		return engine.New("review",
			engine.WithRecipes(recipes),
			engine.WithPluginRegistry(reg, cfg.PluginConfig()),
			engine.WithDiagnosticsMode(cfg.DiagnosticsMode()),
			engine.WithResume(pause.MergeInput{}, store),
		)
	}

	ctx := context.Background()
	out := newHandle().Run(ctx, map[string]any{"topic": "refunds"}, engine.Overrides{})
	if !out.Paused() {
		t.Fatalf("expected paused outcome, got %s (%v) %+v", out.Status, out.Err, out.Diagnostics)
	}
	if out.Artifact["draft"] != "echo:Draft a reply about refunds" {
		t.Fatalf("unexpected draft: %v", out.Artifact["draft"])
	}
	if err := out.Persist(ctx, store); err != nil {
		t.Fatalf("persist: %v", err)
	}

	rt, err := newHandle().Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	resumed := rt.Resume(ctx, out.Token, map[string]any{"approved": true}, engine.Overrides{})
	if !resumed.OK() {
		t.Fatalf("expected ok outcome, got %s (%v) %+v", resumed.Status, resumed.Err, resumed.Diagnostics)
	}
	if resumed.Artifact["approved"] != true || resumed.Artifact["draft"] == nil {
		t.Fatalf("unexpected artifact: %v", resumed.Artifact)
	}
	if resumed.RunID != out.RunID {
		t.Fatalf("resume should keep run id %s, got %s", out.RunID, resumed.RunID)
	}
}
