package plugins

import (
	"fmt"

	"github.com/kingrea/lattice-recipes/internal/config"
	"github.com/kingrea/lattice-recipes/internal/plugin"
	"github.com/kingrea/lattice-recipes/internal/recipe"
)

// Loader registers on-disk definitions with the engine registries. It is
// not safe for concurrent use.
type Loader struct {
	Actions  *Actions
	Adapters *Adapters

	interpreted map[string][]GoSource
}

// NewLoader returns a loader over the built-in actions and adapter factories.
func NewLoader() *Loader {
	return &Loader{Actions: DefaultActions(), Adapters: DefaultAdapters()}
}

// RegisterPlugins discovers YAML and Go plugin definitions under the
// configured plugins directory and registers a factory for each. The factory
// receives the plugin config supplied at resolve time.
func (l *Loader) RegisterPlugins(reg *plugin.Registry, cfg *config.Config) error {
	if reg == nil || cfg == nil {
		return nil
	}
	defs, err := l.definitionFiles(cfg.PluginsDir())
	if err != nil {
		return err
	}
	seen := make(map[string]string, len(defs))
	for _, file := range defs {
		def := file.Definition
		if existing, ok := seen[def.Key]; ok {
			return fmt.Errorf("plugin: duplicate plugin key %s (%s and %s)", def.Key, existing, file.Path)
		}
		seen[def.Key] = file.Path
		defCopy := def
		if err := reg.Register(defCopy.Key, func(overrides plugin.Config) (plugin.Plugin, error) {
			return defCopy.Build(l.Actions, l.Adapters, overrides)
		}); err != nil {
			return fmt.Errorf("plugin: register %s from %s: %w", def.Key, file.Path, err)
		}
	}
	return nil
}

// RegisterRecipes loads every recipe contract under the configured recipes
// directory, then the recipes declared by Go plugin sources, into recipes.
func (l *Loader) RegisterRecipes(recipes *recipe.Registry, cfg *config.Config) error {
	if recipes == nil || cfg == nil {
		return nil
	}
	files, err := LoadRecipeDir(cfg.RecipesDir())
	if err != nil {
		return err
	}
	sources, err := l.goSources(cfg.PluginsDir())
	if err != nil {
		return err
	}
	for _, src := range sources {
		files = append(files, src.Recipes...)
	}
	for _, file := range files {
		if err := recipes.Register(file.Contract); err != nil {
			return fmt.Errorf("plugin: register recipe from %s: %w", file.Path, err)
		}
	}
	return nil
}

func (l *Loader) definitionFiles(dir string) ([]DefinitionFile, error) {
	defs, err := LoadDefinitionDir(dir)
	if err != nil {
		return nil, err
	}
	sources, err := l.goSources(dir)
	if err != nil {
		return nil, err
	}
	for _, src := range sources {
		defs = append(defs, src.Definitions...)
	}
	return defs, nil
}

// goSources interprets the Go sources of dir once per loader.
func (l *Loader) goSources(dir string) ([]GoSource, error) {
	if sources, ok := l.interpreted[dir]; ok {
		return sources, nil
	}
	sources, err := LoadGoSources(dir)
	if err != nil {
		return nil, err
	}
	if l.interpreted == nil {
		l.interpreted = map[string][]GoSource{}
	}
	l.interpreted[dir] = sources
	return sources, nil
}
