package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"gopkg.in/yaml.v3"
)

// Entry points a Go plugin source may declare. Both return []map[string]any
// in the YAML schema, optionally followed by an error.
const (
	goPluginsEntry = "PluginDefinitions"
	goRecipesEntry = "RecipeDefinitions"
)

// GoSource is one interpreted Go plugin file. PluginDefinitions is required;
// RecipeDefinitions lets a plugin ship the recipes built around it.
type GoSource struct {
	Path        string
	Definitions []DefinitionFile
	Recipes     []RecipeFile
}

// LoadGoSources interprets every .go file in dir with yaegi, in file name
// order. A missing directory yields no sources.
func LoadGoSources(dir string) ([]GoSource, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("plugin: read %s: %w", trimmed, err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".go" || strings.HasSuffix(entry.Name(), "_test.go") {
			continue
		}
		paths = append(paths, filepath.Join(trimmed, entry.Name()))
	}
	sort.Strings(paths)
	sources := make([]GoSource, 0, len(paths))
	for _, path := range paths {
		src, err := interpretGoSource(path)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func interpretGoSource(path string) (GoSource, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return GoSource{}, fmt.Errorf("plugin: read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(code))) == 0 {
		return GoSource{}, fmt.Errorf("plugin: go source %s is empty", path)
	}
	i := interp.New(interp.Options{})
	i.Use(stdlib.Symbols)
	if _, err := i.EvalPath(path); err != nil {
		return GoSource{}, fmt.Errorf("plugin: interpret %s: %w", path, err)
	}
	src := GoSource{Path: path}

	plugins, err := callEntry(i, goPluginsEntry, true)
	if err != nil {
		return GoSource{}, fmt.Errorf("plugin: %s: %w", path, err)
	}
	for idx, raw := range plugins {
		payload, err := yaml.Marshal(raw)
		if err != nil {
			return GoSource{}, fmt.Errorf("plugin: %s plugin %d: %w", path, idx+1, err)
		}
		def, err := ParseDefinitionYAML(payload)
		if err != nil {
			return GoSource{}, fmt.Errorf("plugin: %s plugin %d: %w", path, idx+1, err)
		}
		src.Definitions = append(src.Definitions, DefinitionFile{Definition: def, Path: path + "#" + def.Key})
	}

	recipes, err := callEntry(i, goRecipesEntry, false)
	if err != nil {
		return GoSource{}, fmt.Errorf("plugin: %s: %w", path, err)
	}
	for idx, raw := range recipes {
		payload, err := yaml.Marshal(raw)
		if err != nil {
			return GoSource{}, fmt.Errorf("plugin: %s recipe %d: %w", path, idx+1, err)
		}
		contract, err := ParseRecipeYAML(payload)
		if err != nil {
			return GoSource{}, fmt.Errorf("plugin: %s recipe %d: %w", path, idx+1, err)
		}
		src.Recipes = append(src.Recipes, RecipeFile{Contract: contract, Path: path + "#" + contract.Name})
	}
	return src, nil
}

// callEntry invokes the named zero-argument function. An optional entry
// point that the source does not declare yields nothing.
func callEntry(i *interp.Interpreter, name string, required bool) ([]map[string]any, error) {
	fn, err := i.Eval(name)
	if err != nil || !fn.IsValid() {
		if required {
			return nil, fmt.Errorf("%s() ([]map[string]any, error) is not declared", name)
		}
		return nil, nil
	}
	if fn.Kind() != reflect.Func || fn.Type().NumIn() != 0 {
		return nil, fmt.Errorf("%s must be a function without arguments", name)
	}
	out := fn.Call(nil)
	switch len(out) {
	case 1:
	case 2:
		if callErr, _ := out[1].Interface().(error); callErr != nil {
			return nil, fmt.Errorf("%s: %w", name, callErr)
		}
	default:
		return nil, fmt.Errorf("%s must return ([]map[string]any[, error])", name)
	}
	list := out[0]
	if list.Kind() != reflect.Slice {
		return nil, fmt.Errorf("%s must return []map[string]any", name)
	}
	maps := make([]map[string]any, 0, list.Len())
	for idx := 0; idx < list.Len(); idx++ {
		m, ok := list.Index(idx).Interface().(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s entry %d is not a map[string]any", name, idx+1)
		}
		maps = append(maps, m)
	}
	return maps, nil
}
