package plugins

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/lattice-recipes/internal/recipe"
)

// DefinitionFile pairs a parsed plugin definition with its on-disk source.
type DefinitionFile struct {
	Definition PluginDefinition
	Path       string
}

// RecipeFile pairs a parsed recipe contract with its on-disk source.
type RecipeFile struct {
	Contract recipe.Contract
	Path     string
}

// ParseDefinitionYAML decodes and validates a single plugin definition payload.
func ParseDefinitionYAML(data []byte) (PluginDefinition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return PluginDefinition{}, fmt.Errorf("plugin: definition payload is empty")
	}
	var def PluginDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return PluginDefinition{}, fmt.Errorf("plugin: decode definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return PluginDefinition{}, err
	}
	return def.Normalized(), nil
}

// ParseRecipeYAML decodes and validates a recipe contract payload.
func ParseRecipeYAML(data []byte) (recipe.Contract, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return recipe.Contract{}, fmt.Errorf("plugin: recipe payload is empty")
	}
	var contract recipe.Contract
	if err := yaml.Unmarshal(data, &contract); err != nil {
		return recipe.Contract{}, fmt.Errorf("plugin: decode recipe: %w", err)
	}
	contract.Name = strings.TrimSpace(contract.Name)
	if err := contract.Validate(); err != nil {
		return recipe.Contract{}, err
	}
	return contract, nil
}

// LoadDefinitionFile reads a YAML file from disk and returns the parsed plugin definition.
func LoadDefinitionFile(path string) (DefinitionFile, error) {
	data, err := readDefinitionFile(path)
	if err != nil {
		return DefinitionFile{}, err
	}
	def, err := ParseDefinitionYAML(data)
	if err != nil {
		return DefinitionFile{}, fmt.Errorf("plugin: %s: %w", path, err)
	}
	return DefinitionFile{Definition: def, Path: filepath.Clean(path)}, nil
}

// LoadRecipeFile reads a YAML recipe contract from disk.
func LoadRecipeFile(path string) (RecipeFile, error) {
	data, err := readDefinitionFile(path)
	if err != nil {
		return RecipeFile{}, err
	}
	contract, err := ParseRecipeYAML(data)
	if err != nil {
		return RecipeFile{}, fmt.Errorf("plugin: %s: %w", path, err)
	}
	return RecipeFile{Contract: contract, Path: filepath.Clean(path)}, nil
}

// LoadDefinitionDir scans a directory for *.yaml plugins and returns the parsed definitions.
// Missing directories are treated as "no plugins" to simplify startup.
func LoadDefinitionDir(dir string) ([]DefinitionFile, error) {
	paths, err := yamlFiles(dir)
	if err != nil {
		return nil, err
	}
	var defs []DefinitionFile
	for _, path := range paths {
		def, err := LoadDefinitionFile(path)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadRecipeDir scans a directory for *.yaml recipe contracts.
func LoadRecipeDir(dir string) ([]RecipeFile, error) {
	paths, err := yamlFiles(dir)
	if err != nil {
		return nil, err
	}
	var recipes []RecipeFile
	for _, path := range paths {
		file, err := LoadRecipeFile(path)
		if err != nil {
			return nil, err
		}
		recipes = append(recipes, file)
	}
	return recipes, nil
}

func readDefinitionFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("plugin: %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: read %s: %w", path, err)
	}
	return data, nil
}

func yamlFiles(dir string) ([]string, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("plugin: read %s: %w", trimmed, err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !isYAMLFile(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(trimmed, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func isYAMLFile(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}
