package plugins

import (
	"path/filepath"
	"testing"
)

const goPluginSource = `package main

func PluginDefinitions() ([]map[string]any, error) {
	return []map[string]any{
		{
			"key": "go-plugin",
			"capabilities": map[string]any{
				"tools": []string{"search"},
			},
			"packs": []map[string]any{
				{
					"name": "greet",
					"steps": []map[string]any{
						{"name": "hello", "action": "set", "with": map[string]any{"key": "greeting", "value": "hi"}},
					},
				},
			},
		},
	}, nil
}`

const goRecipeSource = `package main

func PluginDefinitions() []map[string]any {
	return []map[string]any{
		{
			"key": "greeter",
			"packs": []map[string]any{
				{"name": "greet", "steps": []map[string]any{{"name": "hello", "action": "set", "with": map[string]any{"key": "greeting", "value": "hi"}}}},
			},
		},
	}
}

func RecipeDefinitions() ([]map[string]any, error) {
	return []map[string]any{
		{"name": "greeting", "artifact_keys": []string{"greeting"}, "default_plugins": []string{"greeter"}},
	}, nil
}`

func TestLoadGoSources(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "go-plugin.go"), goPluginSource)
	writeFile(t, filepath.Join(dir, "greeter.go"), goRecipeSource)
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")
	sources, err := LoadGoSources(dir)
	if err != nil {
		t.Fatalf("load go sources: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	first := sources[0]
	if len(first.Definitions) != 1 || first.Definitions[0].Definition.Key != "go-plugin" || len(first.Recipes) != 0 {
		t.Fatalf("unexpected first source: %+v", first)
	}
	if first.Definitions[0].Definition.Packs[0].Steps[0].Action != "set" {
		t.Fatalf("unexpected step: %+v", first.Definitions[0].Definition)
	}
	second := sources[1]
	if len(second.Recipes) != 1 || second.Recipes[0].Contract.Name != "greeting" {
		t.Fatalf("expected greeting recipe, got %+v", second.Recipes)
	}
	if second.Recipes[0].Path != filepath.Join(dir, "greeter.go")+"#greeting" {
		t.Fatalf("unexpected recipe path %s", second.Recipes[0].Path)
	}
}

func TestLoadGoSourcesFailures(t *testing.T) {
	tests := map[string]string{
		"missing entry":  "package main\n",
		"entry error":    "package main\n\nimport \"errors\"\n\nfunc PluginDefinitions() ([]map[string]any, error) { return nil, errors.New(\"boom\") }\n",
		"invalid plugin": "package main\n\nfunc PluginDefinitions() []map[string]any { return []map[string]any{{\"description\": \"no key\"}} }\n",
		"empty file":     "  ",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, "broken.go"), body)
			if _, err := LoadGoSources(dir); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadGoSourcesMissingDir(t *testing.T) {
	sources, err := LoadGoSources(filepath.Join(t.TempDir(), "absent"))
	if err != nil || sources != nil {
		t.Fatalf("missing dir should yield nothing, got %v %v", sources, err)
	}
}
