package plugins

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleDefinition = `key: review
capabilities:
  streaming: true
providers:
  - id: echo
    construct: model
    factory: echo-model
    config:
      prefix: "echo:"
packs:
  - name: review
    minimum_capabilities: [streaming]
    steps:
      - name: draft
        action: generate
        with:
          key: draft
          prompt: "Draft a reply about {{.Input.topic}}"
      - name: approve
        action: pause
        depends_on: [draft]
        with:
          reason: needs approval
`

const sampleRecipe = `name: review
description: Draft and approve a reply
artifact_keys: [draft]
outcome_kinds: [ok, paused]
default_plugins: [review]
`

func TestParseDefinitionYAML(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(sampleDefinition))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if def.Key != "review" || len(def.Packs) != 1 || len(def.Packs[0].Steps) != 2 {
		t.Fatalf("unexpected definition: %+v", def)
	}
	if got := def.Packs[0].Steps[1].DependsOn; len(got) != 1 || got[0] != "draft" {
		t.Fatalf("unexpected depends_on: %v", got)
	}
	if def.Providers[0].Config["prefix"] != "echo:" {
		t.Fatalf("unexpected provider config: %v", def.Providers[0].Config)
	}
}

func TestParseDefinitionYAMLErrors(t *testing.T) {
	if _, err := ParseDefinitionYAML([]byte("")); err == nil {
		t.Fatalf("expected empty payload to fail validation")
	}
	if _, err := ParseDefinitionYAML([]byte("key: [")); err == nil {
		t.Fatalf("expected malformed yaml to fail")
	}
	if _, err := ParseDefinitionYAML([]byte("description: no key\n")); err == nil {
		t.Fatalf("expected missing key to fail")
	}
}

func TestParseRecipeYAML(t *testing.T) {
	contract, err := ParseRecipeYAML([]byte(sampleRecipe))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if contract.Name != "review" || len(contract.DefaultPlugins) != 1 || contract.ArtifactKeys[0] != "draft" {
		t.Fatalf("unexpected contract: %+v", contract)
	}
	if _, err := ParseRecipeYAML([]byte("name: bad\noutcome_kinds: [maybe]\n")); err == nil {
		t.Fatalf("expected unknown outcome kind to fail")
	}
}

func TestLoadDefinitionDir(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "plugin.yaml")
	if err := os.WriteFile(path, []byte(sampleDefinition), 0644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("ignored"), 0644); err != nil {
		t.Fatalf("write notes: %v", err)
	}
	defs, err := LoadDefinitionDir(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	if defs[0].Path != path {
		t.Fatalf("expected path %s, got %s", path, defs[0].Path)
	}
}

func TestLoadRecipeDir(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "review.yml"), []byte(sampleRecipe), 0644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	files, err := LoadRecipeDir(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(files) != 1 || files[0].Contract.Name != "review" {
		t.Fatalf("unexpected recipes: %+v", files)
	}
}

func TestLoadDefinitionDirMissing(t *testing.T) {
	defs, err := LoadDefinitionDir(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if defs != nil {
		t.Fatalf("expected nil slice for missing dir, got %v", defs)
	}
}
