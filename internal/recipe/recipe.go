// Package recipe declares named recipe contracts and the registry an
// application builds them into.
package recipe

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownRecipe is returned when a registry has no contract for a name.
var ErrUnknownRecipe = errors.New("recipe: unknown recipe")

// Contract declares what a named recipe produces and needs.
type Contract struct {
	Name                string   `json:"name" yaml:"name"`
	Description         string   `json:"description,omitempty" yaml:"description,omitempty"`
	ArtifactKeys        []string `json:"artifact_keys,omitempty" yaml:"artifact_keys,omitempty"`
	OutcomeKinds        []string `json:"outcome_kinds,omitempty" yaml:"outcome_kinds,omitempty"`
	MinimumCapabilities []string `json:"minimum_capabilities,omitempty" yaml:"minimum_capabilities,omitempty"`
	DefaultPlugins      []string `json:"default_plugins,omitempty" yaml:"default_plugins,omitempty"`
}

// Validate ensures the contract is usable.
func (c Contract) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("recipe: name is required")
	}
	for _, kind := range c.OutcomeKinds {
		switch kind {
		case "ok", "paused", "error":
		default:
			return fmt.Errorf("recipe %s: unknown outcome kind %q", c.Name, kind)
		}
	}
	if dup := firstDuplicate(c.ArtifactKeys); dup != "" {
		return fmt.Errorf("recipe %s: duplicate artifact key %s", c.Name, dup)
	}
	if dup := firstDuplicate(c.DefaultPlugins); dup != "" {
		return fmt.Errorf("recipe %s: duplicate default plugin %s", c.Name, dup)
	}
	return nil
}

// Clone returns a deep copy.
func (c Contract) Clone() Contract {
	clone := c
	clone.ArtifactKeys = cloneStrings(c.ArtifactKeys)
	clone.OutcomeKinds = cloneStrings(c.OutcomeKinds)
	clone.MinimumCapabilities = cloneStrings(c.MinimumCapabilities)
	clone.DefaultPlugins = cloneStrings(c.DefaultPlugins)
	return clone
}

// MissingArtifacts returns the declared artefact keys absent from artifact.
func (c Contract) MissingArtifacts(artifact map[string]any) []string {
	var missing []string
	for _, key := range c.ArtifactKeys {
		if _, ok := artifact[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}

// Allows reports whether the contract permits an outcome kind. An empty list
// permits every kind.
func (c Contract) Allows(kind string) bool {
	if len(c.OutcomeKinds) == 0 {
		return true
	}
	for _, allowed := range c.OutcomeKinds {
		if allowed == kind {
			return true
		}
	}
	return false
}

// Registry holds recipe contracts. Applications construct one and pass it to
// the handles that need it.
type Registry struct {
	mu        sync.RWMutex
	contracts map[string]Contract
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{contracts: map[string]Contract{}}
}

// Register installs a contract. Returns an error if the name already exists.
func (r *Registry) Register(c Contract) error {
	if err := c.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.contracts[c.Name]; exists {
		return fmt.Errorf("recipe: %s already registered", c.Name)
	}
	r.contracts[c.Name] = c.Clone()
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(c Contract) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// Lookup returns the contract registered under name.
func (r *Registry) Lookup(name string) (Contract, error) {
	r.mu.RLock()
	c, ok := r.contracts[name]
	r.mu.RUnlock()
	if !ok {
		return Contract{}, fmt.Errorf("%w: %s", ErrUnknownRecipe, name)
	}
	return c.Clone(), nil
}

// Names returns the sorted recipe names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.contracts))
	for name := range r.contracts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func firstDuplicate(values []string) string {
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			return value
		}
		seen[value] = struct{}{}
	}
	return ""
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
