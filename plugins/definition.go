package plugins

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kingrea/lattice-recipes/internal/adapter"
	"github.com/kingrea/lattice-recipes/internal/capability"
	"github.com/kingrea/lattice-recipes/internal/step"
)

// PluginDefinition describes a plugin loaded from YAML or Go source.
//
// The struct mirrors the on-disk schema under .lattice/plugins/ and is
// validated before any factory is registered so a broken file fails startup
// instead of the first run.
type PluginDefinition struct {
	Key          string                   `json:"key" yaml:"key"`
	Description  string                   `json:"description,omitempty" yaml:"description,omitempty"`
	Capabilities map[string]any           `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Requirements []capability.Requirement `json:"requirements,omitempty" yaml:"requirements,omitempty"`
	Providers    []ProviderDefinition     `json:"providers,omitempty" yaml:"providers,omitempty"`
	Packs        []PackDefinition         `json:"packs,omitempty" yaml:"packs,omitempty"`
}

// ProviderDefinition offers an adapter built by a named factory.
type ProviderDefinition struct {
	ID           string         `json:"id" yaml:"id"`
	Construct    string         `json:"construct" yaml:"construct"`
	Factory      string         `json:"factory" yaml:"factory"`
	Priority     int            `json:"priority,omitempty" yaml:"priority,omitempty"`
	Capabilities []string       `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Config       map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// PackDefinition is a named list of steps.
type PackDefinition struct {
	Name                string           `json:"name" yaml:"name"`
	MinimumCapabilities []string         `json:"minimum_capabilities,omitempty" yaml:"minimum_capabilities,omitempty"`
	Steps               []StepDefinition `json:"steps" yaml:"steps"`
}

// StepDefinition binds a step to an action from the Actions registry.
type StepDefinition struct {
	Name      string         `json:"name" yaml:"name"`
	Action    string         `json:"action" yaml:"action"`
	DependsOn []string       `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Mode      string         `json:"mode,omitempty" yaml:"mode,omitempty"`
	Priority  int            `json:"priority,omitempty" yaml:"priority,omitempty"`
	With      map[string]any `json:"with,omitempty" yaml:"with,omitempty"`
}

// Normalized returns a trimmed copy of the definition.
func (def PluginDefinition) Normalized() PluginDefinition {
	clone := PluginDefinition{
		Key:          strings.TrimSpace(def.Key),
		Description:  strings.TrimSpace(def.Description),
		Capabilities: cloneConfig(def.Capabilities),
	}
	if len(def.Requirements) > 0 {
		clone.Requirements = make([]capability.Requirement, len(def.Requirements))
		for i, req := range def.Requirements {
			clone.Requirements[i] = capability.Requirement{
				Construct:    adapter.Kind(strings.TrimSpace(string(req.Construct))),
				Capabilities: trimAll(req.Capabilities),
				Required:     req.Required,
			}
		}
	}
	if len(def.Providers) > 0 {
		clone.Providers = make([]ProviderDefinition, len(def.Providers))
		for i, provider := range def.Providers {
			clone.Providers[i] = ProviderDefinition{
				ID:           strings.TrimSpace(provider.ID),
				Construct:    strings.TrimSpace(provider.Construct),
				Factory:      strings.TrimSpace(provider.Factory),
				Priority:     provider.Priority,
				Capabilities: trimAll(provider.Capabilities),
				Config:       cloneConfig(provider.Config),
			}
		}
	}
	if len(def.Packs) > 0 {
		clone.Packs = make([]PackDefinition, len(def.Packs))
		for i, pack := range def.Packs {
			clone.Packs[i] = pack.normalized()
		}
	}
	return clone
}

func (pack PackDefinition) normalized() PackDefinition {
	clone := PackDefinition{
		Name:                strings.TrimSpace(pack.Name),
		MinimumCapabilities: trimAll(pack.MinimumCapabilities),
	}
	if len(pack.Steps) > 0 {
		clone.Steps = make([]StepDefinition, len(pack.Steps))
		for i, s := range pack.Steps {
			clone.Steps[i] = StepDefinition{
				Name:      strings.TrimSpace(s.Name),
				Action:    strings.TrimSpace(s.Action),
				DependsOn: trimAll(s.DependsOn),
				Mode:      strings.ToLower(strings.TrimSpace(s.Mode)),
				Priority:  s.Priority,
				With:      cloneConfig(s.With),
			}
		}
	}
	return clone
}

// Validate checks the definition's shape. Action and factory names are
// checked later, against the registries the definition is built with.
func (def PluginDefinition) Validate() error {
	normalized := def.Normalized()
	if normalized.Key == "" {
		return fmt.Errorf("plugin: key is required")
	}
	if _, err := normalized.capabilitySet(); err != nil {
		return fmt.Errorf("plugin %s: %w", normalized.Key, err)
	}
	for idx, req := range normalized.Requirements {
		if _, err := adapter.ParseKind(string(req.Construct)); err != nil {
			return fmt.Errorf("plugin %s: requirements[%d]: %w", normalized.Key, idx, err)
		}
	}
	seenProviders := make(map[string]struct{}, len(normalized.Providers))
	for idx, provider := range normalized.Providers {
		if provider.ID == "" {
			return fmt.Errorf("plugin %s: providers[%d]: id is required", normalized.Key, idx)
		}
		if _, err := adapter.ParseKind(provider.Construct); err != nil {
			return fmt.Errorf("plugin %s: providers[%d]: %w", normalized.Key, idx, err)
		}
		if provider.Factory == "" {
			return fmt.Errorf("plugin %s: providers[%d]: factory is required", normalized.Key, idx)
		}
		key := provider.Construct + "/" + provider.ID
		if _, exists := seenProviders[key]; exists {
			return fmt.Errorf("plugin %s: providers[%d]: duplicate provider %s", normalized.Key, idx, key)
		}
		seenProviders[key] = struct{}{}
	}
	for idx, pack := range normalized.Packs {
		if err := pack.validate(); err != nil {
			return fmt.Errorf("plugin %s: packs[%d]: %w", normalized.Key, idx, err)
		}
	}
	return nil
}

func (pack PackDefinition) validate() error {
	if pack.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.Contains(pack.Name, ".") {
		return fmt.Errorf("pack name %s must not contain '.'", pack.Name)
	}
	if len(pack.Steps) == 0 {
		return fmt.Errorf("pack %s: at least one step is required", pack.Name)
	}
	for idx, s := range pack.Steps {
		if s.Name == "" {
			return fmt.Errorf("pack %s: steps[%d]: name is required", pack.Name, idx)
		}
		if s.Action == "" {
			return fmt.Errorf("pack %s: step %s: action is required", pack.Name, s.Name)
		}
		switch step.Mode(s.Mode) {
		case "", step.ModeAppend, step.ModeReplace:
		default:
			return fmt.Errorf("pack %s: step %s: unknown mode %q", pack.Name, s.Name, s.Mode)
		}
	}
	return nil
}

// capabilitySet converts the YAML capability map. Booleans become scalar
// capabilities; lists of strings become list capabilities.
func (def PluginDefinition) capabilitySet() (capability.Set, error) {
	if len(def.Capabilities) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(def.Capabilities))
	for name := range def.Capabilities {
		names = append(names, name)
	}
	sort.Strings(names)
	set := make(capability.Set, len(names))
	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			return nil, fmt.Errorf("capability name is required")
		}
		switch value := def.Capabilities[name].(type) {
		case bool:
			set[trimmed] = capability.Enabled(value)
		case []string:
			set[trimmed] = capability.List(value...)
		case []any:
			items := make([]string, 0, len(value))
			for idx, item := range value {
				text, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("capability %s[%d] must be a string", trimmed, idx)
				}
				items = append(items, strings.TrimSpace(text))
			}
			set[trimmed] = capability.List(items...)
		default:
			return nil, fmt.Errorf("capability %s must be a bool or a list of strings", trimmed)
		}
	}
	return set, nil
}

func trimAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func cloneConfig(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]any, len(src))
	for key, value := range src {
		trimmed := strings.TrimSpace(key)
		if trimmed == "" {
			continue
		}
		out[trimmed] = value
	}
	return out
}
