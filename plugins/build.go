package plugins

import (
	"fmt"

	"github.com/kingrea/lattice-recipes/internal/adapter"
	"github.com/kingrea/lattice-recipes/internal/capability"
	"github.com/kingrea/lattice-recipes/internal/plugin"
	"github.com/kingrea/lattice-recipes/internal/step"
)

// Build turns the definition into a plugin. Step actions and provider
// adapters are constructed through the registries. A map under
// overrides[<provider id>] is laid over that provider's config.
func (def PluginDefinition) Build(actions *Actions, adapters *Adapters, overrides plugin.Config) (plugin.Plugin, error) {
	if err := def.Validate(); err != nil {
		return plugin.Plugin{}, err
	}
	normalized := def.Normalized()
	caps, err := normalized.capabilitySet()
	if err != nil {
		return plugin.Plugin{}, fmt.Errorf("plugin %s: %w", normalized.Key, err)
	}
	p := plugin.Plugin{
		Key:          normalized.Key,
		Capabilities: caps,
		Requirements: normalized.Requirements,
	}
	for _, provider := range normalized.Providers {
		if adapters == nil {
			return plugin.Plugin{}, fmt.Errorf("plugin %s: no adapter factories for provider %s", normalized.Key, provider.ID)
		}
		cfg := mergeConfigs(provider.Config, overrides[provider.ID])
		instance, err := adapters.Build(provider.Factory, cfg)
		if err != nil {
			return plugin.Plugin{}, fmt.Errorf("plugin %s provider %s: %w", normalized.Key, provider.ID, err)
		}
		kind := adapter.Kind(provider.Construct)
		var probe adapter.Bundle
		if !probe.Set(kind, instance) {
			return plugin.Plugin{}, fmt.Errorf("plugin %s provider %s: factory %s does not build a %s adapter", normalized.Key, provider.ID, provider.Factory, kind)
		}
		p.Providers = append(p.Providers, capability.Provider{
			ID:           provider.ID,
			Construct:    kind,
			Priority:     provider.Priority,
			Capabilities: provider.Capabilities,
			Instance:     instance,
		})
	}
	for _, packDef := range normalized.Packs {
		pack := step.Pack{Name: packDef.Name, MinimumCapabilities: packDef.MinimumCapabilities}
		for _, stepDef := range packDef.Steps {
			if actions == nil {
				return plugin.Plugin{}, fmt.Errorf("plugin %s: no actions for step %s", normalized.Key, stepDef.Name)
			}
			fn, err := actions.Build(stepDef.Action, stepDef.With)
			if err != nil {
				return plugin.Plugin{}, fmt.Errorf("plugin %s step %s.%s: %w", normalized.Key, packDef.Name, stepDef.Name, err)
			}
			pack.Steps = append(pack.Steps, step.Spec{
				Name:      stepDef.Name,
				DependsOn: stepDef.DependsOn,
				Apply:     fn,
				Mode:      step.Mode(stepDef.Mode),
				Priority:  stepDef.Priority,
			})
		}
		p.Packs = append(p.Packs, pack)
	}
	if err := p.Validate(); err != nil {
		return plugin.Plugin{}, err
	}
	return p, nil
}

func mergeConfigs(base map[string]any, override any) map[string]any {
	extra, _ := override.(map[string]any)
	if len(base) == 0 && len(extra) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(base)+len(extra))
	for key, value := range base {
		out[key] = value
	}
	for key, value := range extra {
		out[key] = value
	}
	return out
}
