// Package plugin bundles the capabilities, adapters, providers and packs a
// recipe is built from.
package plugin

import (
	"fmt"
	"strings"

	"github.com/kingrea/lattice-recipes/internal/adapter"
	"github.com/kingrea/lattice-recipes/internal/capability"
	"github.com/kingrea/lattice-recipes/internal/step"
)

// Plugin contributes to a runtime. Registering a second plugin with the same
// key replaces the first.
type Plugin struct {
	Key          string
	Capabilities capability.Set
	// Adapters are offered as providers identified by Key, carrying the
	// plugin's satisfied capabilities.
	Adapters     adapter.Bundle
	Providers    []capability.Provider
	Requirements []capability.Requirement
	Packs        []step.Pack
}

// Validate checks the plugin's own invariants.
func (p Plugin) Validate() error {
	key := strings.TrimSpace(p.Key)
	if key == "" {
		return fmt.Errorf("plugin: key is required")
	}
	for idx, provider := range p.Providers {
		if strings.TrimSpace(provider.ID) == "" {
			return fmt.Errorf("plugin %s provider[%d]: id is required", key, idx)
		}
		if _, err := adapter.ParseKind(string(provider.Construct)); err != nil {
			return fmt.Errorf("plugin %s provider %s: %w", key, provider.ID, err)
		}
	}
	for idx, req := range p.Requirements {
		if _, err := adapter.ParseKind(string(req.Construct)); err != nil {
			return fmt.Errorf("plugin %s requirement[%d]: %w", key, idx, err)
		}
	}
	for _, pack := range p.Packs {
		if err := pack.Validate(); err != nil {
			return fmt.Errorf("plugin %s: %w", key, err)
		}
	}
	return nil
}

// Declaration returns the plugin's contribution to the capability set.
func (p Plugin) Declaration() capability.Declaration {
	return capability.Declaration{Source: p.Key, Values: p.Capabilities, Adapters: p.Adapters}
}

// AdapterProviders exposes the plugin's direct adapters as providers.
func (p Plugin) AdapterProviders() []capability.Provider {
	caps := p.Capabilities.Names()
	var out []capability.Provider
	for _, kind := range p.Adapters.Present() {
		out = append(out, capability.Provider{
			ID:           p.Key,
			Construct:    kind,
			Capabilities: append([]string(nil), caps...),
			Instance:     p.Adapters.Get(kind),
		})
	}
	return out
}

// List is an ordered set of plugins.
type List []Plugin

// With returns the list with p appended, or with p replacing a plugin of the
// same key in place. The boolean reports a replacement.
func (l List) With(p Plugin) (List, bool) {
	out := append(List(nil), l...)
	for i, existing := range out {
		if existing.Key == p.Key {
			out[i] = p
			return out, true
		}
	}
	return append(out, p), false
}

// Keys returns the plugin keys in registration order.
func (l List) Keys() []string {
	keys := make([]string, 0, len(l))
	for _, p := range l {
		keys = append(keys, p.Key)
	}
	return keys
}

// Packs returns every pack in registration order.
func (l List) Packs() []step.Pack {
	var packs []step.Pack
	for _, p := range l {
		for _, pack := range p.Packs {
			packs = append(packs, pack.Clone())
		}
	}
	return packs
}

// Declarations returns each plugin's capability declaration.
func (l List) Declarations() []capability.Declaration {
	decls := make([]capability.Declaration, 0, len(l))
	for _, p := range l {
		decls = append(decls, p.Declaration())
	}
	return decls
}

// Providers returns the explicit providers followed by each plugin's direct
// adapters, in registration order.
func (l List) Providers() []capability.Provider {
	var providers []capability.Provider
	for _, p := range l {
		providers = append(providers, p.Providers...)
		providers = append(providers, p.AdapterProviders()...)
	}
	return providers
}

// Requirements returns every plugin requirement.
func (l List) Requirements() []capability.Requirement {
	var reqs []capability.Requirement
	for _, p := range l {
		reqs = append(reqs, p.Requirements...)
	}
	return reqs
}
