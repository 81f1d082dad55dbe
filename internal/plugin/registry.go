package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// Config carries plugin-specific settings (opaque to the runtime).
type Config map[string]any

// Factory constructs a plugin with the provided configuration.
type Factory func(Config) (Plugin, error)

// Registry maintains known plugin factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register installs a plugin factory. Returns an error if the key already exists.
func (r *Registry) Register(key string, factory Factory) error {
	if key == "" {
		return fmt.Errorf("plugin: key is required")
	}
	if factory == nil {
		return fmt.Errorf("plugin: factory is required for %s", key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[key]; exists {
		return fmt.Errorf("plugin: %s already registered", key)
	}
	r.factories[key] = factory
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(key string, factory Factory) {
	if err := r.Register(key, factory); err != nil {
		panic(err)
	}
}

// Resolve constructs a plugin by key.
func (r *Registry) Resolve(key string, cfg Config) (Plugin, error) {
	r.mu.RLock()
	factory, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return Plugin{}, fmt.Errorf("plugin: unknown key %s", key)
	}
	p, err := factory(cfg)
	if err != nil {
		return Plugin{}, fmt.Errorf("plugin %s: %w", key, err)
	}
	if p.Key == "" {
		p.Key = key
	}
	if err := p.Validate(); err != nil {
		return Plugin{}, err
	}
	return p, nil
}

// ResolveAll constructs plugins in the order given.
func (r *Registry) ResolveAll(keys []string, cfg Config) (List, error) {
	var list List
	for _, key := range keys {
		p, err := r.Resolve(key, cfg)
		if err != nil {
			return nil, err
		}
		list, _ = list.With(p)
	}
	return list, nil
}

// Keys returns a sorted list of registered plugin keys.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.factories))
	for key := range r.factories {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
