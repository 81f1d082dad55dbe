package plugins

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kingrea/lattice-recipes/internal/step"
)

// ActionFactory builds a step function from the step's `with` block.
type ActionFactory func(with map[string]any) (step.Func, error)

// AdapterFactory builds an adapter instance from a provider's config.
type AdapterFactory func(cfg map[string]any) (any, error)

// Actions maps action names used by step definitions to factories.
type Actions struct {
	mu        sync.RWMutex
	factories map[string]ActionFactory
}

// NewActions returns an empty action registry.
func NewActions() *Actions {
	return &Actions{factories: map[string]ActionFactory{}}
}

// Register installs an action factory. Returns an error if the name exists.
func (a *Actions) Register(name string, factory ActionFactory) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("plugin: action name is required")
	}
	if factory == nil {
		return fmt.Errorf("plugin: factory is required for action %s", name)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.factories[name]; exists {
		return fmt.Errorf("plugin: action %s already registered", name)
	}
	a.factories[name] = factory
	return nil
}

// MustRegister panics if registration fails.
func (a *Actions) MustRegister(name string, factory ActionFactory) {
	if err := a.Register(name, factory); err != nil {
		panic(err)
	}
}

// Build constructs the step function for name.
func (a *Actions) Build(name string, with map[string]any) (step.Func, error) {
	a.mu.RLock()
	factory, ok := a.factories[name]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("plugin: unknown action %s", name)
	}
	fn, err := factory(with)
	if err != nil {
		return nil, fmt.Errorf("plugin: action %s: %w", name, err)
	}
	return fn, nil
}

// Names returns the registered action names sorted.
func (a *Actions) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return sortedKeys(a.factories)
}

// Adapters maps factory names used by provider definitions to factories.
type Adapters struct {
	mu        sync.RWMutex
	factories map[string]AdapterFactory
}

// NewAdapters returns an empty adapter factory registry.
func NewAdapters() *Adapters {
	return &Adapters{factories: map[string]AdapterFactory{}}
}

// Register installs an adapter factory. Returns an error if the name exists.
func (a *Adapters) Register(name string, factory AdapterFactory) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("plugin: adapter factory name is required")
	}
	if factory == nil {
		return fmt.Errorf("plugin: factory is required for adapter %s", name)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.factories[name]; exists {
		return fmt.Errorf("plugin: adapter factory %s already registered", name)
	}
	a.factories[name] = factory
	return nil
}

// MustRegister panics if registration fails.
func (a *Adapters) MustRegister(name string, factory AdapterFactory) {
	if err := a.Register(name, factory); err != nil {
		panic(err)
	}
}

// Build constructs an adapter instance with factory name.
func (a *Adapters) Build(name string, cfg map[string]any) (any, error) {
	a.mu.RLock()
	factory, ok := a.factories[name]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("plugin: unknown adapter factory %s", name)
	}
	instance, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("plugin: adapter factory %s: %w", name, err)
	}
	return instance, nil
}

// Names returns the registered factory names sorted.
func (a *Adapters) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return sortedKeys(a.factories)
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
