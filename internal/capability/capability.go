// Package capability tracks which features registered plugins declare and
// which of them survive provider selection for a run.
package capability

import (
	"sort"
	"strings"

	"github.com/kingrea/lattice-recipes/internal/adapter"
)

// Value is a declared capability. Scalar capabilities use Enabled; list
// capabilities (for example supported tool names) use Items.
type Value struct {
	Enabled bool     `json:"enabled"`
	Items   []string `json:"items,omitempty"`
	// Explicit marks values declared by a plugin rather than derived from the
	// presence of an adapter.
	Explicit bool `json:"explicit,omitempty"`
}

// Satisfied reports whether the capability is usable.
func (v Value) Satisfied() bool {
	return v.Enabled || len(v.Items) > 0
}

func (v Value) clone() Value {
	v.Items = cloneStrings(v.Items)
	return v
}

// Enabled returns an explicit scalar capability.
func Enabled(on bool) Value {
	return Value{Enabled: on, Explicit: true}
}

// List returns an explicit list capability.
func List(items ...string) Value {
	return Value{Enabled: len(items) > 0, Items: cloneStrings(items), Explicit: true}
}

// Set maps capability names to values.
type Set map[string]Value

// Clone returns a deep copy.
func (s Set) Clone() Set {
	if s == nil {
		return nil
	}
	out := make(Set, len(s))
	for name, value := range s {
		out[name] = value.clone()
	}
	return out
}

// Has reports whether name is declared and satisfied.
func (s Set) Has(name string) bool {
	value, ok := s[name]
	return ok && value.Satisfied()
}

// Names returns the satisfied capability names, sorted.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name, value := range s {
		if value.Satisfied() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Missing returns the entries of required that s does not satisfy, in the
// order given.
func (s Set) Missing(required []string) []string {
	var missing []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" || s.Has(name) {
			continue
		}
		missing = append(missing, name)
	}
	return missing
}

// Declaration is one plugin's contribution to the capability set.
type Declaration struct {
	Source   string
	Values   Set
	Adapters adapter.Bundle
}

// Build merges declarations in registration order. List values concatenate.
// A plugin-declared value always beats presence derived from an adapter,
// whichever was registered first.
func Build(decls ...Declaration) Set {
	out := Set{}
	for _, decl := range decls {
		names := make([]string, 0, len(decl.Values))
		for name := range decl.Values {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			next := decl.Values[name].clone()
			next.Explicit = true
			existing, ok := out[name]
			if !ok || !existing.Explicit {
				out[name] = next
				continue
			}
			merged := Value{Enabled: next.Enabled, Explicit: true}
			merged.Items = append(cloneStrings(existing.Items), next.Items...)
			if len(merged.Items) > 0 {
				merged.Enabled = true
			}
			out[name] = merged
		}
		for _, kind := range decl.Adapters.Present() {
			name := string(kind)
			if _, ok := out[name]; ok {
				continue
			}
			out[name] = Value{Enabled: true}
		}
	}
	return out
}

// Snapshot pairs the declared capabilities with those that survived provider
// selection.
type Snapshot struct {
	Declared Set `json:"declared"`
	Resolved Set `json:"resolved"`
}

// Resolve narrows declared to the satisfied capabilities the bundle can back.
// Capabilities named after a construct survive only when that construct was
// resolved.
func Resolve(declared Set, bundle adapter.Bundle) Set {
	out := Set{}
	for name, value := range declared {
		if !value.Satisfied() {
			continue
		}
		if kind, err := adapter.ParseKind(name); err == nil && !bundle.Has(kind) {
			continue
		}
		out[name] = value.clone()
	}
	return out
}

// NewSnapshot builds a snapshot from declared capabilities and the resolved
// bundle.
func NewSnapshot(declared Set, bundle adapter.Bundle) Snapshot {
	return Snapshot{Declared: declared.Clone(), Resolved: Resolve(declared, bundle)}
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
