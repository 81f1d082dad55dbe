// Package workflow compiles packs of steps into a single ordered plan.
package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/kingrea/lattice-recipes/internal/step"
)

// DependencyGraph maps qualified step names to the qualified names they
// depend on.
type DependencyGraph map[string][]string

// Clone returns a deep copy of the graph.
func (g DependencyGraph) Clone() DependencyGraph {
	if len(g) == 0 {
		return nil
	}
	out := make(DependencyGraph, len(g))
	for key, deps := range g {
		out[key] = cloneStringSlice(deps)
	}
	return out
}

// Plan is the compiled, dependency-ordered list of steps.
type Plan struct {
	Steps []step.Spec
	// Packs lists the contributing pack names in registration order.
	Packs []string
}

// Clone returns a deep copy of the plan.
func (p Plan) Clone() Plan {
	clone := Plan{Packs: cloneStringSlice(p.Packs)}
	if len(p.Steps) > 0 {
		clone.Steps = make([]step.Spec, len(p.Steps))
		for i, spec := range p.Steps {
			clone.Steps[i] = spec.Clone()
		}
	}
	return clone
}

// Len returns the number of steps.
func (p Plan) Len() int {
	return len(p.Steps)
}

// Names returns the qualified step names in execution order.
func (p Plan) Names() []string {
	names := make([]string, 0, len(p.Steps))
	for _, spec := range p.Steps {
		names = append(names, spec.QualifiedName())
	}
	return names
}

// Index returns the first plan position of the named step, or -1.
func (p Plan) Index(name string) int {
	for i, spec := range p.Steps {
		if spec.QualifiedName() == name {
			return i
		}
	}
	return -1
}

// Graph returns the dependency graph of the plan. Steps sharing a name have
// their dependencies merged.
func (p Plan) Graph() DependencyGraph {
	if len(p.Steps) == 0 {
		return nil
	}
	graph := make(DependencyGraph, len(p.Steps))
	for _, spec := range p.Steps {
		name := spec.QualifiedName()
		graph[name] = mergeDependencies(graph[name], spec.DependsOn)
	}
	return graph
}

// Validate checks that every dependency of every step appears earlier in the
// plan.
func (p Plan) Validate() error {
	seen := make(map[string]struct{}, len(p.Steps))
	for idx, spec := range p.Steps {
		for _, dep := range spec.DependsOn {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("workflow: step[%d] %s runs before dependency %s", idx, spec.QualifiedName(), dep)
			}
		}
		seen[spec.QualifiedName()] = struct{}{}
	}
	return nil
}

// Fingerprint hashes the ordered step names and their dependencies. Two plans
// with equal fingerprints run the same steps in the same order.
func (p Plan) Fingerprint() string {
	hasher := sha256.New()
	for _, spec := range p.Steps {
		hasher.Write([]byte(spec.QualifiedName()))
		hasher.Write([]byte{0})
		deps := cloneStringSlice(spec.DependsOn)
		sort.Strings(deps)
		hasher.Write([]byte(strings.Join(deps, ",")))
		hasher.Write([]byte{'\n'})
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

func mergeDependencies(existing, adds []string) []string {
	if len(adds) == 0 && len(existing) == 0 {
		return nil
	}
	set := map[string]struct{}{}
	for _, id := range existing {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	for _, id := range adds {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func cloneStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	clone := make([]string, len(values))
	copy(clone, values)
	return clone
}
