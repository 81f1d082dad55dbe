// Package step defines the atomic units of work a recipe plan executes and
// the named packs that bundle them.
package step

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Mode controls how a step merges with an earlier step of the same name.
type Mode string

const (
	// ModeAppend adds the step as an independent entry (the default).
	ModeAppend Mode = "append"
	// ModeReplace supersedes a prior step sharing the qualified name.
	ModeReplace Mode = "replace"
)

// Func applies a step against the shared run state.
type Func func(ctx context.Context, sc *Context) error

// Spec is the atomic unit of work.
type Spec struct {
	Name      string
	DependsOn []string
	Apply     Func
	Mode      Mode
	Priority  int
	// Pack is the owning pack name; the compiler fills it in.
	Pack string
}

// Clone returns a copy that shares no slices with s.
func (s Spec) Clone() Spec {
	clone := s
	if len(s.DependsOn) > 0 {
		clone.DependsOn = append([]string(nil), s.DependsOn...)
	}
	return clone
}

// IsReplace reports whether the spec supersedes earlier entries.
func (s Spec) IsReplace() bool {
	return s.Mode == ModeReplace
}

// Pack is a named bundle of steps plus the capabilities it needs.
type Pack struct {
	Name                string
	Steps               []Spec
	MinimumCapabilities []string
}

// Validate checks pack-local invariants that do not depend on other packs.
func (p Pack) Validate() error {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return fmt.Errorf("step: pack name is required")
	}
	if strings.Contains(name, ".") {
		return fmt.Errorf("step: pack name %s must not contain '.'", name)
	}
	for idx, spec := range p.Steps {
		if strings.TrimSpace(spec.Name) == "" {
			return fmt.Errorf("step: pack %s step[%d]: name is required", name, idx)
		}
		if spec.Apply == nil {
			return fmt.Errorf("step: pack %s step %s: apply function is required", name, spec.Name)
		}
		switch spec.Mode {
		case "", ModeAppend, ModeReplace:
		default:
			return fmt.Errorf("step: pack %s step %s: unknown mode %q", name, spec.Name, spec.Mode)
		}
	}
	return nil
}

// Clone returns a deep copy of the pack.
func (p Pack) Clone() Pack {
	clone := Pack{Name: p.Name}
	if len(p.Steps) > 0 {
		clone.Steps = make([]Spec, len(p.Steps))
		for i, spec := range p.Steps {
			clone.Steps[i] = spec.Clone()
		}
	}
	if len(p.MinimumCapabilities) > 0 {
		clone.MinimumCapabilities = append([]string(nil), p.MinimumCapabilities...)
	}
	return clone
}

// Qualify returns name prefixed with pack unless it is already qualified.
func Qualify(pack, name string) string {
	name = strings.TrimSpace(name)
	if strings.Contains(name, ".") || pack == "" {
		return name
	}
	return pack + "." + name
}

// QualifiedName returns the globally addressable name of the spec.
func (s Spec) QualifiedName() string {
	return Qualify(s.Pack, s.Name)
}

// MinimumCapabilities returns the sorted union of the packs' minimums.
func MinimumCapabilities(packs []Pack) []string {
	set := map[string]struct{}{}
	for _, pack := range packs {
		for _, name := range pack.MinimumCapabilities {
			if trimmed := strings.TrimSpace(name); trimmed != "" {
				set[trimmed] = struct{}{}
			}
		}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
