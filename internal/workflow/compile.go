package workflow

import (
	"sort"
	"strings"

	"github.com/kingrea/lattice-recipes/internal/diag"
	"github.com/kingrea/lattice-recipes/internal/step"
)

// entry is a compiled step plus the registration position used for
// deterministic tie-breaking.
type entry struct {
	spec  step.Spec
	order int
}

func (e entry) name() string {
	return e.spec.QualifiedName()
}

// Compile merges packs (in registration order) into a single ordered plan.
// Step names and dependency references are qualified with their pack name;
// replace-mode steps supersede earlier entries with the same qualified name.
// Unknown dependencies and cycles are reported as error-level diagnostics, but
// a best-effort plan is always returned.
func Compile(packs ...step.Pack) (Plan, diag.Entries) {
	var diags diag.Entries
	var entries []entry
	var packNames []string
	order := 0
	for _, pack := range packs {
		if err := pack.Validate(); err != nil {
			diags = append(diags, diag.Error(diag.KindPlanInvalid, "%v", err).
				With("pack", pack.Name).From(diag.OriginBuild))
			continue
		}
		packName := strings.TrimSpace(pack.Name)
		packNames = appendUnique(packNames, packName)
		seen := make(map[string]struct{}, len(pack.Steps))
		for _, raw := range pack.Steps {
			spec := qualifySpec(packName, raw)
			name := spec.QualifiedName()
			if spec.IsReplace() {
				entries = replaceEntry(entries, entry{spec: spec, order: order})
				seen[name] = struct{}{}
				order++
				continue
			}
			if _, dup := seen[name]; dup {
				diags = append(diags, diag.Error(diag.KindStepDuplicate,
					"pack %s declares step %s more than once", packName, name).
					With("step", name).From(diag.OriginBuild))
				continue
			}
			seen[name] = struct{}{}
			entries = append(entries, entry{spec: spec, order: order})
			order++
		}
	}
	ordered, orderDiags := sortEntries(entries)
	diags = append(diags, orderDiags...)
	plan := Plan{Packs: packNames}
	if len(ordered) > 0 {
		plan.Steps = make([]step.Spec, len(ordered))
		for i, e := range ordered {
			plan.Steps[i] = e.spec
		}
	}
	return plan, diags
}

func qualifySpec(pack string, raw step.Spec) step.Spec {
	spec := raw.Clone()
	spec.Name = strings.TrimSpace(raw.Name)
	if idx := strings.Index(spec.Name, "."); idx > 0 {
		spec.Pack = spec.Name[:idx]
		spec.Name = spec.Name[idx+1:]
	} else {
		spec.Pack = pack
	}
	if spec.Mode == "" {
		spec.Mode = step.ModeAppend
	}
	if len(spec.DependsOn) > 0 {
		deps := make([]string, 0, len(spec.DependsOn))
		for _, dep := range spec.DependsOn {
			if strings.TrimSpace(dep) == "" {
				continue
			}
			deps = appendUnique(deps, step.Qualify(pack, dep))
		}
		spec.DependsOn = deps
	}
	return spec
}

// replaceEntry drops every entry named like next and puts next where the
// first of them stood. Without a prior entry next is appended.
func replaceEntry(entries []entry, next entry) []entry {
	name := next.name()
	out := entries[:0:0]
	placed := false
	for _, existing := range entries {
		if existing.name() != name {
			out = append(out, existing)
			continue
		}
		if !placed {
			next.order = existing.order
			out = append(out, next)
			placed = true
		}
	}
	if !placed {
		out = append(out, next)
	}
	return out
}

// sortEntries performs a Kahn topological sort. Among runnable entries the
// highest priority goes first, then the lexicographically smallest qualified
// name, then registration order.
func sortEntries(entries []entry) ([]entry, diag.Entries) {
	var diags diag.Entries
	byName := make(map[string][]int, len(entries))
	for idx, e := range entries {
		byName[e.name()] = append(byName[e.name()], idx)
	}
	indegree := make([]int, len(entries))
	dependents := make([][]int, len(entries))
	for idx, e := range entries {
		for _, dep := range e.spec.DependsOn {
			targets, ok := byName[dep]
			if !ok {
				diags = append(diags, diag.Error(diag.KindStepDependencyMissing,
					"step %s depends on unknown step %s", e.name(), dep).
					With("step", e.name()).With("dependency", dep).From(diag.OriginBuild))
				continue
			}
			for _, target := range targets {
				indegree[idx]++
				dependents[target] = append(dependents[target], idx)
			}
		}
	}
	var ready []int
	for idx := range entries {
		if indegree[idx] == 0 {
			ready = append(ready, idx)
		}
	}
	less := func(a, b int) bool {
		ea, eb := entries[a], entries[b]
		if ea.spec.Priority != eb.spec.Priority {
			return ea.spec.Priority > eb.spec.Priority
		}
		if ea.name() != eb.name() {
			return ea.name() < eb.name()
		}
		return ea.order < eb.order
	}
	ordered := make([]entry, 0, len(entries))
	placed := make([]bool, len(entries))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		next := ready[0]
		ready = ready[1:]
		placed[next] = true
		ordered = append(ordered, entries[next])
		for _, dependent := range dependents[next] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}
	if len(ordered) == len(entries) {
		return ordered, diags
	}
	var cyclic []int
	for idx := range entries {
		if !placed[idx] {
			cyclic = append(cyclic, idx)
		}
	}
	sort.Slice(cyclic, func(i, j int) bool { return less(cyclic[i], cyclic[j]) })
	names := make([]string, 0, len(cyclic))
	for _, idx := range cyclic {
		names = appendUnique(names, entries[idx].name())
		ordered = append(ordered, entries[idx])
	}
	diags = append(diags, diag.Error(diag.KindStepDependencyCycle,
		"dependency cycle between steps %s", strings.Join(names, ", ")).
		With("steps", names).From(diag.OriginBuild))
	return ordered, diags
}

func appendUnique(values []string, value string) []string {
	for _, existing := range values {
		if existing == value {
			return values
		}
	}
	return append(values, value)
}
