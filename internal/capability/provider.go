package capability

import (
	"sort"
	"strings"

	"github.com/kingrea/lattice-recipes/internal/adapter"
	"github.com/kingrea/lattice-recipes/internal/diag"
)

// Provider is a concrete adapter offered for a construct.
type Provider struct {
	ID           string
	Construct    adapter.Kind
	Priority     int
	Capabilities []string
	Instance     any
}

// Satisfies reports whether the provider declares every required capability.
func (p Provider) Satisfies(required []string) bool {
	declared := make(map[string]struct{}, len(p.Capabilities))
	for _, name := range p.Capabilities {
		declared[name] = struct{}{}
	}
	for _, name := range required {
		if _, ok := declared[name]; !ok {
			return false
		}
	}
	return true
}

// Requirement asks for a provider of a construct with a set of capabilities.
type Requirement struct {
	Construct    adapter.Kind `json:"construct" yaml:"construct"`
	Capabilities []string     `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Required     bool         `json:"required,omitempty" yaml:"required,omitempty"`
}

// Choice pins a construct to a provider id or to a concrete instance. An
// instance wins over an id.
type Choice struct {
	ProviderID string
	Instance   any
}

func (c Choice) empty() bool {
	return c.Instance == nil && strings.TrimSpace(c.ProviderID) == ""
}

// Selection maps constructs to pinned choices.
type Selection map[adapter.Kind]Choice

// Merge returns s with override's choices replacing s per construct.
func (s Selection) Merge(override Selection) Selection {
	if len(s) == 0 && len(override) == 0 {
		return nil
	}
	out := make(Selection, len(s)+len(override))
	for kind, choice := range s {
		out[kind] = choice
	}
	for kind, choice := range override {
		if !choice.empty() {
			out[kind] = choice
		}
	}
	return out
}

// Source records how a provider was chosen.
type Source string

const (
	SourceOverride Source = "override"
	SourceDefault  Source = "default"
	SourceRanked   Source = "ranked"
)

// Resolution is the provider picked for a requirement.
type Resolution struct {
	Construct  adapter.Kind
	ProviderID string
	Instance   any
	Source     Source
}

// ResolveProviderSelection picks the provider backing req. Call-level
// overrides win outright, then handle defaults; otherwise candidates for the
// construct are ranked by descending priority (registration order breaks
// ties) and the first one declaring every required capability is chosen.
// A nil resolution means the slot stays empty. The function is pure.
func ResolveProviderSelection(req Requirement, candidates []Provider, overrides, defaults Selection) (*Resolution, diag.Entries) {
	var matching []Provider
	for _, provider := range candidates {
		if provider.Construct == req.Construct {
			matching = append(matching, provider)
		}
	}
	var diags diag.Entries
	for _, pinned := range []struct {
		choice Choice
		source Source
	}{
		{overrides[req.Construct], SourceOverride},
		{defaults[req.Construct], SourceDefault},
	} {
		if pinned.choice.empty() {
			continue
		}
		if pinned.choice.Instance != nil {
			return &Resolution{
				Construct:  req.Construct,
				ProviderID: pinned.choice.ProviderID,
				Instance:   pinned.choice.Instance,
				Source:     pinned.source,
			}, nil
		}
		for _, provider := range matching {
			if provider.ID == pinned.choice.ProviderID {
				return &Resolution{
					Construct:  req.Construct,
					ProviderID: provider.ID,
					Instance:   provider.Instance,
					Source:     pinned.source,
				}, nil
			}
		}
		diags = append(diags, diag.Warn(diag.KindConstructCapabilityMissed,
			"%s selection names unknown provider %s for %s", pinned.source, pinned.choice.ProviderID, req.Construct).
			With("construct", string(req.Construct)).With("provider", pinned.choice.ProviderID))
	}

	seen := make(map[string]int, len(matching))
	for _, provider := range matching {
		seen[provider.ID]++
		if seen[provider.ID] == 2 {
			diags = append(diags, diag.Warn(diag.KindConstructProviderConflict,
				"multiple providers registered as %s for %s", provider.ID, req.Construct).
				With("construct", string(req.Construct)).With("provider", provider.ID))
		}
	}

	ranked := append([]Provider(nil), matching...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Priority > ranked[j].Priority
	})
	for _, provider := range ranked {
		if provider.Instance == nil || !provider.Satisfies(req.Capabilities) {
			continue
		}
		return &Resolution{
			Construct:  req.Construct,
			ProviderID: provider.ID,
			Instance:   provider.Instance,
			Source:     SourceRanked,
		}, diags
	}

	missing := diag.Warn
	if req.Required {
		missing = diag.Error
	}
	diags = append(diags, missing(diag.KindConstructCapabilityMissed,
		"no provider for %s satisfies capabilities [%s]", req.Construct, strings.Join(req.Capabilities, ", ")).
		With("construct", string(req.Construct)).
		With("capabilities", cloneStrings(req.Capabilities)).
		With("candidates", len(matching)))
	return nil, diags
}

// ResolveBundle resolves every requirement plus an implicit optional
// requirement for each construct that has candidates but no explicit
// requirement. Requirements for the same construct are combined: the union of
// capabilities is asked for, and the construct is required if any
// requirement says so.
func ResolveBundle(reqs []Requirement, candidates []Provider, overrides, defaults Selection) (adapter.Bundle, map[adapter.Kind]*Resolution, diag.Entries) {
	combined := map[adapter.Kind]Requirement{}
	for _, req := range reqs {
		current := combined[req.Construct]
		current.Construct = req.Construct
		current.Required = current.Required || req.Required
		for _, name := range req.Capabilities {
			if !containsString(current.Capabilities, name) {
				current.Capabilities = append(current.Capabilities, name)
			}
		}
		combined[req.Construct] = current
	}
	for _, provider := range candidates {
		if _, ok := combined[provider.Construct]; !ok {
			combined[provider.Construct] = Requirement{Construct: provider.Construct}
		}
	}
	for kind, choice := range defaults.Merge(overrides) {
		if _, ok := combined[kind]; !ok && !choice.empty() {
			combined[kind] = Requirement{Construct: kind}
		}
	}

	var bundle adapter.Bundle
	var diags diag.Entries
	resolutions := make(map[adapter.Kind]*Resolution, len(combined))
	for _, kind := range adapter.Kinds() {
		req, ok := combined[kind]
		if !ok {
			continue
		}
		resolution, entries := ResolveProviderSelection(req, candidates, overrides, defaults)
		diags = append(diags, entries...)
		if resolution == nil {
			continue
		}
		if !bundle.Set(kind, resolution.Instance) {
			diags = append(diags, diag.Error(diag.KindConstructCapabilityMissed,
				"provider %s does not implement %s", resolution.ProviderID, kind).
				With("construct", string(kind)).With("provider", resolution.ProviderID))
			continue
		}
		resolutions[kind] = resolution
	}
	return bundle, resolutions, diags
}

// ValidateAdapterRequirements checks the constructs and capabilities each
// resolved adapter declares it needs. providers names the provider behind
// each construct for the diagnostic payload.
func ValidateAdapterRequirements(bundle adapter.Bundle, caps Set, providers map[adapter.Kind]string) diag.Entries {
	var diags diag.Entries
	for _, kind := range bundle.Present() {
		for _, instance := range declarers(bundle, kind) {
			for _, req := range instance.Requirements() {
				satisfied := false
				switch req.Kind {
				case adapter.RequirementConstruct:
					if target, err := adapter.ParseKind(req.Name); err == nil {
						satisfied = bundle.Has(target)
					}
				case adapter.RequirementCapability:
					satisfied = caps.Has(req.Name)
				}
				if satisfied {
					continue
				}
				diags = append(diags, diag.Warn(diag.KindAdapterRequirementMissing,
					"%s adapter requires %s %s", kind, req.Kind, req.Name).
					With("construct", string(kind)).
					With("provider", providers[kind]).
					With("requirement", req.Name).
					With("requirement_kind", string(req.Kind)))
			}
		}
	}
	return diags
}

func declarers(bundle adapter.Bundle, kind adapter.Kind) []adapter.RequirementDeclarer {
	if kind == adapter.KindTools {
		var out []adapter.RequirementDeclarer
		for _, tool := range bundle.Tools {
			if d, ok := tool.(adapter.RequirementDeclarer); ok {
				out = append(out, d)
			}
		}
		return out
	}
	if d, ok := bundle.Get(kind).(adapter.RequirementDeclarer); ok {
		return []adapter.RequirementDeclarer{d}
	}
	return nil
}

func containsString(values []string, value string) bool {
	for _, existing := range values {
		if existing == value {
			return true
		}
	}
	return false
}
