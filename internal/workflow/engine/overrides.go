package engine

import (
	"github.com/kingrea/lattice-recipes/internal/adapter"
	"github.com/kingrea/lattice-recipes/internal/capability"
	"github.com/kingrea/lattice-recipes/internal/diag"
	"github.com/kingrea/lattice-recipes/internal/retry"
)

// Overrides selectively replaces runtime configuration. Handle defaults and
// per-call overrides share the shape; call values win.
type Overrides struct {
	// Adapters replace resolved constructs wholesale.
	Adapters adapter.Bundle
	// Retry deep-merges per adapter kind; call leaves win.
	Retry retry.Patches
	// Selections pin constructs to a provider id or instance.
	Selections capability.Selection
	// DiagnosticsMode switches the mode for one execution.
	DiagnosticsMode *diag.Mode
}

// Merge returns o with call applied on top.
func (o Overrides) Merge(call Overrides) Overrides {
	out := Overrides{
		Adapters:        o.Adapters.Merge(call.Adapters),
		Retry:           o.Retry.Merge(call.Retry),
		Selections:      o.Selections.Merge(call.Selections),
		DiagnosticsMode: o.DiagnosticsMode,
	}
	if call.DiagnosticsMode != nil {
		mode := *call.DiagnosticsMode
		out.DiagnosticsMode = &mode
	}
	return out
}

// Mode returns a pointer for Overrides.DiagnosticsMode.
func Mode(m diag.Mode) *diag.Mode { return &m }
