package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kingrea/lattice-recipes/internal/diag"
)

// ErrInvalidPlan is wrapped by BuildError when the compiled plan cannot run.
var ErrInvalidPlan = errors.New("workflow engine: invalid plan")

// BuildError carries the error-level diagnostics that stopped Build.
type BuildError struct {
	Recipe      string
	Diagnostics diag.Entries
}

func (e *BuildError) Error() string {
	errs := e.Diagnostics.Errors()
	parts := make([]string, 0, len(errs))
	for _, entry := range errs {
		parts = append(parts, entry.Kind+": "+entry.Message)
	}
	name := e.Recipe
	if name == "" {
		name = "recipe"
	}
	return fmt.Sprintf("workflow engine: build %s: %s", name, strings.Join(parts, "; "))
}

// Unwrap lets callers match ErrInvalidPlan.
func (e *BuildError) Unwrap() error { return ErrInvalidPlan }
