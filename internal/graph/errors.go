package graph

import (
	"errors"
	"strings"
)

// ErrNoEntry is returned when a graph is requested without an entry module
var ErrNoEntry = errors.New("no entry module")

// CycleError reports a circular import. Path starts and ends with the same module.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "import cycle detected: " + strings.Join(e.Path, " -> ")
}

// Contains reports whether id takes part in the cycle.
func (e *CycleError) Contains(id string) bool {
	for _, p := range e.Path {
		if p == id {
			return true
		}
	}
	return false
}

// BuildError wraps a failed traversal with the modules it reached before
// failing, so callers can keep watching files that are not in any good graph yet.
type BuildError struct {
	Visited []string
	Err     error
}

func (e *BuildError) Error() string {
	return e.Err.Error()
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Visited returns the modules a failed build reached, or nil.
func Visited(err error) []string {
	var buildErr *BuildError
	if errors.As(err, &buildErr) {
		return buildErr.Visited
	}
	return nil
}
