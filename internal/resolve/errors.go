package resolve

import (
	"errors"
	"fmt"
)

// ErrModuleNotFound indicates no file matched a specifier under the resolver rules
var ErrModuleNotFound = errors.New("module not found")

// ResolutionError reports a specifier that could not be mapped to a file.
type ResolutionError struct {
	Specifier string
	FromDir   string
	// Importer is the module containing the specifier, when known
	Importer string
	Err      error
}

func (e *ResolutionError) Error() string {
	if e.Importer != "" {
		return fmt.Sprintf("cannot resolve %q from %s: %v", e.Specifier, e.Importer, e.Err)
	}
	return fmt.Sprintf("cannot resolve %q in %s: %v", e.Specifier, e.FromDir, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}
