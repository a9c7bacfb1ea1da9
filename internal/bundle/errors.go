package bundle

import "fmt"

// EmitError reports a graph which violates the emitter's invariants, such as an
// edge whose target is not in the module table. It indicates a bug rather than
// a problem with the user's sources.
type EmitError struct {
	Module string
	Target string
	Err    error
}

func (e *EmitError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("emit %s: dependency %s: %v", e.Module, e.Target, e.Err)
	}
	return fmt.Sprintf("emit %s: %v", e.Module, e.Err)
}

func (e *EmitError) Unwrap() error {
	return e.Err
}
