package parse

import (
	"fmt"
)

// ParseError reports module source that esbuild could not parse.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Message string
	// Additional counts further errors reported for the same file
	Additional int
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("%s:%d:%d: %s", e.Path, e.Line, e.Column, e.Message)
	if e.Additional > 0 {
		msg = fmt.Sprintf("%s (and %d more errors)", msg, e.Additional)
	}
	return msg
}
