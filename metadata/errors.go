package metadata

import (
	"fmt"
)

// ParseError reports a descriptor that is not a well-formed JSON object.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying decode error.
func (e *ParseError) Unwrap() error { return e.Err }

// SchemaError reports a missing or invalid descriptor field.
type SchemaError struct {
	Path   string
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema %s: %s: %s", e.Path, e.Field, e.Reason)
}

// ConsistencyError reports a declared duration that disagrees with
// total_frames/fps by more than DurationTolerance.
type ConsistencyError struct {
	Path     string
	Declared float64
	Computed float64
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency %s: duration_sec %.3f disagrees with total_frames/fps %.3f",
		e.Path, e.Declared, e.Computed)
}
