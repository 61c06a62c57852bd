package schema

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedSchemaVersion = errors.New("unsupported schema version")
	ErrParameterCountMismatch   = errors.New("parameter count mismatch")
	ErrMissingRequiredField     = errors.New("missing required field")
	ErrEmptySchema              = errors.New("schema is empty or has no components")
	ErrMalformedSchema          = errors.New("malformed schema")
	ErrDuplicateRecord          = errors.New("duplicate record id")
	ErrParentOrder              = errors.New("parent does not precede child")
)

// FieldError locates a problem inside the component tree.
type FieldError struct {
	// Path is the node location, e.g. components[0].components[2].
	Path  string
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Path, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}
