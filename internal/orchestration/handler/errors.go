package handler

import (
	"errors"
	"fmt"
)

var (
	// ErrCreationFailed wraps every failure of a create or build step.
	ErrCreationFailed = errors.New("creation failed")
	// ErrMissingParent is returned when a record names a parent that is not
	// registered when the record is processed.
	ErrMissingParent = errors.New("missing parent")
)

// CreationError reports which plan record failed and why.
type CreationError struct {
	Index    int
	ID       string
	TypeName string
	Err      error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("creation failed at record %d (%s %q): %v", e.Index, e.TypeName, e.ID, e.Err)
}

// Unwrap exposes ErrCreationFailed and the cause.
func (e *CreationError) Unwrap() []error {
	return []error{ErrCreationFailed, e.Err}
}
