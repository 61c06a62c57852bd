package dispatch

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrMemberNotFound is returned when no member matches name and arity.
	ErrMemberNotFound = errors.New("member not found")
	// ErrInvalidArgument is returned when an argument cannot be coerced to
	// the declared parameter type.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvocationFailed wraps errors returned or panics raised by a member.
	ErrInvocationFailed = errors.New("invocation failed")
	// ErrNilInstance is returned when invoking on a nil instance.
	ErrNilInstance = errors.New("nil instance")
)

// ArgumentError reports an argument that could not be coerced.
type ArgumentError struct {
	Member   string
	Position int
	Value    any
	Want     reflect.Type
	Err      error
}

func (e *ArgumentError) Error() string {
	msg := fmt.Sprintf("invalid argument %d for %s: cannot use %q as %s", e.Position, e.Member, fmt.Sprint(e.Value), e.Want)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes ErrInvalidArgument and the parse error, if any.
func (e *ArgumentError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidArgument}
	}
	return []error{ErrInvalidArgument, e.Err}
}
