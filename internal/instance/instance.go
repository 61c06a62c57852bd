// Package instance models the objects a build creates: opaque values that
// expose a table of named members which can be invoked by name.
package instance

import (
	"context"
	"reflect"
	"strings"
)

// Member describes one invokable member of an Instance.
type Member struct {
	// Name is the member name as exposed by the instance.
	Name string
	// Params holds the declared parameter types in order.
	Params []reflect.Type
}

// Arity returns the number of declared parameters.
func (m Member) Arity() int {
	return len(m.Params)
}

// String renders the member as Name(type, type).
func (m Member) String() string {
	var b strings.Builder
	b.WriteString(m.Name)
	b.WriteByte('(')
	for i, p := range m.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteByte(')')
	return b.String()
}

// Instance is a created object exposing named, reflectable members.
//
// InvokeMember receives arguments already converted to the member's declared
// parameter types. name and len(args) identify the member exactly as listed
// by Members. Implementations must be comparable (pointer types in practice)
// because the registry keys its reverse map on instance identity.
type Instance interface {
	Members() []Member
	InvokeMember(ctx context.Context, name string, args []any) (any, error)
}

// Unwrapper is implemented by instances that wrap another value.
type Unwrapper interface {
	Unwrap() any
}

// Unwrap returns the value wrapped by inst, or inst itself.
func Unwrap(inst Instance) any {
	if u, ok := inst.(Unwrapper); ok {
		return u.Unwrap()
	}
	return inst
}

// Identity returns the comparable key that identifies inst: the wrapped value
// for adapters, the instance itself otherwise. Two adapters around the same
// pointer share an identity.
func Identity(v any) any {
	if inst, ok := v.(Instance); ok {
		v = Unwrap(inst)
	}
	if v == nil || !reflect.TypeOf(v).Comparable() {
		return nil
	}
	return v
}

// TypeName returns the dynamic type of the value behind inst, used as a cache
// key by the dispatcher and in log output.
func TypeName(inst Instance) string {
	t := reflect.TypeOf(Unwrap(inst))
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
