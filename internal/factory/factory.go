// Package factory turns type names into live instances.
package factory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/zjrosen/dyncomp/internal/instance"
	"github.com/zjrosen/dyncomp/internal/log"
)

// DefaultBaseNamespace prefixes type names that are not fully qualified.
const DefaultBaseNamespace = "host"

var (
	ErrUnknownType  = errors.New("unknown type")
	ErrConstruction = errors.New("construction failed")
)

// Factory creates an instance of typeName placed inside container.
type Factory interface {
	Create(ctx context.Context, typeName string, container any) (instance.Instance, error)
}

// Constructor builds the value behind a type. container is the placement
// context the instance is created in.
type Constructor func(container any) (any, error)

var disallowed = regexp.MustCompile(`[^.$@A-Za-z0-9_]`)

// ResolveTypeName strips characters outside [.$@A-Za-z0-9_]. A name that
// then contains a dot is fully qualified and returned as is; any other name
// is prefixed with base and a dot.
func ResolveTypeName(name, base string) string {
	clean := disallowed.ReplaceAllString(name, "")
	if clean == "" || strings.Contains(clean, ".") {
		return clean
	}
	if base == "" {
		base = DefaultBaseNamespace
	}
	return base + "." + clean
}

type entry struct {
	ctor        Constructor
	initializer string
}

// RegisterOption customizes a registration.
type RegisterOption func(*entry)

// WithInitializer names a no-argument member that is invoked right after
// construction, before the instance is handed back.
func WithInitializer(member string) RegisterOption {
	return func(e *entry) {
		e.initializer = member
	}
}

// Table is a Factory backed by registered constructors. It is safe for
// concurrent use.
type Table struct {
	mu    sync.RWMutex
	base  string
	types map[string]entry
}

// NewTable creates an empty Table resolving short names against base.
func NewTable(base string) *Table {
	if base == "" {
		base = DefaultBaseNamespace
	}
	return &Table{base: base, types: make(map[string]entry)}
}

// BaseNamespace returns the namespace short names resolve against.
func (t *Table) BaseNamespace() string {
	return t.base
}

// Register adds a constructor under typeName, resolved like lookups are.
func (t *Table) Register(typeName string, ctor Constructor, opts ...RegisterOption) error {
	full := ResolveTypeName(typeName, t.base)
	if full == "" {
		return fmt.Errorf("register %q: empty type name", typeName)
	}
	if ctor == nil {
		return fmt.Errorf("register %q: nil constructor", full)
	}
	e := entry{ctor: ctor}
	for _, opt := range opts {
		opt(&e)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.types[full]; exists {
		return fmt.Errorf("register %q: already registered", full)
	}
	t.types[full] = e
	return nil
}

// Types lists the registered fully-qualified names, sorted.
func (t *Table) Types() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.types))
	for name := range t.types {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Knows reports whether typeName resolves to a registered type.
func (t *Table) Knows(typeName string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.types[ResolveTypeName(typeName, t.base)]
	return ok
}

// Create resolves typeName, runs its constructor and initializer, and wraps
// the result as an Instance. Values that already implement Instance are
// returned unwrapped.
func (t *Table) Create(ctx context.Context, typeName string, container any) (inst instance.Instance, err error) {
	full := ResolveTypeName(typeName, t.base)

	t.mu.RLock()
	e, ok := t.types[full]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, full)
	}

	defer func() {
		if r := recover(); r != nil {
			inst = nil
			err = fmt.Errorf("%w: %s panicked: %v", ErrConstruction, full, r)
		}
	}()

	v, err := e.ctor(container)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConstruction, full, err)
	}
	if v == nil {
		return nil, fmt.Errorf("%w: %s: constructor returned nil", ErrConstruction, full)
	}

	if existing, isInst := v.(instance.Instance); isInst {
		inst = existing
	} else {
		inst = instance.Reflect(v)
	}

	if e.initializer != "" {
		if _, err := inst.InvokeMember(ctx, e.initializer, nil); err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %w", ErrConstruction, full, e.initializer, err)
		}
	}

	log.Debug(log.CatBuild, "constructed", "type", full)
	return inst, nil
}
