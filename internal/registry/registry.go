// Package registry keeps the bidirectional identifier <-> instance mapping of
// a build session.
//
// A Registry is not safe for concurrent use. The orchestration session owns
// one and only touches it from its serial executor.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/zjrosen/dyncomp/internal/instance"
	"github.com/zjrosen/dyncomp/internal/log"
)

var (
	// ErrDuplicateIdentifier is returned when registering an id that is taken.
	ErrDuplicateIdentifier = errors.New("duplicate identifier")
	// ErrInvalidIdentifier is returned by renames whose source is unknown or
	// whose target is taken.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// Renamed records one identifier move performed by RenameMatching.
type Renamed struct {
	From string
	To   string
}

// Registry maps identifiers to instances and back. The two maps are always
// exact inverses.
type Registry struct {
	byID       map[string]instance.Instance
	byInstance map[any]string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byID:       make(map[string]instance.Instance),
		byInstance: make(map[any]string),
	}
}

// Register binds id to inst.
func (r *Registry) Register(id string, inst instance.Instance) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidIdentifier)
	}
	if inst == nil {
		return fmt.Errorf("%w: nil instance for %q", ErrInvalidIdentifier, id)
	}
	if _, taken := r.byID[id]; taken {
		return fmt.Errorf("%w: %q", ErrDuplicateIdentifier, id)
	}
	key := instance.Identity(inst)
	if key == nil {
		return fmt.Errorf("%w: instance for %q is not comparable", ErrInvalidIdentifier, id)
	}
	if prev, bound := r.byInstance[key]; bound {
		return fmt.Errorf("%w: instance already registered as %q", ErrDuplicateIdentifier, prev)
	}

	r.byID[id] = inst
	r.byInstance[key] = id
	log.Debug(log.CatRegistry, "registered", "id", id, "type", instance.TypeName(inst))
	return nil
}

// Unregister removes id and its instance. Unknown ids are ignored.
func (r *Registry) Unregister(id string) (instance.Instance, bool) {
	inst, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	delete(r.byID, id)
	delete(r.byInstance, instance.Identity(inst))
	log.Debug(log.CatRegistry, "unregistered", "id", id)
	return inst, true
}

// Rename moves the instance registered as oldID to newID.
func (r *Registry) Rename(oldID, newID string) error {
	if err := r.checkRename(oldID, newID); err != nil {
		return err
	}
	r.move(oldID, newID)
	log.Debug(log.CatRegistry, "renamed", "from", oldID, "to", newID)
	return nil
}

// RenameMatching rewrites every identifier containing fragment by replacing
// each occurrence of fragment with replacement. The precondition is the one
// of Rename applied to (fragment, replacement). All targets are checked before
// anything moves, so a collision leaves the registry untouched.
func (r *Registry) RenameMatching(fragment, replacement string) ([]Renamed, error) {
	if err := r.checkRename(fragment, replacement); err != nil {
		return nil, err
	}

	var moves []Renamed
	for _, id := range r.IDs() {
		if strings.Contains(id, fragment) {
			moves = append(moves, Renamed{From: id, To: strings.ReplaceAll(id, fragment, replacement)})
		}
	}

	moving := make(map[string]bool, len(moves))
	for _, m := range moves {
		moving[m.From] = true
	}
	targets := make(map[string]bool, len(moves))
	for _, m := range moves {
		if m.To == "" {
			return nil, fmt.Errorf("%w: rewriting %q yields an empty id", ErrInvalidIdentifier, m.From)
		}
		if targets[m.To] {
			return nil, fmt.Errorf("%w: %q would be produced twice", ErrInvalidIdentifier, m.To)
		}
		targets[m.To] = true
		if _, taken := r.byID[m.To]; taken && !moving[m.To] {
			return nil, fmt.Errorf("%w: %q is already taken", ErrInvalidIdentifier, m.To)
		}
	}

	detached := make(map[string]instance.Instance, len(moves))
	for _, m := range moves {
		detached[m.From] = r.byID[m.From]
		delete(r.byID, m.From)
	}
	for _, m := range moves {
		inst := detached[m.From]
		r.byID[m.To] = inst
		r.byInstance[instance.Identity(inst)] = m.To
	}
	log.Debug(log.CatRegistry, "renamed matching", "fragment", fragment, "replacement", replacement, "count", len(moves))
	return moves, nil
}

func (r *Registry) checkRename(oldID, newID string) error {
	if _, ok := r.byID[oldID]; !ok {
		return fmt.Errorf("%w: %q is not registered", ErrInvalidIdentifier, oldID)
	}
	if newID == "" {
		return fmt.Errorf("%w: empty target id", ErrInvalidIdentifier)
	}
	if _, taken := r.byID[newID]; taken {
		return fmt.Errorf("%w: %q is already taken", ErrInvalidIdentifier, newID)
	}
	return nil
}

func (r *Registry) move(oldID, newID string) {
	inst := r.byID[oldID]
	delete(r.byID, oldID)
	r.byID[newID] = inst
	r.byInstance[instance.Identity(inst)] = newID
}

// Lookup returns the instance registered under id.
func (r *Registry) Lookup(id string) (instance.Instance, bool) {
	inst, ok := r.byID[id]
	return inst, ok
}

// ReverseLookup returns the id bound to v, or "" when v is not registered.
// v may be an Instance or the value an adapter wraps.
func (r *Registry) ReverseLookup(v any) string {
	key := instance.Identity(v)
	if key == nil {
		return ""
	}
	return r.byInstance[key]
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// IDs returns every registered identifier, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of registered instances.
func (r *Registry) Len() int {
	return len(r.byID)
}
