// Package handler implements the build orchestrator as command handlers run
// by the serial executor. A Workspace holds the state those handlers share;
// it is only ever touched from the executor goroutine.
package handler

import (
	"context"
	"fmt"

	"github.com/zjrosen/dyncomp/internal/dispatch"
	"github.com/zjrosen/dyncomp/internal/factory"
	"github.com/zjrosen/dyncomp/internal/instance"
	"github.com/zjrosen/dyncomp/internal/log"
	"github.com/zjrosen/dyncomp/internal/registry"
	"github.com/zjrosen/dyncomp/internal/schema"
)

// continuation applies properties once its identifier has been created.
type continuation struct {
	properties schema.Properties
}

// Workspace is the session state owned by the executor.
type Workspace struct {
	Registry   *registry.Registry
	Factory    factory.Factory
	Dispatcher *dispatch.Dispatcher

	// Emit, when set, publishes CreationCompleted events of a build as each
	// record is created instead of with the build's result.
	Emit func(event any)

	pending    map[string][]continuation
	waiters    map[string][]chan instance.Instance
	lastUsedID string
}

// NewWorkspace creates a Workspace with an empty registry.
func NewWorkspace(f factory.Factory, d *dispatch.Dispatcher) *Workspace {
	if d == nil {
		d = dispatch.New()
	}
	return &Workspace{
		Registry:   registry.New(),
		Factory:    f,
		Dispatcher: d,
		pending:    make(map[string][]continuation),
		waiters:    make(map[string][]chan instance.Instance),
	}
}

// LastUsedID returns the identifier of the most recent creation attempt that
// passed the uniqueness check.
func (w *Workspace) LastUsedID() string {
	return w.lastUsedID
}

// PendingIDs returns identifiers that still have continuations queued.
func (w *Workspace) PendingIDs() []string {
	ids := make([]string, 0, len(w.pending))
	for id := range w.pending {
		ids = append(ids, id)
	}
	return ids
}

// stream hands evts to Emit and reports how many were published.
func (w *Workspace) stream(evts []any) int {
	if w.Emit == nil {
		return 0
	}
	for _, e := range evts {
		w.Emit(e)
	}
	return len(evts)
}

func (w *Workspace) enqueue(id string, props schema.Properties) {
	w.pending[id] = append(w.pending[id], continuation{properties: props})
}

func (w *Workspace) discard(id string) {
	delete(w.pending, id)
}

// complete fires and removes every continuation for id, then resolves
// waiters. The first failing continuation stops the rest.
func (w *Workspace) complete(ctx context.Context, id string, inst instance.Instance) error {
	conts := w.pending[id]
	delete(w.pending, id)

	for _, c := range conts {
		if err := w.Dispatcher.SetAll(ctx, inst, c.properties.All()); err != nil {
			return fmt.Errorf("apply properties to %q: %w", id, err)
		}
		log.Debug(log.CatBuild, "properties applied", "id", id, "count", len(c.properties))
	}

	w.resolve(id, inst)
	return nil
}

func (w *Workspace) resolve(id string, inst instance.Instance) {
	for _, ch := range w.waiters[id] {
		ch <- inst
	}
	delete(w.waiters, id)
}

func (w *Workspace) addWaiter(id string, ch chan instance.Instance) {
	if inst, ok := w.Registry.Lookup(id); ok {
		ch <- inst
		return
	}
	w.waiters[id] = append(w.waiters[id], ch)
}

func (w *Workspace) removeWaiter(id string, ch chan instance.Instance) {
	list := w.waiters[id]
	for i, c := range list {
		if c == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(w.waiters, id)
	} else {
		w.waiters[id] = list
	}
}

// resolveTarget turns an identifier or instance into an Instance.
func (w *Workspace) resolveTarget(target any) (instance.Instance, error) {
	switch t := target.(type) {
	case string:
		inst, ok := w.Registry.Lookup(t)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not registered", registry.ErrInvalidIdentifier, t)
		}
		return inst, nil
	case instance.Instance:
		return t, nil
	case nil:
		return nil, dispatch.ErrNilInstance
	default:
		return instance.Reflect(t), nil
	}
}
