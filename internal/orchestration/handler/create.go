package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/zjrosen/dyncomp/internal/instance"
	"github.com/zjrosen/dyncomp/internal/log"
	"github.com/zjrosen/dyncomp/internal/orchestration/command"
	"github.com/zjrosen/dyncomp/internal/orchestration/events"
	"github.com/zjrosen/dyncomp/internal/registry"
	"github.com/zjrosen/dyncomp/internal/schema"
)

// ===========================================================================
// CreateHandler
// ===========================================================================

// CreateHandler handles CmdCreate commands.
type CreateHandler struct {
	ws *Workspace
}

// NewCreateHandler creates a new CreateHandler.
func NewCreateHandler(ws *Workspace) *CreateHandler {
	return &CreateHandler{ws: ws}
}

// Handle creates one instance. A failure is reported through the result so
// the BuildFailed event still reaches subscribers.
func (h *CreateHandler) Handle(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	createCmd := cmd.(*command.CreateCommand)

	container, err := h.ws.container(createCmd.Container)
	if err != nil {
		cerr := &CreationError{ID: createCmd.InstanceID, TypeName: createCmd.TypeName, Err: err}
		return FailureWithEvents(cerr, buildFailed("", cerr)), nil
	}

	rec := schema.CreationRecord{
		ID:         createCmd.InstanceID,
		Type:       createCmd.TypeName,
		Properties: createCmd.Properties,
	}
	inst, completed, cerr := h.ws.createOne(ctx, 0, rec, container)
	if cerr != nil {
		return FailureWithEvents(cerr, append(completed, buildFailed("", cerr))...), nil
	}
	return SuccessWithEvents(inst, completed...), nil
}

// ===========================================================================
// BuildHandler
// ===========================================================================

// BuildHandler handles CmdBuild commands.
type BuildHandler struct {
	ws *Workspace
}

// NewBuildHandler creates a new BuildHandler.
func NewBuildHandler(ws *Workspace) *BuildHandler {
	return &BuildHandler{ws: ws}
}

// BuildResult summarizes a finished build.
type BuildResult struct {
	Name    string
	Created []string
}

// Handle creates every record of the plan in order. Records without a parent
// are placed in the root; the rest go into their already registered parent.
// The first failure stops the build and nothing is rolled back.
func (h *BuildHandler) Handle(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	buildCmd := cmd.(*command.BuildCommand)

	root, err := h.ws.container(buildCmd.Root)
	if err != nil {
		cerr := &CreationError{Err: err}
		return FailureWithEvents(cerr, buildFailed(buildCmd.Name, cerr)), nil
	}

	var (
		evts      []any
		published int
	)
	result := &BuildResult{Name: buildCmd.Name, Created: make([]string, 0, len(buildCmd.Plan))}
	fail := func(cerr *CreationError) *command.CommandResult {
		res := FailureWithEvents(cerr, append(evts, buildFailed(buildCmd.Name, cerr))...)
		res.Published = published
		return res
	}

	for i, rec := range buildCmd.Plan {
		container := root
		if rec.HasParent() {
			parent, ok := h.ws.Registry.Lookup(rec.ParentID)
			if !ok {
				cerr := &CreationError{
					Index:    i,
					ID:       rec.ID,
					TypeName: rec.Type,
					Err:      fmt.Errorf("%w: %q", ErrMissingParent, rec.ParentID),
				}
				return fail(cerr), nil
			}
			container = instance.Unwrap(parent)
		}

		_, completed, cerr := h.ws.createOne(ctx, i, rec, container)
		evts = append(evts, completed...)
		published += h.ws.stream(completed)
		if cerr != nil {
			log.Warn(log.CatBuild, "build aborted",
				"name", buildCmd.Name, "index", i, "id", rec.ID, "created", len(result.Created))
			return fail(cerr), nil
		}
		result.Created = append(result.Created, rec.ID)
	}

	evts = append(evts, events.SchemaCompleted{
		Name:       buildCmd.Name,
		Parameters: buildCmd.Parameters,
		Created:    len(result.Created),
		At:         time.Now(),
	})
	log.Info(log.CatBuild, "build completed", "name", buildCmd.Name, "created", len(result.Created))
	res := SuccessWithEvents(result, evts...)
	res.Published = published
	return res, nil
}

// createOne runs one creation step. The returned events hold the
// CreationCompleted event when the instance got registered, even if applying
// its properties failed afterwards.
func (w *Workspace) createOne(ctx context.Context, index int, rec schema.CreationRecord, container any) (instance.Instance, []any, *CreationError) {
	fail := func(err error) *CreationError {
		return &CreationError{Index: index, ID: rec.ID, TypeName: rec.Type, Err: err}
	}

	if w.Registry.Contains(rec.ID) {
		return nil, nil, fail(fmt.Errorf("%w: %q", registry.ErrDuplicateIdentifier, rec.ID))
	}
	w.lastUsedID = rec.ID

	if len(rec.Properties) > 0 {
		w.enqueue(rec.ID, rec.Properties)
	}

	inst, err := w.Factory.Create(ctx, rec.Type, container)
	if err != nil {
		w.discard(rec.ID)
		return nil, nil, fail(err)
	}
	if err := w.Registry.Register(rec.ID, inst); err != nil {
		w.discard(rec.ID)
		return nil, nil, fail(err)
	}
	log.Debug(log.CatBuild, "instance created", "id", rec.ID, "type", rec.Type)

	completed := []any{events.CreationCompleted{
		Instance: inst,
		ID:       rec.ID,
		TypeName: rec.Type,
		At:       time.Now(),
	}}
	if err := w.complete(ctx, rec.ID, inst); err != nil {
		return inst, completed, fail(err)
	}
	return inst, completed, nil
}

// container resolves a placement target. Identifiers are looked up in the
// registry and instances are unwrapped to the host value.
func (w *Workspace) container(target any) (any, error) {
	switch t := target.(type) {
	case string:
		inst, ok := w.Registry.Lookup(t)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingParent, t)
		}
		return instance.Unwrap(inst), nil
	case instance.Instance:
		return instance.Unwrap(t), nil
	default:
		return t, nil
	}
}

func buildFailed(name string, cerr *CreationError) events.BuildFailed {
	return events.BuildFailed{
		Name:    name,
		Index:   cerr.Index,
		ID:      cerr.ID,
		Err:     cerr,
		Message: cerr.Error(),
		At:      time.Now(),
	}
}
