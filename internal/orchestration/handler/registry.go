package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/dyncomp/internal/instance"
	"github.com/zjrosen/dyncomp/internal/log"
	"github.com/zjrosen/dyncomp/internal/orchestration/command"
	"github.com/zjrosen/dyncomp/internal/orchestration/events"
	"github.com/zjrosen/dyncomp/internal/registry"
)

// Detacher is implemented by host values that can leave their container.
type Detacher interface {
	Detach()
}

// ===========================================================================
// RemoveHandler
// ===========================================================================

// RemoveHandler handles CmdRemove commands.
type RemoveHandler struct {
	ws *Workspace
}

// NewRemoveHandler creates a new RemoveHandler.
func NewRemoveHandler(ws *Workspace) *RemoveHandler {
	return &RemoveHandler{ws: ws}
}

// Handle unregisters the identifier and detaches the host value. Removing an
// unknown identifier is a no-op.
func (h *RemoveHandler) Handle(_ context.Context, cmd command.Command) (*command.CommandResult, error) {
	removeCmd := cmd.(*command.RemoveCommand)

	h.ws.discard(removeCmd.InstanceID)
	inst, ok := h.ws.Registry.Unregister(removeCmd.InstanceID)
	if !ok {
		return SuccessResult(false), nil
	}
	if d, isDetacher := instance.Unwrap(inst).(Detacher); isDetacher {
		d.Detach()
	}

	log.Debug(log.CatRegistry, "instance removed", "id", removeCmd.InstanceID)
	return SuccessWithEvents(true, events.InstanceRemoved{ID: removeCmd.InstanceID, At: time.Now()}), nil
}

// ===========================================================================
// RenameHandler
// ===========================================================================

// RenameHandler handles CmdRename and CmdRenameMatching commands.
type RenameHandler struct {
	ws *Workspace
}

// NewRenameHandler creates a new RenameHandler.
func NewRenameHandler(ws *Workspace) *RenameHandler {
	return &RenameHandler{ws: ws}
}

// Handle moves one identifier, or every identifier containing a fragment.
func (h *RenameHandler) Handle(_ context.Context, cmd command.Command) (*command.CommandResult, error) {
	renameCmd := cmd.(*command.RenameCommand)

	var moved []registry.Renamed
	if renameCmd.Matching {
		var err error
		moved, err = h.ws.Registry.RenameMatching(renameCmd.From, renameCmd.To)
		if err != nil {
			return nil, err
		}
	} else {
		if err := h.ws.Registry.Rename(renameCmd.From, renameCmd.To); err != nil {
			return nil, err
		}
		moved = []registry.Renamed{{From: renameCmd.From, To: renameCmd.To}}
	}

	now := time.Now()
	evts := make([]any, 0, len(moved))
	for _, m := range moved {
		evts = append(evts, events.InstanceRenamed{From: m.From, To: m.To, At: now})
		log.Debug(log.CatRegistry, "instance renamed", "from", m.From, "to", m.To)
	}
	return SuccessWithEvents(moved, evts...), nil
}

// ===========================================================================
// QueryHandler
// ===========================================================================

// QueryHandler handles CmdQuery commands.
type QueryHandler struct {
	ws *Workspace
}

// NewQueryHandler creates a new QueryHandler.
func NewQueryHandler(ws *Workspace) *QueryHandler {
	return &QueryHandler{ws: ws}
}

// LookupResult is the data of a QueryLookup.
type LookupResult struct {
	Instance instance.Instance
	Found    bool
}

// Handle answers a registry query.
func (h *QueryHandler) Handle(_ context.Context, cmd command.Command) (*command.CommandResult, error) {
	q := cmd.(*command.QueryCommand)

	switch q.Kind {
	case command.QueryLookup:
		inst, ok := h.ws.Registry.Lookup(q.Key)
		return SuccessResult(LookupResult{Instance: inst, Found: ok}), nil
	case command.QueryIDOf:
		return SuccessResult(h.ws.Registry.ReverseLookup(q.Value)), nil
	case command.QueryIDs:
		return SuccessResult(h.ws.Registry.IDs()), nil
	case command.QueryLastUsedID:
		return SuccessResult(h.ws.lastUsedID), nil
	case command.QueryGenerateID:
		return SuccessResult(h.ws.generateID()), nil
	case command.QueryPending:
		return SuccessResult(h.ws.PendingIDs()), nil
	default:
		return nil, fmt.Errorf("%w: unknown query kind %q", command.ErrInvalidCommand, q.Kind)
	}
}

// generateID returns a random identifier not currently registered.
func (w *Workspace) generateID() string {
	for {
		id := uuid.NewString()
		if !w.Registry.Contains(id) {
			return id
		}
	}
}
