package handler

import (
	"context"

	"github.com/zjrosen/dyncomp/internal/orchestration/command"
)

// AwaitHandler handles CmdAwait and CmdCancelAwait commands.
type AwaitHandler struct {
	ws *Workspace
}

// NewAwaitHandler creates a new AwaitHandler.
func NewAwaitHandler(ws *Workspace) *AwaitHandler {
	return &AwaitHandler{ws: ws}
}

// Handle registers or withdraws a waiter. An identifier that is already
// registered resolves the waiter at once.
func (h *AwaitHandler) Handle(_ context.Context, cmd command.Command) (*command.CommandResult, error) {
	awaitCmd := cmd.(*command.AwaitCommand)

	if awaitCmd.Type() == command.CmdCancelAwait {
		h.ws.removeWaiter(awaitCmd.InstanceID, awaitCmd.Result)
		return SuccessResult(nil), nil
	}
	h.ws.addWaiter(awaitCmd.InstanceID, awaitCmd.Result)
	return SuccessResult(nil), nil
}
