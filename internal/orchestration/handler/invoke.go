package handler

import (
	"context"

	"github.com/zjrosen/dyncomp/internal/orchestration/command"
)

// InvokeHandler handles CmdInvoke commands. Invocations run on the executor
// so members observe the same registry state as creations.
type InvokeHandler struct {
	ws *Workspace
}

// NewInvokeHandler creates a new InvokeHandler.
func NewInvokeHandler(ws *Workspace) *InvokeHandler {
	return &InvokeHandler{ws: ws}
}

// Handle calls the member or applies the property set.
func (h *InvokeHandler) Handle(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	invokeCmd := cmd.(*command.InvokeCommand)

	inst, err := h.ws.resolveTarget(invokeCmd.Target)
	if err != nil {
		return nil, err
	}

	if invokeCmd.Properties != nil {
		if err := h.ws.Dispatcher.SetAll(ctx, inst, invokeCmd.Properties.All()); err != nil {
			return nil, err
		}
		return SuccessResult(nil), nil
	}

	out, err := h.ws.Dispatcher.Invoke(ctx, inst, invokeCmd.Member, invokeCmd.Args)
	if err != nil {
		return nil, err
	}
	return SuccessResult(out), nil
}
