package handler

import (
	"github.com/zjrosen/dyncomp/internal/orchestration/command"
	"github.com/zjrosen/dyncomp/internal/orchestration/processor"
)

// RegisterAll wires every handler onto p, sharing ws.
func RegisterAll(p *processor.CommandProcessor, ws *Workspace) {
	rename := NewRenameHandler(ws)
	await := NewAwaitHandler(ws)

	p.RegisterHandler(command.CmdCreate, NewCreateHandler(ws))
	p.RegisterHandler(command.CmdBuild, NewBuildHandler(ws))
	p.RegisterHandler(command.CmdRemove, NewRemoveHandler(ws))
	p.RegisterHandler(command.CmdRename, rename)
	p.RegisterHandler(command.CmdRenameMatching, rename)
	p.RegisterHandler(command.CmdQuery, NewQueryHandler(ws))
	p.RegisterHandler(command.CmdInvoke, NewInvokeHandler(ws))
	p.RegisterHandler(command.CmdAwait, await)
	p.RegisterHandler(command.CmdCancelAwait, await)
}
