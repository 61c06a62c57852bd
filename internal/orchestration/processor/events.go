package processor

import (
	"github.com/zjrosen/dyncomp/internal/orchestration/command"
)

// CommandErrorEvent is published when a command fails validation, has no
// handler, or its handler returns an error.
type CommandErrorEvent struct {
	CommandID   string
	CommandType command.CommandType
	Error       error
}
