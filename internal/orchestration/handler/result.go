package handler

import "github.com/zjrosen/dyncomp/internal/orchestration/command"

// SuccessWithEvents returns a successful result carrying data and events.
func SuccessWithEvents(data any, evts ...any) *command.CommandResult {
	return &command.CommandResult{Success: true, Data: data, Events: evts}
}

// SuccessResult returns a successful result carrying data only.
func SuccessResult(data any) *command.CommandResult {
	return &command.CommandResult{Success: true, Data: data}
}

// FailureWithEvents returns a failed result that still publishes evts, so
// work finished before the failure is reported.
func FailureWithEvents(err error, evts ...any) *command.CommandResult {
	return &command.CommandResult{Success: false, Error: err, Events: evts}
}
