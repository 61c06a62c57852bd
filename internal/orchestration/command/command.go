// Package command defines the commands accepted by the serial executor. Every
// session operation becomes one command, so all registry and continuation
// state is touched by a single goroutine.
package command

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Command represents an explicit intent entering the executor.
type Command interface {
	// ID returns unique command identifier for tracing/correlation
	ID() string
	// Type returns the command type for routing to handlers
	Type() CommandType
	// Validate checks command preconditions before execution
	Validate() error
	// CreatedAt returns when command was created
	CreatedAt() time.Time
}

// CommandType identifies the kind of command for handler routing.
type CommandType string

const (
	// Creation Commands

	// CmdCreate creates one instance.
	CmdCreate CommandType = "create"
	// CmdBuild creates every record of a compiled plan in order.
	CmdBuild CommandType = "build"

	// Registry Commands

	// CmdRemove unregisters an instance and detaches it from its container.
	CmdRemove CommandType = "remove"
	// CmdRename moves one identifier.
	CmdRename CommandType = "rename"
	// CmdRenameMatching rewrites every identifier containing a fragment.
	CmdRenameMatching CommandType = "rename_matching"
	// CmdQuery reads registry state.
	CmdQuery CommandType = "query"

	// Invocation Commands

	// CmdInvoke calls a member, or applies a property set, on an instance.
	CmdInvoke CommandType = "invoke"

	// Waiting Commands

	// CmdAwait registers interest in an identifier's creation.
	CmdAwait CommandType = "await"
	// CmdCancelAwait drops a waiter whose deadline passed.
	CmdCancelAwait CommandType = "cancel_await"
)

// String returns the string representation of the CommandType.
func (ct CommandType) String() string {
	return string(ct)
}

// CommandSource identifies where the command originated.
type CommandSource string

const (
	// SourceAPI indicates the command came from the HTTP API.
	SourceAPI CommandSource = "api"
	// SourceCLI indicates the command came from a CLI invocation.
	SourceCLI CommandSource = "cli"
	// SourceLibrary indicates a direct Go caller.
	SourceLibrary CommandSource = "library"
	// SourceInternal indicates the command was system-generated.
	SourceInternal CommandSource = "internal"
)

// String returns the string representation of the CommandSource.
func (cs CommandSource) String() string {
	return string(cs)
}

// BaseCommand provides common fields for all commands.
// Concrete command types should embed this struct.
type BaseCommand struct {
	id          string
	cmdType     CommandType
	createdAt   time.Time
	source      CommandSource
	spanContext trace.SpanContext
}

// NewBaseCommand creates a BaseCommand with a generated UUID and current timestamp.
func NewBaseCommand(cmdType CommandType, source CommandSource) BaseCommand {
	return BaseCommand{
		id:        uuid.New().String(),
		cmdType:   cmdType,
		createdAt: time.Now(),
		source:    source,
	}
}

// ID returns the unique command identifier.
func (b *BaseCommand) ID() string {
	return b.id
}

// Type returns the command type for handler routing.
func (b *BaseCommand) Type() CommandType {
	return b.cmdType
}

// CreatedAt returns when the command was created.
func (b *BaseCommand) CreatedAt() time.Time {
	return b.createdAt
}

// Source returns the origin of this command.
func (b *BaseCommand) Source() CommandSource {
	return b.source
}

// TraceID returns the trace ID of the attached span context, if any.
func (b *BaseCommand) TraceID() string {
	if b.spanContext.IsValid() {
		return b.spanContext.TraceID().String()
	}
	return ""
}

// SpanContext returns the OpenTelemetry span context for trace propagation.
func (b *BaseCommand) SpanContext() trace.SpanContext {
	return b.spanContext
}

// SetSpanContext sets the OpenTelemetry span context for trace propagation.
func (b *BaseCommand) SetSpanContext(sc trace.SpanContext) {
	b.spanContext = sc
}

// Validate is a no-op for BaseCommand. Concrete commands should override this.
func (b *BaseCommand) Validate() error {
	return nil
}

// CommandResult contains the outcome of command execution.
type CommandResult struct {
	// Success indicates whether the command executed successfully.
	Success bool
	// Events contains events to publish, in order. Failed results may carry
	// events too, for work completed before the failure.
	Events []any
	// Published counts the leading Events the handler already put on the
	// event bus while it ran. The executor delivers only the rest.
	Published int
	// Error contains the error if Success is false.
	Error error
	// Data contains optional result data for the caller.
	Data any
}

// ErrQueueFull is returned when the command queue has reached capacity or the
// executor is not accepting commands.
var ErrQueueFull = errors.New("command queue is full")

// ErrInvalidCommand is returned by Validate for malformed commands.
var ErrInvalidCommand = errors.New("invalid command")
