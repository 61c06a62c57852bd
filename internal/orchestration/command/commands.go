package command

import (
	"fmt"

	"github.com/zjrosen/dyncomp/internal/instance"
	"github.com/zjrosen/dyncomp/internal/schema"
)

// CreateCommand creates TypeName inside Container and registers it as ID.
type CreateCommand struct {
	BaseCommand
	Container  any
	TypeName   string
	InstanceID string
	Properties schema.Properties
}

// NewCreateCommand creates a CreateCommand.
func NewCreateCommand(source CommandSource, container any, typeName, id string) *CreateCommand {
	return &CreateCommand{
		BaseCommand: NewBaseCommand(CmdCreate, source),
		Container:   container,
		TypeName:    typeName,
		InstanceID:  id,
	}
}

// Validate checks that an id and a type were given.
func (c *CreateCommand) Validate() error {
	if c.InstanceID == "" {
		return fmt.Errorf("%w: instance id is required", ErrInvalidCommand)
	}
	if c.TypeName == "" {
		return fmt.Errorf("%w: type name is required", ErrInvalidCommand)
	}
	return nil
}

// BuildCommand creates every record of Plan under Root.
type BuildCommand struct {
	BaseCommand
	Root       any
	Plan       []schema.CreationRecord
	Name       string
	Parameters []string
}

// NewBuildCommand creates a BuildCommand.
func NewBuildCommand(source CommandSource, root any, plan []schema.CreationRecord, name string, params []string) *BuildCommand {
	return &BuildCommand{
		BaseCommand: NewBaseCommand(CmdBuild, source),
		Root:        root,
		Plan:        plan,
		Name:        name,
		Parameters:  params,
	}
}

// Validate rejects an empty plan.
func (c *BuildCommand) Validate() error {
	if len(c.Plan) == 0 {
		return fmt.Errorf("%w: plan is empty", ErrInvalidCommand)
	}
	return nil
}

// RemoveCommand unregisters InstanceID.
type RemoveCommand struct {
	BaseCommand
	InstanceID string
}

// NewRemoveCommand creates a RemoveCommand.
func NewRemoveCommand(source CommandSource, id string) *RemoveCommand {
	return &RemoveCommand{BaseCommand: NewBaseCommand(CmdRemove, source), InstanceID: id}
}

// RenameCommand moves From to To. With Matching set every identifier
// containing From is rewritten.
type RenameCommand struct {
	BaseCommand
	From     string
	To       string
	Matching bool
}

// NewRenameCommand creates a RenameCommand for one identifier.
func NewRenameCommand(source CommandSource, from, to string) *RenameCommand {
	return &RenameCommand{BaseCommand: NewBaseCommand(CmdRename, source), From: from, To: to}
}

// NewRenameMatchingCommand creates a RenameCommand that rewrites fragments.
func NewRenameMatchingCommand(source CommandSource, fragment, replacement string) *RenameCommand {
	return &RenameCommand{
		BaseCommand: NewBaseCommand(CmdRenameMatching, source),
		From:        fragment,
		To:          replacement,
		Matching:    true,
	}
}

// QueryKind selects what a QueryCommand reads.
type QueryKind string

const (
	QueryLookup     QueryKind = "lookup"
	QueryIDOf       QueryKind = "id_of"
	QueryIDs        QueryKind = "ids"
	QueryLastUsedID QueryKind = "last_used_id"
	QueryGenerateID QueryKind = "generate_id"
	QueryPending    QueryKind = "pending"
)

// QueryCommand reads registry state. Key is the identifier for lookups and
// Value the instance for IDOf.
type QueryCommand struct {
	BaseCommand
	Kind  QueryKind
	Key   string
	Value any
}

// NewQueryCommand creates a QueryCommand.
func NewQueryCommand(source CommandSource, kind QueryKind) *QueryCommand {
	return &QueryCommand{BaseCommand: NewBaseCommand(CmdQuery, source), Kind: kind}
}

// InvokeCommand calls Member on Target with Args. Target is either a
// registered identifier (string) or an instance.Instance. When Properties is
// set the command applies them in order instead.
type InvokeCommand struct {
	BaseCommand
	Target     any
	Member     string
	Args       []any
	Properties schema.Properties
}

// NewInvokeCommand creates an InvokeCommand calling member.
func NewInvokeCommand(source CommandSource, target any, member string, args []any) *InvokeCommand {
	return &InvokeCommand{BaseCommand: NewBaseCommand(CmdInvoke, source), Target: target, Member: member, Args: args}
}

// NewSetAllCommand creates an InvokeCommand applying props.
func NewSetAllCommand(source CommandSource, target any, props schema.Properties) *InvokeCommand {
	return &InvokeCommand{BaseCommand: NewBaseCommand(CmdInvoke, source), Target: target, Properties: props}
}

// Validate requires a target and, for calls, a member name.
func (c *InvokeCommand) Validate() error {
	if c.Target == nil {
		return fmt.Errorf("%w: target is required", ErrInvalidCommand)
	}
	if c.Properties == nil && c.Member == "" {
		return fmt.Errorf("%w: member name is required", ErrInvalidCommand)
	}
	return nil
}

// AwaitCommand registers Result to receive the instance created as
// InstanceID. Result must be buffered.
type AwaitCommand struct {
	BaseCommand
	InstanceID string
	Result     chan instance.Instance
}

// NewAwaitCommand creates an AwaitCommand with a fresh result channel.
func NewAwaitCommand(source CommandSource, id string) *AwaitCommand {
	return &AwaitCommand{
		BaseCommand: NewBaseCommand(CmdAwait, source),
		InstanceID:  id,
		Result:      make(chan instance.Instance, 1),
	}
}

// Cancel returns the command that withdraws this waiter.
func (c *AwaitCommand) Cancel() *AwaitCommand {
	return &AwaitCommand{
		BaseCommand: NewBaseCommand(CmdCancelAwait, SourceInternal),
		InstanceID:  c.InstanceID,
		Result:      c.Result,
	}
}

// Validate requires an id and a buffered channel.
func (c *AwaitCommand) Validate() error {
	if c.InstanceID == "" {
		return fmt.Errorf("%w: instance id is required", ErrInvalidCommand)
	}
	if c.Result == nil || cap(c.Result) == 0 {
		return fmt.Errorf("%w: result channel must be buffered", ErrInvalidCommand)
	}
	return nil
}

// Validate requires an id.
func (c *RemoveCommand) Validate() error {
	if c.InstanceID == "" {
		return fmt.Errorf("%w: instance id is required", ErrInvalidCommand)
	}
	return nil
}

// Validate requires a source identifier or fragment.
func (c *RenameCommand) Validate() error {
	if c.From == "" {
		return fmt.Errorf("%w: source id is required", ErrInvalidCommand)
	}
	return nil
}
