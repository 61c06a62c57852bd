// Package events defines the lifecycle events published by a build session.
package events

import (
	"time"

	"github.com/zjrosen/dyncomp/internal/instance"
	"github.com/zjrosen/dyncomp/internal/pubsub"
)

// Kind names an event in logs, the journal and the HTTP API.
type Kind string

const (
	KindCreationCompleted Kind = "creation_completed"
	KindSchemaCompleted   Kind = "schema_completed"
	KindBuildFailed       Kind = "build_failed"
	KindInstanceRemoved   Kind = "instance_removed"
	KindInstanceRenamed   Kind = "instance_renamed"
)

// Event is implemented by every session event.
type Event interface {
	Kind() Kind
	// EventType maps the event onto the broker's coarse event types.
	EventType() pubsub.EventType
}

// CreationCompleted is emitted once an instance is constructed and
// registered.
type CreationCompleted struct {
	Instance instance.Instance `json:"-"`
	ID       string            `json:"id"`
	TypeName string            `json:"type"`
	At       time.Time         `json:"at"`
}

func (CreationCompleted) Kind() Kind { return KindCreationCompleted }
func (CreationCompleted) EventType() pubsub.EventType { return pubsub.CreatedEvent }

// SchemaCompleted is emitted after every record of a build was processed.
type SchemaCompleted struct {
	Name       string    `json:"name"`
	Parameters []string  `json:"parameters"`
	Created    int       `json:"created"`
	At         time.Time `json:"at"`
}

func (SchemaCompleted) Kind() Kind { return KindSchemaCompleted }
func (SchemaCompleted) EventType() pubsub.EventType { return pubsub.CompletedEvent }

// BuildFailed is emitted when a create or build stops on an error. Records
// created before the failure stay registered.
type BuildFailed struct {
	Name    string    `json:"name,omitempty"`
	Index   int       `json:"index"`
	ID      string    `json:"id"`
	Err     error     `json:"-"`
	Message string    `json:"error"`
	At      time.Time `json:"at"`
}

func (BuildFailed) Kind() Kind { return KindBuildFailed }
func (BuildFailed) EventType() pubsub.EventType { return pubsub.FailedEvent }

// InstanceRemoved is emitted when an identifier is unregistered.
type InstanceRemoved struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
}

func (InstanceRemoved) Kind() Kind { return KindInstanceRemoved }
func (InstanceRemoved) EventType() pubsub.EventType { return pubsub.DeletedEvent }

// InstanceRenamed is emitted for every identifier moved by a rename.
type InstanceRenamed struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

func (InstanceRenamed) Kind() Kind { return KindInstanceRenamed }
func (InstanceRenamed) EventType() pubsub.EventType { return pubsub.UpdatedEvent }
