// Package pubsub fans typed events out to any number of subscribers.
// The build orchestrator publishes instance lifecycle events through it; the
// journal, the HTTP event stream, the CLI and the logger consume them.
package pubsub

import "time"

// EventType is the coarse lifecycle verb attached to every event. Payloads
// carry the precise kind.
type EventType string

const (
	CreatedEvent   EventType = "created"
	UpdatedEvent   EventType = "updated"
	DeletedEvent   EventType = "deleted"
	CompletedEvent EventType = "completed"
	FailedEvent    EventType = "failed"
)

// Event wraps a payload with its type and publish time.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}
