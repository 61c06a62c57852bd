package events

import (
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/dyncomp/internal/pubsub"
)

func TestEventKinds(t *testing.T) {
	tests := []struct {
		event     Event
		kind      Kind
		eventType pubsub.EventType
	}{
		{event: CreationCompleted{}, kind: KindCreationCompleted, eventType: pubsub.CreatedEvent},
		{event: SchemaCompleted{}, kind: KindSchemaCompleted, eventType: pubsub.CompletedEvent},
		{event: BuildFailed{}, kind: KindBuildFailed, eventType: pubsub.FailedEvent},
		{event: InstanceRemoved{}, kind: KindInstanceRemoved, eventType: pubsub.DeletedEvent},
		{event: InstanceRenamed{}, kind: KindInstanceRenamed, eventType: pubsub.UpdatedEvent},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			require.Equal(t, tt.kind, tt.event.Kind())
			require.Equal(t, tt.eventType, tt.event.EventType())
		})
	}
}

func TestBuildFailed_JSONCarriesMessage(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := BuildFailed{Name: "Card", Index: 2, ID: "lbl", Err: errors.New("boom"), Message: "boom", At: at}

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"Card","index":2,"id":"lbl","error":"boom","at":"2026-01-02T03:04:05Z"}`, string(data))
}
