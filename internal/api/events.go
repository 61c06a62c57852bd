package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/zjrosen/dyncomp/internal/log"
	"github.com/zjrosen/dyncomp/internal/orchestration/events"
	"github.com/zjrosen/dyncomp/internal/pubsub"
)

// heartbeatInterval keeps idle SSE connections open through proxies.
const heartbeatInterval = 30 * time.Second

// EventResponse is the SSE data payload for one session event.
type EventResponse struct {
	Kind      string    `json:"kind"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// StreamEvents streams session events as server-sent events.
// GET /events
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming_unsupported", "Streaming not supported", "")
		return
	}

	ctx := r.Context()
	ch := h.session.Events(ctx)

	_, _ = fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			resp := eventToResponse(event)
			data, err := json.Marshal(resp)
			if err != nil {
				log.Error(log.CatAPI, "Failed to marshal event", "kind", resp.Kind, "error", err)
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", resp.Kind, data)
			flusher.Flush()
		}
	}
}

func eventToResponse(event pubsub.Event[any]) EventResponse {
	resp := EventResponse{
		Kind:      string(event.Type),
		Type:      string(event.Type),
		Timestamp: event.Timestamp,
		Payload:   event.Payload,
	}
	if e, ok := event.Payload.(events.Event); ok {
		resp.Kind = string(e.Kind())
	}
	return resp
}
