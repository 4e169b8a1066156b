package web

import (
	"encoding/json"

	"github.com/blockedby/tgfetch/internal/taskqueue"
)

// WebSocket event types
const (
	EventTaskUpdated = "task.updated"
)

// WSEvent represents a structured WebSocket message
type WSEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// TaskUpdatedEvent creates a JSON message for a task transition.
func TaskUpdatedEvent(rec taskqueue.Record) []byte {
	b, _ := json.Marshal(WSEvent{Type: EventTaskUpdated, Payload: rec})
	return b
}

// TaskObserver returns a taskqueue.Observer streaming every transition to the hub.
func TaskObserver(hub *Hub) taskqueue.Observer {
	return func(rec taskqueue.Record) {
		hub.Broadcast(TaskUpdatedEvent(rec))
	}
}
