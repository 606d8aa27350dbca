package engine

import (
	"github.com/taleweaver/taleweaver/internal/domain"
)

// EventType identifies a session event pushed to live subscribers.
type EventType string

const (
	// EventMessage fires when an assistant turn is persisted.
	EventMessage EventType = "message"
	// EventCompleted fires when a session transitions to completed.
	EventCompleted EventType = "completed"
)

// Event is a session-scoped notification emitted by the engine.
type Event struct {
	Type      EventType                 `json:"type"`
	SessionID string                    `json:"session_id"`
	Message   *domain.Message           `json:"message,omitempty"`
	Summary   *domain.CompletionSummary `json:"summary,omitempty"`
}

// Publisher receives engine events. Implementations must not block.
type Publisher interface {
	Publish(ev Event)
}
