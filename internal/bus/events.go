// Package bus distributes engine lifecycle events: module invocations, drops,
// fusion, learning and optimization.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Module invocation events
	EventModuleStart    EventType = "module.start"
	EventModuleComplete EventType = "module.complete"
	EventModuleDropped  EventType = "module.dropped"

	// Engine events
	EventFusionComplete EventType = "fusion.complete"
	EventEngineLearn    EventType = "engine.learn"
	EventEngineOptimize EventType = "engine.optimize"
	EventEngineReset    EventType = "engine.reset"
)

// Event is a single lifecycle event.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	// Correlates every event of one Process call.
	RequestID string `json:"request_id,omitempty"`

	Module string `json:"module,omitempty"`
	Task   string `json:"task,omitempty"`

	Confidence float64 `json:"confidence,omitempty"`
	DurationMs int64   `json:"duration_ms,omitempty"`

	// Modules involved, in order (fusion and learn events).
	Modules []string `json:"modules,omitempty"`

	Details string `json:"details,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewEvent creates an event with a fresh ID and the current time.
func NewEvent(eventType EventType) Event {
	return Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
	}
}

// ModuleEvent creates a module-scoped event.
func ModuleEvent(eventType EventType, requestID, module, task string) Event {
	e := NewEvent(eventType)
	e.RequestID = requestID
	e.Module = module
	e.Task = task
	return e
}
