package events

import "time"

// Event defines the contract for all system events exported on the bus.
type Event interface {
	// EventType returns the unique code for this event (e.g., "SESSION_DISPATCHED").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Workflow lifecycle event types.
const (
	TypeSessionCreated    = "SESSION_CREATED"
	TypeStepCompleted     = "STEP_COMPLETED"
	TypeStepBlocked       = "STEP_BLOCKED"
	TypeSessionDispatched = "SESSION_DISPATCHED"
	TypeSessionCancelled  = "SESSION_CANCELLED"
	TypeDispatchFailed    = "DISPATCH_FAILED"
)

// BaseEvent is the standard Event implementation.
type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}
