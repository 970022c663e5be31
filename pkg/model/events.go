package model

import (
	"time"

	"github.com/google/uuid"
)

// Event is the canonical envelope for every message the adapter publishes.
type Event struct {
	ID            uuid.UUID `json:"id"`
	CorrelationID uuid.UUID `json:"correlation_id"`
	Topic         string    `json:"topic"`
	EventType     string    `json:"event_type"`
	Source        string    `json:"source"`
	OccurredAt    time.Time `json:"occurred_at"`
	Payload       any       `json:"payload"`
}

// PropertySetPayload describes a completed device property write.
type PropertySetPayload struct {
	MAC   string `json:"mac"`
	PID   string `json:"pid"`
	Value string `json:"value"`
}

// LockActionPayload describes a lock control attempt.
type LockActionPayload struct {
	LockUUID string `json:"lock_uuid"`
	Action   string `json:"action"`
	Success  bool   `json:"success"`
}
