package models

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a session or command transition
type Event struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	DeviceID  string `json:"deviceId" db:"device_id"`
	SessionID string `json:"sessionId,omitempty" db:"session_id"`

	Type        EventType     `json:"type" db:"type"`
	Level       EventLevel    `json:"level" db:"level"`
	State       *SessionState `json:"state,omitempty" db:"state"`
	Command     *CommandState `json:"command,omitempty" db:"-"`
	Status      *StatusReport `json:"status,omitempty" db:"-"`
	Description string        `json:"description" db:"description"`

	Details Variables `json:"details,omitempty" db:"details"`
}

// EventType represents event types
type EventType string

const (
	// Session events
	EventTypeSessionState    EventType = "SESSION_STATE"
	EventTypeSessionReplaced EventType = "SESSION_REPLACED"
	EventTypeSessionRestored EventType = "SESSION_RESTORED"

	// Command events
	EventTypeCommandApplied EventType = "COMMAND_APPLIED"
	EventTypeCommandFailed  EventType = "COMMAND_FAILED"

	// Device telemetry
	EventTypeStatus EventType = "STATUS"
)

// EventLevel represents event severity levels
type EventLevel string

const (
	EventLevelDebug   EventLevel = "DEBUG"
	EventLevelInfo    EventLevel = "INFO"
	EventLevelWarning EventLevel = "WARNING"
	EventLevelError   EventLevel = "ERROR"
)

// NewEvent creates an event stamped with a fresh ID and the given time
func NewEvent(t EventType, level EventLevel, deviceID, sessionID string, at time.Time) *Event {
	return &Event{
		ID:        uuid.New(),
		CreatedAt: at,
		DeviceID:  deviceID,
		SessionID: sessionID,
		Type:      t,
		Level:     level,
	}
}
