package juicebox

import (
	"fmt"
	"time"
)

// DefaultPort is the UDP port the JuiceBox firmware reports to
const DefaultPort = 8043

// PayloadType distinguishes status data from firmware debug output
type PayloadType int

const (
	PayloadData PayloadType = iota
	PayloadDebug
)

// Status represents the charger state reported in the S field
type Status int

const (
	StatusUnplugged Status = iota
	StatusPluggedIn
	StatusCharging
	StatusNotDefined
	StatusError
)

var statusNames = []string{"unplugged", "plugged-in", "charging", "not-defined", "error"}

// String returns the status name
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("unknown(%d)", int(s))
	}
	return statusNames[s]
}

// MarshalText implements encoding.TextMarshaler
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EventKind is the kind of event read from a device connection
type EventKind int

const (
	EventKeepalive EventKind = iota
	EventStatusReport
	EventDisconnect
)

// String returns the event kind name
func (k EventKind) String() string {
	switch k {
	case EventKeepalive:
		return "keepalive"
	case EventStatusReport:
		return "status"
	case EventDisconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a single decoded occurrence on a device connection.
// Message is nil for EventDisconnect.
type Event struct {
	Kind     EventKind
	Message  *Message
	Received time.Time
}

// DecodeError is returned when a datagram does not match either message grammar
type DecodeError struct {
	Payload string
	Reason  string
}

func (err DecodeError) Error() string {
	return fmt.Sprintf("juicebox: cannot decode %q: %s", err.Payload, err.Reason)
}
