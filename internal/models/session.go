package models

import "time"

// SessionState is the lifecycle state of a device session
type SessionState int

const (
	SessionAwaiting SessionState = iota
	SessionHandshaking
	SessionActive
	SessionClosing
	SessionClosed
)

var sessionStateNames = [...]string{"awaiting", "handshaking", "active", "closing", "closed"}

func (s SessionState) String() string {
	if s < 0 || int(s) >= len(sessionStateNames) {
		return "unknown"
	}
	return sessionStateNames[s]
}

// MarshalText implements encoding.TextMarshaler
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// validTransitions lists allowed moves out of each state
var validTransitions = map[SessionState][]SessionState{
	SessionAwaiting:    {SessionHandshaking, SessionClosing},
	SessionHandshaking: {SessionActive, SessionClosed, SessionClosing},
	SessionActive:      {SessionClosing},
	SessionClosing:     {SessionClosed},
}

// CanTransition reports whether a session may move from s to next
func (s SessionState) CanTransition(next SessionState) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SessionInfo is a point-in-time view of a device session
type SessionInfo struct {
	SessionID   string        `json:"sessionId"`
	DeviceID    string        `json:"deviceId"`
	RemoteAddr  string        `json:"remoteAddr"`
	State       SessionState  `json:"state"`
	Online      bool          `json:"online"`
	LastApplied *CommandState `json:"lastApplied,omitempty"`
	LastSeen    time.Time     `json:"lastSeen"`
	CreatedAt   time.Time     `json:"createdAt"`
	LastStatus  *StatusReport `json:"lastStatus,omitempty"`
}

// ParseSessionState is the inverse of String
func ParseSessionState(name string) (SessionState, bool) {
	for i, n := range sessionStateNames {
		if n == name {
			return SessionState(i), true
		}
	}
	return 0, false
}
