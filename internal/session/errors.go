package session

import (
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrSessionNotActive = errors.New("session not active")
	ErrDisconnected     = errors.New("device disconnected")
	ErrSuperseded       = errors.New("superseded by a new session from the same device")
	ErrShutdown         = errors.New("service shutting down")
)

// TransportError is returned when a command could not be written to the device
type TransportError struct {
	DeviceID string
	Err      error
}

func (err *TransportError) Error() string {
	return fmt.Sprintf("transport error for device %s: %v", err.DeviceID, err.Err)
}

func (err *TransportError) Unwrap() error {
	return err.Err
}

// ProtocolError is a decode or handshake failure reported by the transport
type ProtocolError struct {
	DeviceID   string
	RemoteAddr string
	Err        error
}

func (err *ProtocolError) Error() string {
	device := err.DeviceID
	if device == "" {
		device = "(unidentified)"
	}
	return fmt.Sprintf("protocol error for device %s at %s: %v", device, err.RemoteAddr, err.Err)
}

func (err *ProtocolError) Unwrap() error {
	return err.Err
}

// IdleTimeoutError is the close reason for a session without keepalives
type IdleTimeoutError struct {
	DeviceID string
	Idle     time.Duration
}

func (err *IdleTimeoutError) Error() string {
	return fmt.Sprintf("device %s idle for %s", err.DeviceID, err.Idle.Round(time.Second))
}
