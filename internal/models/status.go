package models

import (
	"time"

	"github.com/juicebox-server/juicebox-service/pkg/juicebox"
)

// StatusReport is the telemetry carried by a device status message
type StatusReport struct {
	DeviceID         string    `json:"deviceId"`
	ReceivedAt       time.Time `json:"receivedAt"`
	Status           string    `json:"status"`
	Current          float64   `json:"current"`
	Voltage          float64   `json:"voltage"`
	Temperature      float64   `json:"temperature"` // fahrenheit, as the original data log
	Lifetime         int       `json:"lifetime"`
	Frequency        float64   `json:"frequency"`
	CurrentAvailable int       `json:"currentAvailable"`
	CurrentDefault   int       `json:"currentDefault"`
	Sequence         int       `json:"sequence"`
}

// NewStatusReport converts a decoded status message
func NewStatusReport(msg *juicebox.Message, receivedAt time.Time) *StatusReport {
	return &StatusReport{
		DeviceID:         msg.DeviceID,
		ReceivedAt:       receivedAt,
		Status:           msg.Status.String(),
		Current:          msg.Current,
		Voltage:          msg.Voltage,
		Temperature:      msg.TemperatureF(),
		Lifetime:         msg.Lifetime,
		Frequency:        msg.Frequency,
		CurrentAvailable: msg.CurrentAvailable,
		CurrentDefault:   msg.CurrentDefault,
		Sequence:         msg.Sequence,
	}
}
