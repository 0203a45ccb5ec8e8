package models

import "fmt"

// CommandState is the current setting pushed to a device.
// ChargingEnabled always equals CurrentAmps > 0; build values with NewCommandState.
type CommandState struct {
	CurrentAmps     uint8 `json:"currentAmps"`
	ChargingEnabled bool  `json:"chargingEnabled"`
}

// NewCommandState returns the command for the given current
func NewCommandState(amps uint8) CommandState {
	return CommandState{CurrentAmps: amps, ChargingEnabled: amps > 0}
}

// CommandOff disables charging by zeroing the current
func CommandOff() CommandState {
	return NewCommandState(0)
}

func (c CommandState) String() string {
	if !c.ChargingEnabled {
		return "off (0A)"
	}
	return fmt.Sprintf("on (%dA)", c.CurrentAmps)
}
