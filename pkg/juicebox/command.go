package juicebox

import (
	"fmt"
	"time"
)

// MaxCounter is the highest command counter before it wraps back to 1
const MaxCounter = 999

// The vendor cloud cycles the command code in this order.
var commandCodes = [4]uint16{6, 242, 8, 244}

// Command is a service-to-device current setting datagram
type Command struct {
	Time        time.Time
	InstantAmps uint8
	OfflineAmps uint8
	Counter     uint16
}

// NextCounter advances a command counter, wrapping past MaxCounter
func NextCounter(counter uint16) uint16 {
	counter++
	if counter > MaxCounter {
		counter = 1
	}
	return counter
}

// Code returns the command code paired with the counter
func (c Command) Code() uint16 {
	return commandCodes[c.Counter%4]
}

// Payload renders the command without its checksum
func (c Command) Payload() string {
	t := c.Time
	if t.IsZero() {
		t = time.Now()
	}
	return fmt.Sprintf("CMD%d%02d%02dA%02dM%02dC%03dS%03d",
		int(t.Weekday()), t.Hour(), t.Minute(),
		c.InstantAmps, c.OfflineAmps, c.Code(), c.Counter)
}

// Encode renders the full datagram: payload, checksum and terminator
func (c Command) Encode() ([]byte, error) {
	if c.InstantAmps > 99 || c.OfflineAmps > 99 {
		return nil, fmt.Errorf("juicebox: current out of range (instant %d, offline %d)", c.InstantAmps, c.OfflineAmps)
	}
	if c.Counter > MaxCounter {
		return nil, fmt.Errorf("juicebox: counter %d out of range", c.Counter)
	}
	payload := c.Payload()
	return []byte(payload + "!" + Checksum(payload) + "$"), nil
}

func (c Command) String() string {
	return fmt.Sprintf("Command{Instant:%dA Offline:%dA Code:%d Counter:%d}",
		c.InstantAmps, c.OfflineAmps, c.Code(), c.Counter)
}
