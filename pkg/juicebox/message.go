package juicebox

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	dataPattern  = regexp.MustCompile(`^(\d+):([\-\w,]+)!(\w+):`)
	debugPattern = regexp.MustCompile(`^(\d+):DBG,(\w+):(.+?):$`)
)

// Message is a decoded device-to-service datagram
type Message struct {
	DeviceID string
	Type     PayloadType
	Raw      string
	CRC      string

	Version          string
	Current          float64 // amps
	LoopCounter      int
	Voltage          float64 // volts
	Lifetime         int     // lifetime energy counter
	Status           Status
	Temperature      float64 // celsius
	CurrentDefault   int     // M, offline current setting
	CurrentRating    int     // m
	ReportTime       int
	Interval         int // seconds between reports
	Frequency        float64
	Sequence         int
	CurrentAvailable int // C, instant current setting

	// Fields with no known meaning, and unknown codes, are kept raw by code letter.
	Extra map[string]string

	DebugLevel string
	DebugText  string
}

// TemperatureF returns the temperature in fahrenheit
func (m *Message) TemperatureF() float64 {
	return m.Temperature*1.8 + 32
}

// IsData reports whether the message carries status data
func (m *Message) IsData() bool {
	return m.Type == PayloadData
}

func (m *Message) String() string {
	if m.Type == PayloadDebug {
		return fmt.Sprintf("Debug{Device:%s Level:%s Text:%s}", m.DeviceID, m.DebugLevel, m.DebugText)
	}
	return fmt.Sprintf("Status{Device:%s Status:%s Current:%.1f CurrentAvailable:%d Seq:%d}",
		m.DeviceID, m.Status, m.Current, m.CurrentAvailable, m.Sequence)
}

// ParseMessage decodes a datagram sent by the device
func ParseMessage(data []byte) (*Message, error) {
	raw := strings.TrimRight(string(data), "\r\n\x00")

	if mat := dataPattern.FindStringSubmatch(raw); mat != nil {
		msg := &Message{
			DeviceID: mat[1],
			Type:     PayloadData,
			Raw:      raw,
			CRC:      mat[3],
		}
		for _, part := range strings.Split(mat[2], ",") {
			if err := msg.setField(part); err != nil {
				return nil, DecodeError{Payload: raw, Reason: err.Error()}
			}
		}
		return msg, nil
	}

	if mat := debugPattern.FindStringSubmatch(raw); mat != nil {
		return &Message{
			DeviceID:   mat[1],
			Type:       PayloadDebug,
			Raw:        raw,
			DebugLevel: mat[2],
			DebugText:  mat[3],
		}, nil
	}

	return nil, DecodeError{Payload: raw, Reason: "unrecognised message format"}
}

func (m *Message) setField(part string) error {
	if part == "" {
		return nil
	}
	code, val := part[:1], part[1:]

	var err error
	switch code {
	case "v":
		m.Version = val
	case "A":
		m.Current, err = scaled(val, 0.1)
	case "u":
		m.LoopCounter, err = strconv.Atoi(val)
	case "V":
		m.Voltage, err = scaled(val, 0.1)
	case "L":
		m.Lifetime, err = strconv.Atoi(val)
	case "S":
		var s int
		if s, err = strconv.Atoi(val); err == nil {
			if s < 0 || s >= len(statusNames) {
				return fmt.Errorf("status %d out of range", s)
			}
			m.Status = Status(s)
		}
	case "T":
		m.Temperature, err = scaled(val, 1)
	case "M":
		m.CurrentDefault, err = strconv.Atoi(val)
	case "m":
		m.CurrentRating, err = strconv.Atoi(val)
	case "t":
		m.ReportTime, err = strconv.Atoi(val)
	case "i":
		m.Interval, err = strconv.Atoi(val)
	case "f":
		m.Frequency, err = scaled(val, 0.01)
	case "s":
		m.Sequence, err = strconv.Atoi(val)
	case "C":
		m.CurrentAvailable, err = strconv.Atoi(val)
	default:
		if m.Extra == nil {
			m.Extra = make(map[string]string)
		}
		m.Extra[code] = val
	}
	if err != nil {
		return fmt.Errorf("field %s: %w", code, err)
	}
	return nil
}

func scaled(val string, mult float64) (float64, error) {
	n, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, err
	}
	return n * mult, nil
}
