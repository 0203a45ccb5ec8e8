package juicebox

import (
	"errors"
	"math"
	"testing"
)

const sampleStatus = "0910042001260513476122621631:v09u,s627,F31,u01254993,V2414,L00004555804,S02,T28,M0040,C0032,m0040,t29,i23,e-0001,f5999,r61,b000,B0000000,P0,E0004495,A00155,p0000!55M:"

func TestParseMessageStatus(t *testing.T) {
	msg, err := ParseMessage([]byte(sampleStatus))
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}

	if msg.DeviceID != "0910042001260513476122621631" {
		t.Errorf("DeviceID = %q", msg.DeviceID)
	}
	if !msg.IsData() {
		t.Fatalf("expected data payload")
	}
	if msg.CRC != "55M" {
		t.Errorf("CRC = %q", msg.CRC)
	}
	if msg.Version != "09u" {
		t.Errorf("Version = %q", msg.Version)
	}
	if msg.Sequence != 627 {
		t.Errorf("Sequence = %d", msg.Sequence)
	}
	if msg.Status != StatusCharging {
		t.Errorf("Status = %v", msg.Status)
	}
	if msg.CurrentAvailable != 32 || msg.CurrentDefault != 40 || msg.CurrentRating != 40 {
		t.Errorf("currents = C%d M%d m%d", msg.CurrentAvailable, msg.CurrentDefault, msg.CurrentRating)
	}
	if math.Abs(msg.Voltage-241.4) > 1e-9 {
		t.Errorf("Voltage = %v", msg.Voltage)
	}
	if math.Abs(msg.Current-15.5) > 1e-9 {
		t.Errorf("Current = %v", msg.Current)
	}
	if math.Abs(msg.Frequency-59.99) > 1e-9 {
		t.Errorf("Frequency = %v", msg.Frequency)
	}
	if math.Abs(msg.TemperatureF()-82.4) > 1e-9 {
		t.Errorf("TemperatureF = %v", msg.TemperatureF())
	}
	if msg.Extra["e"] != "-0001" || msg.Extra["P"] != "0" {
		t.Errorf("Extra = %v", msg.Extra)
	}
}

func TestParseMessageMissingCurrentIsZero(t *testing.T) {
	msg, err := ParseMessage([]byte("123:S00,C0040,s001!ABC:"))
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if msg.Current != 0 {
		t.Errorf("Current = %v, want 0", msg.Current)
	}
	if msg.Status != StatusUnplugged {
		t.Errorf("Status = %v", msg.Status)
	}
}

func TestParseMessageDebug(t *testing.T) {
	msg, err := ParseMessage([]byte("123456:DBG,NFO:wifi connected:"))
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if msg.Type != PayloadDebug {
		t.Fatalf("Type = %v", msg.Type)
	}
	if msg.DebugLevel != "NFO" || msg.DebugText != "wifi connected" {
		t.Errorf("debug = %q %q", msg.DebugLevel, msg.DebugText)
	}
}

func TestParseMessageErrors(t *testing.T) {
	cases := map[string]string{
		"garbage":      "hello world",
		"empty":        "",
		"bad status":   "123:S09!ABC:",
		"bad number":   "123:Cxx!ABC:",
		"no separator": "123S01,C0040",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMessage([]byte(in))
			var decodeErr DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("err = %v, want DecodeError", err)
			}
		})
	}
}
