package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juicebox-server/juicebox-service/internal/schedule"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "juicebox.yml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Charging.MaxCurrent != DefaultCurrentAmps {
		t.Errorf("MaxCurrent = %d", cfg.Charging.MaxCurrent)
	}
	if cfg.Service.UDPBind != ":8043" {
		t.Errorf("UDPBind = %q", cfg.Service.UDPBind)
	}
	if cfg.Session.IdleTimeout != 120*time.Second || cfg.Session.TickInterval != 30*time.Second {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.Log.SinkTimeout != 5*time.Second {
		t.Errorf("SinkTimeout = %s", cfg.Log.SinkTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Charging.Window != nil {
		t.Errorf("Window = %v, want nil", cfg.Charging.Window)
	}
}

func TestLoadMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yml")
	if _, err := Load(missing, true); err != nil {
		t.Errorf("optional missing file: %v", err)
	}
	if _, err := Load(missing, false); err == nil {
		t.Error("expected error for required missing file")
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
charging:
  max_current: 32
  schedule: "22:00-06:00"
session:
  tick_interval: 15s
  idle_timeout: 90s
  lost_after: 40s
nats:
  subject_prefix: garage
`)
	cfg, err := Load(path, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Charging.MaxCurrentAmps() != 32 {
		t.Errorf("MaxCurrentAmps = %d", cfg.Charging.MaxCurrentAmps())
	}
	want := schedule.Window{Start: schedule.TimeOfDay{Hour: 22}, End: schedule.TimeOfDay{Hour: 6}}
	if cfg.Charging.Window == nil || *cfg.Charging.Window != want {
		t.Errorf("Window = %v", cfg.Charging.Window)
	}
	if cfg.Session.TickInterval != 15*time.Second {
		t.Errorf("TickInterval = %s", cfg.Session.TickInterval)
	}
	if cfg.NATS.SubjectPrefix != "garage" {
		t.Errorf("SubjectPrefix = %q", cfg.NATS.SubjectPrefix)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("JUICEBOX_MAX_CURRENT", "16")
	t.Setenv("JUICEBOX_SCHEDULE", "01:00-05:00")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("", true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Charging.MaxCurrent != 16 || cfg.Charging.Schedule != "01:00-05:00" || cfg.Log.Level != "debug" {
		t.Errorf("overrides not applied: %+v %+v", cfg.Charging, cfg.Log)
	}

	t.Setenv("JUICEBOX_MAX_CURRENT", "lots")
	_, err = Load("", true)
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"current too low", func(c *Config) { c.Charging.MaxCurrent = -1 }, "charging.max_current"},
		{"current too high", func(c *Config) { c.Charging.MaxCurrent = 81 }, "charging.max_current"},
		{"bad schedule", func(c *Config) { c.Charging.Schedule = "8am-5pm" }, "charging.schedule"},
		{"hour out of range", func(c *Config) { c.Charging.Schedule = "25:00-06:00" }, "charging.schedule"},
		{"lost after idle", func(c *Config) { c.Session.LostAfter = c.Session.IdleTimeout }, "session.lost_after"},
		{"qos", func(c *Config) { c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"negative sink timeout", func(c *Config) { c.Log.SinkTimeout = -time.Second }, "log.sink_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("err = %v, want ConfigurationError", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", cfgErr.Field, tt.field)
			}
		})
	}
}

func TestValidateScheduleWrapsParseError(t *testing.T) {
	cfg := Default()
	cfg.Charging.Schedule = "nonsense"
	if err := cfg.Validate(); !errors.Is(err, schedule.ErrInvalidWindow) {
		t.Errorf("err = %v, want wrapping ErrInvalidWindow", err)
	}
}
