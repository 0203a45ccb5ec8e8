package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/juicebox-server/juicebox-service/internal/schedule"
	"github.com/juicebox-server/juicebox-service/pkg/juicebox"
)

// Limits for the configured charging current
const (
	MinCurrentAmps     = 1
	MaxCurrentAmps     = 80
	DefaultCurrentAmps = 40
)

// Config represents the application configuration
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	Charging   ChargingConfig   `yaml:"charging"`
	Session    SessionConfig    `yaml:"session"`
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	API        APIConfig        `yaml:"api"`
}

// ServiceConfig represents the UDP endpoint the device reports to
type ServiceConfig struct {
	Name       string `yaml:"name"`
	UDPBind    string `yaml:"udp_bind"`
	ReadBuffer int    `yaml:"read_buffer"`
}

// ChargingConfig represents the charging policy. Window is filled by Validate.
type ChargingConfig struct {
	MaxCurrent     int    `yaml:"max_current"`
	Schedule       string `yaml:"schedule"`
	EnforceOnDrift bool   `yaml:"enforce_on_drift"`

	Window *schedule.Window `yaml:"-"`
}

// SessionConfig represents device session timing
type SessionConfig struct {
	TickInterval     time.Duration `yaml:"tick_interval"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	LostAfter        time.Duration `yaml:"lost_after"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	InboxSize        int           `yaml:"inbox_size"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level       string        `yaml:"level"`
	Format      string        `yaml:"format"`
	File        string        `yaml:"file"`
	SinkTimeout time.Duration `yaml:"sink_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	SubjectPrefix     string        `yaml:"subject_prefix"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// MQTTConfig represents MQTT mirror configuration
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// ClickHouseConfig represents the telemetry store
type ClickHouseConfig struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// APIConfig represents the status API configuration
type APIConfig struct {
	Host string    `yaml:"host"`
	Port int       `yaml:"port"`
	JWT  JWTConfig `yaml:"jwt"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret            string        `yaml:"secret"`
	AdminPasswordHash string        `yaml:"admin_password_hash"`
	AccessTokenTTL    time.Duration `yaml:"access_token_ttl"`
}

// ConfigurationError reports an invalid setting detected at startup
type ConfigurationError struct {
	Field string
	Value string
	Err   error
}

func (err *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s=%q: %v", err.Field, err.Value, err.Err)
}

func (err *ConfigurationError) Unwrap() error {
	return err.Err
}

// Default returns the built-in configuration
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// Load loads configuration from file. An empty filename, or a missing file
// when optional is set, yields the defaults.
func Load(filename string, optional bool) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	var cfg Config
	if filename != "" {
		data, err := os.ReadFile(filename)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("unmarshal config: %w", err)
			}
		case optional && errors.Is(err, os.ErrNotExist):
			log.Debug().Str("file", filename).Msg("config file not found, using defaults")
		default:
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	// Apply environment overrides
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() error {
	if bind := os.Getenv("JUICEBOX_UDP_BIND"); bind != "" {
		c.Service.UDPBind = bind
	}

	if current := os.Getenv("JUICEBOX_MAX_CURRENT"); current != "" {
		n, err := strconv.Atoi(current)
		if err != nil {
			return &ConfigurationError{Field: "JUICEBOX_MAX_CURRENT", Value: current, Err: err}
		}
		c.Charging.MaxCurrent = n
	}

	if sched := os.Getenv("JUICEBOX_SCHEDULE"); sched != "" {
		c.Charging.Schedule = sched
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		c.MQTT.Broker = broker
	}

	if addr := os.Getenv("CLICKHOUSE_ADDR"); addr != "" {
		c.ClickHouse.Addr = addr
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.API.JWT.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
	return nil
}

// setDefaults fills zero values
func (c *Config) setDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "juicebox-service"
	}
	if c.Service.UDPBind == "" {
		c.Service.UDPBind = ":" + strconv.Itoa(juicebox.DefaultPort)
	}
	if c.Service.ReadBuffer == 0 {
		c.Service.ReadBuffer = 1024
	}

	if c.Charging.MaxCurrent == 0 {
		c.Charging.MaxCurrent = DefaultCurrentAmps
	}

	// The device reports roughly every 20-30s; see DESIGN.md for the timeout choice.
	if c.Session.TickInterval == 0 {
		c.Session.TickInterval = 30 * time.Second
	}
	if c.Session.IdleTimeout == 0 {
		c.Session.IdleTimeout = 120 * time.Second
	}
	if c.Session.LostAfter == 0 {
		c.Session.LostAfter = 45 * time.Second
	}
	if c.Session.HandshakeTimeout == 0 {
		c.Session.HandshakeTimeout = 30 * time.Second
	}
	if c.Session.SweepInterval == 0 {
		c.Session.SweepInterval = 10 * time.Second
	}
	if c.Session.InboxSize == 0 {
		c.Session.InboxSize = 16
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.SinkTimeout == 0 {
		c.Log.SinkTimeout = 5 * time.Second
	}

	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "juicebox"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 60
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "juicebox-service"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "juicebox"
	}

	if c.ClickHouse.Database == "" {
		c.ClickHouse.Database = "juicebox"
	}
	if c.ClickHouse.Username == "" {
		c.ClickHouse.Username = "default"
	}

	if c.API.JWT.AccessTokenTTL == 0 {
		c.API.JWT.AccessTokenTTL = 24 * time.Hour
	}
}

// Validate checks the configuration and parses the schedule. Every failure is
// a *ConfigurationError.
func (c *Config) Validate() error {
	if c.Charging.MaxCurrent < MinCurrentAmps || c.Charging.MaxCurrent > MaxCurrentAmps {
		return &ConfigurationError{
			Field: "charging.max_current",
			Value: strconv.Itoa(c.Charging.MaxCurrent),
			Err:   fmt.Errorf("must be between %d and %d", MinCurrentAmps, MaxCurrentAmps),
		}
	}

	c.Charging.Window = nil
	if c.Charging.Schedule != "" {
		w, err := schedule.Parse(c.Charging.Schedule)
		if err != nil {
			return &ConfigurationError{Field: "charging.schedule", Value: c.Charging.Schedule, Err: err}
		}
		c.Charging.Window = w
	}

	if c.Session.TickInterval <= 0 {
		return &ConfigurationError{Field: "session.tick_interval", Value: c.Session.TickInterval.String(), Err: errors.New("must be positive")}
	}
	if c.Session.LostAfter >= c.Session.IdleTimeout {
		return &ConfigurationError{
			Field: "session.lost_after",
			Value: c.Session.LostAfter.String(),
			Err:   fmt.Errorf("must be shorter than session.idle_timeout (%s)", c.Session.IdleTimeout),
		}
	}
	if c.Session.InboxSize < 1 {
		return &ConfigurationError{Field: "session.inbox_size", Value: strconv.Itoa(c.Session.InboxSize), Err: errors.New("must be at least 1")}
	}
	if c.Log.SinkTimeout <= 0 {
		return &ConfigurationError{Field: "log.sink_timeout", Value: c.Log.SinkTimeout.String(), Err: errors.New("must be positive")}
	}
	if c.MQTT.QoS > 2 {
		return &ConfigurationError{Field: "mqtt.qos", Value: strconv.Itoa(int(c.MQTT.QoS)), Err: errors.New("must be 0, 1 or 2")}
	}
	return nil
}

// MaxCurrentAmps returns the validated maximum current
func (c *ChargingConfig) MaxCurrentAmps() uint8 {
	return uint8(c.MaxCurrent)
}

// APIEnabled reports whether the status API should listen
func (c *Config) APIEnabled() bool {
	return c.API.Port > 0
}

// PrintConfigSummary 打印配置摘要
func (c *Config) PrintConfigSummary() {
	fmt.Printf("=== JuiceBox Service Configuration ===\n")
	fmt.Printf("Service: %s on UDP %s\n", c.Service.Name, c.Service.UDPBind)
	fmt.Printf("Max current: %dA\n", c.Charging.MaxCurrent)
	fmt.Printf("Schedule: %s\n", c.Charging.Window)
	fmt.Printf("Tick: %s, idle timeout: %s, lost after: %s\n",
		c.Session.TickInterval, c.Session.IdleTimeout, c.Session.LostAfter)
	fmt.Printf("Event log file: %s\n", orNone(c.Log.File))
	fmt.Printf("Postgres: %v, NATS: %v, MQTT: %v, ClickHouse: %v\n",
		c.Database.DSN != "", c.NATS.URL != "", c.MQTT.Broker != "", c.ClickHouse.Addr != "")
	if c.APIEnabled() {
		fmt.Printf("API: %s:%d (auth: %v)\n", c.API.Host, c.API.Port, c.API.JWT.Secret != "")
	}
	fmt.Printf("======================================\n")
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
