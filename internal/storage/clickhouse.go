package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/rs/zerolog/log"

	"github.com/juicebox-server/juicebox-service/internal/config"
	"github.com/juicebox-server/juicebox-service/internal/models"
)

// ClickHouseStore keeps device telemetry and applied commands for analysis
type ClickHouseStore struct {
	conn driver.Conn
}

var clickhouseTables = []string{
	`CREATE TABLE IF NOT EXISTS juicebox_status (
		timestamp DateTime64(3),
		device_id String,
		status LowCardinality(String),
		current Float64,
		voltage Float64,
		temperature Float64,
		lifetime Int64,
		frequency Float64,
		current_available Int32,
		current_default Int32,
		sequence Int32
	) ENGINE = MergeTree()
	ORDER BY (device_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS juicebox_commands (
		timestamp DateTime64(3),
		device_id String,
		session_id String,
		type LowCardinality(String),
		current_amps UInt8,
		charging_enabled UInt8
	) ENGINE = MergeTree()
	ORDER BY (device_id, timestamp)`,
}

// NewClickHouseStore opens the connection and creates the telemetry tables
func NewClickHouseStore(cfg config.ClickHouseConfig) (*ClickHouseStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	s := &ClickHouseStore{conn: conn}
	if err := s.InitSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	log.Info().Str("addr", cfg.Addr).Str("database", cfg.Database).Msg("Connected to ClickHouse")
	return s, nil
}

// InitSchema creates the telemetry tables if they don't exist
func (s *ClickHouseStore) InitSchema(ctx context.Context) error {
	for _, stmt := range clickhouseTables {
		if err := s.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create clickhouse table: %w", err)
		}
	}
	return nil
}

// SaveStatusReport stores one device status report
func (s *ClickHouseStore) SaveStatusReport(ctx context.Context, r *models.StatusReport) error {
	query := `
		INSERT INTO juicebox_status (timestamp, device_id, status, current, voltage, temperature,
			lifetime, frequency, current_available, current_default, sequence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	err := s.conn.Exec(ctx, query,
		r.ReceivedAt, r.DeviceID, r.Status, r.Current, r.Voltage, r.Temperature,
		int64(r.Lifetime), r.Frequency, int32(r.CurrentAvailable), int32(r.CurrentDefault), int32(r.Sequence),
	)
	if err != nil {
		return fmt.Errorf("insert status report: %w", err)
	}
	return nil
}

// SaveCommand stores an applied or failed command event
func (s *ClickHouseStore) SaveCommand(ctx context.Context, ev *models.Event) error {
	if ev.Command == nil {
		return ErrInvalidData
	}

	var enabled uint8
	if ev.Command.ChargingEnabled {
		enabled = 1
	}

	query := `
		INSERT INTO juicebox_commands (timestamp, device_id, session_id, type, current_amps, charging_enabled)
		VALUES (?, ?, ?, ?, ?, ?)`

	err := s.conn.Exec(ctx, query,
		ev.CreatedAt, ev.DeviceID, ev.SessionID, string(ev.Type), ev.Command.CurrentAmps, enabled,
	)
	if err != nil {
		return fmt.Errorf("insert command: %w", err)
	}
	return nil
}

// Close closes the ClickHouse connection
func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}
