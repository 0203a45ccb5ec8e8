package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/juicebox-server/juicebox-service/internal/config"
)

// PostgresStore implements Store interface for PostgreSQL
type PostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// schema is applied by Migrate; every statement is idempotent
var schema = []string{
	`CREATE TABLE IF NOT EXISTS event_logs (
		id UUID PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL,
		device_id TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		level TEXT NOT NULL,
		state TEXT,
		current_amps SMALLINT,
		charging_enabled BOOLEAN,
		description TEXT NOT NULL DEFAULT '',
		details JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS event_logs_device_created_idx ON event_logs (device_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS status_reports (
		id BIGSERIAL PRIMARY KEY,
		device_id TEXT NOT NULL,
		received_at TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL,
		current DOUBLE PRECISION NOT NULL,
		voltage DOUBLE PRECISION NOT NULL,
		temperature DOUBLE PRECISION NOT NULL,
		lifetime INTEGER NOT NULL,
		frequency DOUBLE PRECISION NOT NULL,
		current_available INTEGER NOT NULL,
		current_default INTEGER NOT NULL,
		sequence INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS status_reports_device_received_idx ON status_reports (device_id, received_at DESC)`,
}

// Migrate creates the tables used by the store
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *PostgresStore) BeginTx(ctx context.Context) (Store, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{db: s.db, tx: tx}, nil
}

// Commit commits the transaction
func (s *PostgresStore) Commit() error {
	if s.tx == nil {
		return nil
	}
	return s.tx.Commit()
}

// Rollback rolls back the transaction
func (s *PostgresStore) Rollback() error {
	if s.tx == nil {
		return nil
	}
	return s.tx.Rollback()
}

// getDB returns tx if in transaction, otherwise db
func (s *PostgresStore) getDB() interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
} {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}
