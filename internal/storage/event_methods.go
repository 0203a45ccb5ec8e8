package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/juicebox-server/juicebox-service/internal/models"
)

// CreateEvent creates an event log entry
func (s *PostgresStore) CreateEvent(ctx context.Context, event *models.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO event_logs (
			id, created_at, device_id, session_id, type, level,
			state, current_amps, charging_enabled, description, details
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	var state sql.NullString
	if event.State != nil {
		state = sql.NullString{String: event.State.String(), Valid: true}
	}
	var amps sql.NullInt16
	var enabled sql.NullBool
	if event.Command != nil {
		amps = sql.NullInt16{Int16: int16(event.Command.CurrentAmps), Valid: true}
		enabled = sql.NullBool{Bool: event.Command.ChargingEnabled, Valid: true}
	}

	_, err := s.getDB().ExecContext(ctx, query,
		event.ID, event.CreatedAt, event.DeviceID, event.SessionID,
		event.Type, event.Level, state, amps, enabled,
		event.Description, event.Details,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEvents lists event logs with filters, newest first
func (s *PostgresStore) ListEvents(ctx context.Context, filters EventFilters, limit, offset int) ([]*models.Event, int64, error) {
	// Build query with filters
	query := "SELECT COUNT(*) FROM event_logs WHERE 1=1"
	args := []interface{}{}
	argCount := 0

	if filters.DeviceID != nil {
		argCount++
		query += fmt.Sprintf(" AND device_id = $%d", argCount)
		args = append(args, *filters.DeviceID)
	}

	if filters.SessionID != nil {
		argCount++
		query += fmt.Sprintf(" AND session_id = $%d", argCount)
		args = append(args, *filters.SessionID)
	}

	if filters.Type != nil {
		argCount++
		query += fmt.Sprintf(" AND type = $%d", argCount)
		args = append(args, *filters.Type)
	}

	if filters.Level != nil {
		argCount++
		query += fmt.Sprintf(" AND level = $%d", argCount)
		args = append(args, *filters.Level)
	}

	if filters.StartTime != nil {
		argCount++
		query += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *filters.StartTime)
	}

	if filters.EndTime != nil {
		argCount++
		query += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, *filters.EndTime)
	}

	// Get count
	var count int64
	if err := s.getDB().QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	// Get rows
	selectQuery := strings.Replace(query, "SELECT COUNT(*)",
		"SELECT id, created_at, device_id, session_id, type, level, state, current_amps, charging_enabled, description, details", 1)

	argCount++
	selectQuery += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argCount)
	args = append(args, limit)

	argCount++
	selectQuery += fmt.Sprintf(" OFFSET $%d", argCount)
	args = append(args, offset)

	rows, err := s.getDB().QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event := &models.Event{}
		var state sql.NullString
		var amps sql.NullInt16
		var enabled sql.NullBool

		err := rows.Scan(
			&event.ID, &event.CreatedAt, &event.DeviceID, &event.SessionID,
			&event.Type, &event.Level, &state, &amps, &enabled,
			&event.Description, &event.Details,
		)
		if err != nil {
			return nil, 0, err
		}

		if state.Valid {
			if st, ok := models.ParseSessionState(state.String); ok {
				event.State = &st
			}
		}
		if amps.Valid {
			cmd := models.NewCommandState(uint8(amps.Int16))
			event.Command = &cmd
		}

		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return events, count, nil
}

// SaveStatusReport stores one device status report
func (s *PostgresStore) SaveStatusReport(ctx context.Context, r *models.StatusReport) error {
	if r == nil || r.DeviceID == "" {
		return ErrInvalidData
	}

	query := `
		INSERT INTO status_reports (
			device_id, received_at, status, current, voltage, temperature,
			lifetime, frequency, current_available, current_default, sequence
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.getDB().ExecContext(ctx, query,
		r.DeviceID, r.ReceivedAt, r.Status, r.Current, r.Voltage, r.Temperature,
		r.Lifetime, r.Frequency, r.CurrentAvailable, r.CurrentDefault, r.Sequence,
	)
	if err != nil {
		return fmt.Errorf("insert status report: %w", err)
	}
	return nil
}

// GetLastStatusReport returns the newest status report of a device
func (s *PostgresStore) GetLastStatusReport(ctx context.Context, deviceID string) (*models.StatusReport, error) {
	query := `
		SELECT device_id, received_at, status, current, voltage, temperature,
			lifetime, frequency, current_available, current_default, sequence
		FROM status_reports
		WHERE device_id = $1
		ORDER BY received_at DESC
		LIMIT 1`

	r := &models.StatusReport{}
	err := s.getDB().QueryRowContext(ctx, query, deviceID).Scan(
		&r.DeviceID, &r.ReceivedAt, &r.Status, &r.Current, &r.Voltage, &r.Temperature,
		&r.Lifetime, &r.Frequency, &r.CurrentAvailable, &r.CurrentDefault, &r.Sequence,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}
