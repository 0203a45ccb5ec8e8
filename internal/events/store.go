package events

import (
	"context"
	"fmt"

	"github.com/juicebox-server/juicebox-service/internal/models"
	"github.com/juicebox-server/juicebox-service/internal/storage"
)

// StoreSink persists events, and the status report carried by STATUS events,
// in the relational store
type StoreSink struct {
	store storage.Store
}

// NewStoreSink creates a sink backed by store
func NewStoreSink(store storage.Store) *StoreSink {
	return &StoreSink{store: store}
}

// Record implements Sink
func (s *StoreSink) Record(ctx context.Context, ev *models.Event) error {
	if ev.Type != models.EventTypeStatus || ev.Status == nil {
		return s.store.CreateEvent(ctx, ev)
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := tx.CreateEvent(ctx, ev); err != nil {
		return err
	}
	if err := tx.SaveStatusReport(ctx, ev.Status); err != nil {
		return err
	}
	return tx.Commit()
}

// TelemetryStore receives time-series data. *storage.ClickHouseStore implements it.
type TelemetryStore interface {
	SaveStatusReport(ctx context.Context, report *models.StatusReport) error
	SaveCommand(ctx context.Context, ev *models.Event) error
}

// TelemetrySink forwards status reports and command outcomes to a telemetry store
type TelemetrySink struct {
	store TelemetryStore
}

// NewTelemetrySink creates a telemetry sink
func NewTelemetrySink(store TelemetryStore) *TelemetrySink {
	return &TelemetrySink{store: store}
}

// Record implements Sink
func (s *TelemetrySink) Record(ctx context.Context, ev *models.Event) error {
	switch ev.Type {
	case models.EventTypeStatus:
		if ev.Status != nil {
			return s.store.SaveStatusReport(ctx, ev.Status)
		}
	case models.EventTypeCommandApplied, models.EventTypeCommandFailed:
		if ev.Command != nil {
			return s.store.SaveCommand(ctx, ev)
		}
	}
	return nil
}

// Close closes the telemetry store when it holds resources
func (s *TelemetrySink) Close() error {
	if c, ok := s.store.(Closer); ok {
		return c.Close()
	}
	return nil
}
