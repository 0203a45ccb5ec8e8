package storage

import (
	"context"
	"errors"
	"time"

	"github.com/juicebox-server/juicebox-service/internal/models"
)

// Common errors
var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidData = errors.New("invalid data")
)

// Store defines the storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// Event log methods
	CreateEvent(ctx context.Context, event *models.Event) error
	ListEvents(ctx context.Context, filters EventFilters, limit, offset int) ([]*models.Event, int64, error)

	// Status report methods
	SaveStatusReport(ctx context.Context, report *models.StatusReport) error
	GetLastStatusReport(ctx context.Context, deviceID string) (*models.StatusReport, error)

	// Close the store
	Close() error
}

// EventFilters represents filters for event logs
type EventFilters struct {
	DeviceID  *string
	SessionID *string
	Type      *models.EventType
	Level     *models.EventLevel
	StartTime *time.Time
	EndTime   *time.Time
}
