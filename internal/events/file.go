package events

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/juicebox-server/juicebox-service/internal/models"
)

// fileHeader lists the CSV columns; the status columns follow the original data log
var fileHeader = []string{
	"date", "device", "session", "type", "level", "state",
	"current_amps", "charging_enabled",
	"status", "current", "voltage", "temperature", "lifetime",
	"description",
}

// FileSink appends one CSV line per event
type FileSink struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// OpenFileSink opens path for appending and writes the header to a new file
func OpenFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat event log: %w", err)
	}

	s := &FileSink{f: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := s.write(fileHeader); err != nil {
			f.Close()
			return nil, err
		}
	}
	return s, nil
}

// Record implements Sink
func (s *FileSink) Record(_ context.Context, ev *models.Event) error {
	row := make([]string, len(fileHeader))
	row[0] = ev.CreatedAt.Format(time.RFC3339)
	row[1] = ev.DeviceID
	row[2] = ev.SessionID
	row[3] = string(ev.Type)
	row[4] = string(ev.Level)
	if ev.State != nil {
		row[5] = ev.State.String()
	}
	if ev.Command != nil {
		row[6] = strconv.Itoa(int(ev.Command.CurrentAmps))
		row[7] = strconv.FormatBool(ev.Command.ChargingEnabled)
	}
	if st := ev.Status; st != nil {
		row[8] = st.Status
		row[9] = strconv.FormatFloat(st.Current, 'f', 1, 64)
		row[10] = strconv.FormatFloat(st.Voltage, 'f', 1, 64)
		row[11] = strconv.FormatFloat(st.Temperature, 'f', 1, 64)
		row[12] = strconv.Itoa(st.Lifetime)
	}
	row[13] = ev.Description

	return s.write(row)
}

func (s *FileSink) write(row []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("write event log: %w", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("write event log: %w", err)
	}
	return nil
}

// Close flushes and closes the file
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	return s.f.Close()
}
