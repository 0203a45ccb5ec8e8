package events

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/juicebox-server/juicebox-service/internal/models"
)

// LogSink renders events as structured log lines
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink writing to logger
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "events").Logger()}
}

// Record implements Sink
func (s *LogSink) Record(_ context.Context, ev *models.Event) error {
	e := s.logger.WithLevel(logLevel(ev.Level)).
		Time("at", ev.CreatedAt).
		Str("type", string(ev.Type)).
		Str("device", ev.DeviceID).
		Str("session", ev.SessionID)

	if ev.State != nil {
		e = e.Str("state", ev.State.String())
	}
	if ev.Command != nil {
		e = e.Uint8("amps", ev.Command.CurrentAmps).Bool("charging", ev.Command.ChargingEnabled)
	}
	if ev.Status != nil {
		e = e.Str("status", ev.Status.Status).
			Float64("current", ev.Status.Current).
			Float64("voltage", ev.Status.Voltage).
			Float64("temperature", ev.Status.Temperature)
	}
	if len(ev.Details) > 0 {
		e = e.Fields(map[string]interface{}(ev.Details))
	}
	e.Msg(ev.Description)
	return nil
}

func logLevel(l models.EventLevel) zerolog.Level {
	switch l {
	case models.EventLevelDebug:
		return zerolog.DebugLevel
	case models.EventLevelWarning:
		return zerolog.WarnLevel
	case models.EventLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
