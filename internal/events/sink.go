// Package events records session and command transitions to the configured sinks.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/juicebox-server/juicebox-service/internal/models"
)

// Sink receives events
type Sink interface {
	Record(ctx context.Context, event *models.Event) error
}

// Closer is implemented by sinks holding external resources
type Closer interface {
	Close() error
}

// DefaultSinkTimeout bounds a single sink write
const DefaultSinkTimeout = 5 * time.Second

// Fanout delivers every event to each sink. A failing sink is logged and
// never blocks the others. Each write gets its own deadline.
type Fanout struct {
	sinks   []Sink
	timeout time.Duration
}

// NewFanout creates a fan-out sink
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{timeout: DefaultSinkTimeout}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Add appends a sink
func (f *Fanout) Add(s Sink) {
	if s != nil {
		f.sinks = append(f.sinks, s)
	}
}

// SetTimeout sets the per-sink write deadline. Zero keeps the current value.
func (f *Fanout) SetTimeout(d time.Duration) {
	if d > 0 {
		f.timeout = d
	}
}

// Len returns the number of sinks
func (f *Fanout) Len() int {
	return len(f.sinks)
}

// Record implements Sink
func (f *Fanout) Record(ctx context.Context, event *models.Event) error {
	var errs []error
	for _, s := range f.sinks {
		if err := f.recordOne(ctx, s, event); err != nil {
			log.Error().
				Err(err).
				Str("device", event.DeviceID).
				Str("type", string(event.Type)).
				Msgf("event sink %T failed", s)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) recordOne(ctx context.Context, s Sink, event *models.Event) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return s.Record(ctx, event)
}

// Close closes every sink that holds resources
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if c, ok := s.(Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event
type Discard struct{}

// Record implements Sink
func (Discard) Record(context.Context, *models.Event) error { return nil }
