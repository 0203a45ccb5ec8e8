package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/juicebox-server/juicebox-service/internal/config"
	"github.com/juicebox-server/juicebox-service/internal/models"
)

// NATSSink publishes every event as JSON on <prefix>.<device>.<type>
type NATSSink struct {
	nc     *nats.Conn
	prefix string
	owned  bool
}

// ConnectNATS dials the configured server and returns a sink owning the connection
func ConnectNATS(cfg config.NATSConfig) (*NATSSink, error) {
	opts := []nats.Option{
		nats.Name("juicebox-service"),
		nats.ReconnectWait(cfg.ReconnectInterval),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	s := NewNATSSink(nc, cfg.SubjectPrefix)
	s.owned = true
	return s, nil
}

// NewNATSSink creates a sink on an existing connection
func NewNATSSink(nc *nats.Conn, prefix string) *NATSSink {
	return &NATSSink{nc: nc, prefix: prefix}
}

// Subject returns the subject an event is published on
func (s *NATSSink) Subject(ev *models.Event) string {
	return Subject(s.prefix, ev)
}

// Subject builds <prefix>.<device>.<type> with NATS token separators removed
// from the device ID
func Subject(prefix string, ev *models.Event) string {
	device := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(ev.DeviceID)
	if device == "" {
		device = "unknown"
	}
	return prefix + "." + device + "." + strings.ToLower(string(ev.Type))
}

// Record implements Sink
func (s *NATSSink) Record(_ context.Context, ev *models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.nc.Publish(s.Subject(ev), data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close drains the connection when the sink created it
func (s *NATSSink) Close() error {
	if !s.owned {
		return nil
	}
	return s.nc.Drain()
}
