package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/juicebox-server/juicebox-service/internal/config"
	"github.com/juicebox-server/juicebox-service/internal/models"
)

const mqttPublishTimeout = 5 * time.Second

// ErrPublishTimeout is returned when the broker does not acknowledge in time
var ErrPublishTimeout = errors.New("publish timeout")

// MQTTSink mirrors events to <prefix>/<device>/event and status reports,
// retained, to <prefix>/<device>/status
type MQTTSink struct {
	client mqtt.Client
	prefix string
	qos    byte
}

// ConnectMQTT connects to the configured broker
func ConnectMQTT(cfg config.MQTTConfig) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("MQTT client connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Error().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		client.Disconnect(0)
		return nil, fmt.Errorf("connect mqtt %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt %s: %w", cfg.Broker, err)
	}

	return NewMQTTSink(client, cfg.TopicPrefix, cfg.QoS), nil
}

// NewMQTTSink creates a sink on a connected client
func NewMQTTSink(client mqtt.Client, prefix string, qos byte) *MQTTSink {
	return &MQTTSink{client: client, prefix: strings.TrimSuffix(prefix, "/"), qos: qos}
}

// Topic returns the topic for kind ("event" or "status") of a device
func (s *MQTTSink) Topic(deviceID, kind string) string {
	device := strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(deviceID)
	if device == "" {
		device = "unknown"
	}
	return s.prefix + "/" + device + "/" + kind
}

// Record implements Sink
func (s *MQTTSink) Record(_ context.Context, ev *models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.publish(s.Topic(ev.DeviceID, "event"), false, data); err != nil {
		return err
	}

	if ev.Type == models.EventTypeStatus && ev.Status != nil {
		status, err := json.Marshal(ev.Status)
		if err != nil {
			return fmt.Errorf("marshal status: %w", err)
		}
		return s.publish(s.Topic(ev.DeviceID, "status"), true, status)
	}
	return nil
}

func (s *MQTTSink) publish(topic string, retained bool, payload []byte) error {
	token := s.client.Publish(topic, s.qos, retained, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("publish %s: %w", topic, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker
func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}
