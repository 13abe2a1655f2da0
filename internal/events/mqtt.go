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
)

var (
	ErrMQTTBrokerRequired = errors.New("events: mqtt broker required")
	ErrMQTTTimeout        = errors.New("events: mqtt operation timed out")
)

type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	Device         string
	QoS            byte
	Retained       bool
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		ClientID:       "instaxemu",
		TopicPrefix:    "instax",
		Device:         "emulator",
		QoS:            1,
		ConnectTimeout: 10 * time.Second,
		PublishTimeout: 5 * time.Second,
	}
}

// Topic is where job messages for cfg's device are published.
func (cfg MQTTConfig) Topic() string {
	prefix := strings.Trim(strings.TrimSpace(cfg.TopicPrefix), "/")
	device := strings.Trim(strings.TrimSpace(cfg.Device), "/")
	if device == "" {
		device = "emulator"
	}
	if prefix == "" {
		return device + "/jobs"
	}
	return prefix + "/" + device + "/jobs"
}

type publishClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes job messages as JSON to one topic.
type MQTTPublisher struct {
	client   publishClient
	topic    string
	qos      byte
	retained bool
	timeout  time.Duration
}

// NewMQTTPublisher connects to the broker and returns a publisher. The
// client reconnects on its own after the first connection succeeds.
func NewMQTTPublisher(cfg MQTTConfig) (*MQTTPublisher, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, ErrMQTTBrokerRequired
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultMQTTConfig().ConnectTimeout
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.OnConnect = func(mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Str("topic", cfg.Topic()).Msg("mqtt connected")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("mqtt connection lost")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("%w: connect %s", ErrMQTTTimeout, cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("events: mqtt connect %s: %w", cfg.Broker, err)
	}
	return newMQTTPublisher(client, cfg), nil
}

func newMQTTPublisher(client publishClient, cfg MQTTConfig) *MQTTPublisher {
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = DefaultMQTTConfig().PublishTimeout
	}
	return &MQTTPublisher{
		client:   client,
		topic:    cfg.Topic(),
		qos:      cfg.QoS,
		retained: cfg.Retained,
		timeout:  timeout,
	}
}

func (p *MQTTPublisher) Topic() string {
	return p.topic
}

func (p *MQTTPublisher) Publish(ctx context.Context, m Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("events: encode message: %w", err)
	}
	token := p.client.Publish(p.topic, p.qos, p.retained, body)

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: publish %s", ErrMQTTTimeout, p.topic)
	}
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
