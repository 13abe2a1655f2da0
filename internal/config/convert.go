package config

import (
	"github.com/danmuck/instaxemu/internal/bridge"
	"github.com/danmuck/instaxemu/internal/events"
	"github.com/danmuck/instaxemu/internal/printer/model"
	"github.com/danmuck/instaxemu/internal/retry"
)

// Profile resolves the configured model.
func (c EmulatorConfig) Profile() (model.Profile, error) {
	return model.Parse(c.Model)
}

func (b BridgeConfig) Serial() bridge.SerialConfig {
	cfg := bridge.DefaultSerialConfig(b.Device)
	if b.Baud > 0 {
		cfg.Baud = b.Baud
	}
	if d, err := parseDuration(b.ReadTimeout); err == nil && d > 0 {
		cfg.ReadTimeout = d
	}
	return cfg
}

// Backoff is the reopen policy for a serial bridge.
func (b BridgeConfig) Backoff() retry.BackoffConfig {
	cfg := retry.DefaultBackoff()
	if d, err := parseDuration(b.ReconnectDelay); err == nil && d > 0 {
		cfg.InitialDelay = d
	}
	return cfg
}

func (m MQTTConfig) Publisher() events.MQTTConfig {
	cfg := events.DefaultMQTTConfig()
	cfg.Broker = m.Broker
	cfg.Username = m.Username
	cfg.Password = m.Password
	cfg.Retained = m.Retained
	if m.ClientID != "" {
		cfg.ClientID = m.ClientID
	}
	if m.TopicPrefix != "" {
		cfg.TopicPrefix = m.TopicPrefix
	}
	if m.Device != "" {
		cfg.Device = m.Device
	}
	cfg.QoS = byte(m.QoS)
	return cfg
}

func (m MQTTConfig) Sink() events.SinkConfig {
	cfg := events.DefaultSinkConfig()
	cfg.IncludeData = m.IncludeData
	return cfg
}
