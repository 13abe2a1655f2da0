package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/instaxemu/internal/logging"
	"github.com/danmuck/instaxemu/internal/printer/model"
	"github.com/pelletier/go-toml/v2"
)

const (
	BridgeSerial = "serial"
	BridgeTCP    = "tcp"
	BridgeNone   = "none"
)

var ErrInvalidConfig = errors.New("config: invalid")

// EmulatorConfig is the on-disk configuration of instaxemu. Durations are
// Go duration strings.
type EmulatorConfig struct {
	Model     string        `toml:"model"`
	StateFile string        `toml:"state_file"`
	LogLevel  string        `toml:"log_level"`
	Storage   StorageConfig `toml:"storage"`
	HTTP      HTTPConfig    `toml:"http"`
	Bridge    BridgeConfig  `toml:"bridge"`
	MQTT      MQTTConfig    `toml:"mqtt"`
}

type StorageConfig struct {
	Root string `toml:"root"`
}

type HTTPConfig struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
	// Token guards the mutating panel routes when non-empty.
	Token string `toml:"token"`
}

type BridgeConfig struct {
	Mode           string `toml:"mode"`
	Device         string `toml:"device"`
	Baud           int    `toml:"baud"`
	ReadTimeout    string `toml:"read_timeout"`
	Listen         string `toml:"listen"`
	ReconnectDelay string `toml:"reconnect_delay"`
}

type MQTTConfig struct {
	Enabled     bool   `toml:"enabled"`
	Broker      string `toml:"broker"`
	ClientID    string `toml:"client_id"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	TopicPrefix string `toml:"topic_prefix"`
	Device      string `toml:"device"`
	QoS         int    `toml:"qos"`
	Retained    bool   `toml:"retained"`
	IncludeData bool   `toml:"include_data"`
}

func DefaultEmulatorConfig() EmulatorConfig {
	return EmulatorConfig{
		Model:     model.Square.String(),
		StateFile: "local/state.yaml",
		LogLevel:  "info",
		Storage:   StorageConfig{Root: "local/prints"},
		HTTP:      HTTPConfig{Addr: ":8080"},
		Bridge: BridgeConfig{
			Mode:           BridgeTCP,
			Baud:           115200,
			ReadTimeout:    "100ms",
			Listen:         ":7070",
			ReconnectDelay: "250ms",
		},
		MQTT: MQTTConfig{
			ClientID:    "instaxemu",
			TopicPrefix: "instax",
			Device:      "emulator",
			QoS:         1,
		},
	}
}

// LoadEmulatorConfig reads path over the defaults and validates the result.
func LoadEmulatorConfig(path string) (EmulatorConfig, error) {
	cfg := DefaultEmulatorConfig()
	if err := loadToml(path, &cfg); err != nil {
		return EmulatorConfig{}, err
	}
	cfg.Bridge.Mode = strings.ToLower(strings.TrimSpace(cfg.Bridge.Mode))
	if err := ValidateEmulatorConfig(cfg); err != nil {
		return EmulatorConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateEmulatorConfig(cfg EmulatorConfig) error {
	if _, err := model.Parse(cfg.Model); err != nil {
		return fmt.Errorf("%w: model: %w", ErrInvalidConfig, err)
	}
	if strings.TrimSpace(cfg.Storage.Root) == "" {
		return fmt.Errorf("%w: storage.root is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		return fmt.Errorf("%w: http.addr is required", ErrInvalidConfig)
	}
	if cfg.LogLevel != "" {
		if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
			return fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, cfg.LogLevel)
		}
	}
	if err := ValidateBridgeConfig(cfg.Bridge); err != nil {
		return err
	}
	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.Broker) == "" {
			return fmt.Errorf("%w: mqtt.broker is required when mqtt is enabled", ErrInvalidConfig)
		}
		if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
			return fmt.Errorf("%w: mqtt.qos must be 0, 1 or 2", ErrInvalidConfig)
		}
	}
	return nil
}

func ValidateBridgeConfig(cfg BridgeConfig) error {
	switch cfg.Mode {
	case BridgeSerial:
		if strings.TrimSpace(cfg.Device) == "" {
			return fmt.Errorf("%w: bridge.device is required in serial mode", ErrInvalidConfig)
		}
		if cfg.Baud <= 0 {
			return fmt.Errorf("%w: bridge.baud must be positive", ErrInvalidConfig)
		}
	case BridgeTCP:
		if strings.TrimSpace(cfg.Listen) == "" {
			return fmt.Errorf("%w: bridge.listen is required in tcp mode", ErrInvalidConfig)
		}
	case BridgeNone:
	default:
		return fmt.Errorf("%w: unknown bridge.mode %q", ErrInvalidConfig, cfg.Mode)
	}
	for name, raw := range map[string]string{
		"bridge.read_timeout":    cfg.ReadTimeout,
		"bridge.reconnect_delay": cfg.ReconnectDelay,
	} {
		if _, err := parseDuration(raw); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, name, err)
		}
	}
	return nil
}

// parseDuration treats an empty string as zero.
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", raw)
	}
	return d, nil
}
