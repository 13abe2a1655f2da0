package bridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/tarm/serial"
)

var ErrSerialDeviceRequired = errors.New("bridge: serial device is required")

// SerialConfig selects the UART the BLE co-processor is attached to.
type SerialConfig struct {
	Device      string        `toml:"device"`
	Baud        int           `toml:"baud"`
	ReadTimeout time.Duration `toml:"read_timeout"`
}

func DefaultSerialConfig(device string) SerialConfig {
	return SerialConfig{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100 * time.Millisecond,
	}
}

// OpenSerial opens the co-processor UART.
func OpenSerial(cfg SerialConfig) (*Link, error) {
	if cfg.Device == "" {
		return nil, ErrSerialDeviceRequired
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}
	l := NewLink(cfg.Device, port)
	l.idleEOF = cfg.ReadTimeout > 0
	return l, nil
}
