package driver

import (
	"errors"
	"time"
)

var ErrInvalidConfig = errors.New("driver: invalid config")

// Config holds the sender's pacing. The printer has no flow control on the
// data path, so these delays are the only thing keeping it from dropping
// chunks.
type Config struct {
	StartSettle     time.Duration `toml:"start_settle"`
	ChunkPacing     time.Duration `toml:"chunk_pacing"`
	EndSettle       time.Duration `toml:"end_settle"`
	ExecuteSettle   time.Duration `toml:"execute_settle"`
	ResponseTimeout time.Duration `toml:"response_timeout"`
}

func DefaultConfig() Config {
	return Config{
		StartSettle:     100 * time.Millisecond,
		ChunkPacing:     75 * time.Millisecond,
		EndSettle:       100 * time.Millisecond,
		ExecuteSettle:   time.Second,
		ResponseTimeout: 5 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.StartSettle < 0 || c.ChunkPacing < 0 || c.EndSettle < 0 || c.ExecuteSettle < 0 {
		return errors.Join(ErrInvalidConfig, errors.New("delays must not be negative"))
	}
	if c.ResponseTimeout <= 0 {
		return errors.Join(ErrInvalidConfig, errors.New("response_timeout must be positive"))
	}
	return nil
}
