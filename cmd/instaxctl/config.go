package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/instaxemu/internal/driver"
)

const (
	transportTCP    = "tcp"
	transportSerial = "serial"
	modelAuto       = "auto"
)

type fileConfig struct {
	Transport       string `toml:"transport"`
	Address         string `toml:"address"`
	Baud            int    `toml:"baud"`
	Model           string `toml:"model"`
	StartSettle     string `toml:"start_settle"`
	ChunkPacing     string `toml:"chunk_pacing"`
	EndSettle       string `toml:"end_settle"`
	ExecuteSettle   string `toml:"execute_settle"`
	ResponseTimeout string `toml:"response_timeout"`
}

type ctlConfig struct {
	Transport string
	Address   string
	Baud      int
	// Model is a model name or "auto" to ask the printer.
	Model  string
	Driver driver.Config
}

func defaultCtlConfig() ctlConfig {
	return ctlConfig{
		Transport: transportTCP,
		Address:   "127.0.0.1:7070",
		Baud:      115200,
		Model:     modelAuto,
		Driver:    driver.DefaultConfig(),
	}
}

func loadCtlConfig(path string) (ctlConfig, error) {
	cfg := defaultCtlConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ctlConfig{}, fmt.Errorf("load instaxctl config: %w", err)
	}

	if meta.IsDefined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("baud") {
		cfg.Baud = raw.Baud
	}
	if meta.IsDefined("model") {
		cfg.Model = strings.ToLower(strings.TrimSpace(raw.Model))
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"start_settle", raw.StartSettle, &cfg.Driver.StartSettle},
		{"chunk_pacing", raw.ChunkPacing, &cfg.Driver.ChunkPacing},
		{"end_settle", raw.EndSettle, &cfg.Driver.EndSettle},
		{"execute_settle", raw.ExecuteSettle, &cfg.Driver.ExecuteSettle},
		{"response_timeout", raw.ResponseTimeout, &cfg.Driver.ResponseTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return ctlConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if err := validateCtlConfig(cfg); err != nil {
		return ctlConfig{}, err
	}
	return cfg, nil
}

func validateCtlConfig(cfg ctlConfig) error {
	switch cfg.Transport {
	case transportTCP, transportSerial:
	default:
		return fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	if cfg.Address == "" {
		return fmt.Errorf("address is required")
	}
	if cfg.Transport == transportSerial && cfg.Baud <= 0 {
		return fmt.Errorf("baud must be positive for serial transport")
	}
	return cfg.Driver.Validate()
}
