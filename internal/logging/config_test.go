package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevelAliases(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":       zerolog.TraceLevel,
		"diagnostics": zerolog.TraceLevel,
		" DEBUG ":     zerolog.DebugLevel,
		"warning":     zerolog.WarnLevel,
		"off":         zerolog.Disabled,
	}
	for raw, want := range cases {
		got, ok := parseLevel(raw)
		if !ok || got != want {
			t.Fatalf("parseLevel(%q): got=%v ok=%v want=%v", raw, got, ok, want)
		}
	}
	if _, ok := parseLevel("loud"); ok {
		t.Fatalf("expected unknown level to be rejected")
	}
	if _, ok := parseLevel(""); ok {
		t.Fatalf("expected empty level to be ignored")
	}
}

func TestParseBoolIgnoresGarbage(t *testing.T) {
	if v, ok := parseBool("true"); !ok || !v {
		t.Fatalf("expected true, got v=%v ok=%v", v, ok)
	}
	if _, ok := parseBool("maybe"); ok {
		t.Fatalf("expected garbage to be ignored")
	}
}

func TestEnvOverridesApplyOverProfileDefaults(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogBypass, "1")

	cfg := defaultConfig(ProfileTest)
	applyEnvOverrides(&cfg)
	if cfg.Level != zerolog.ErrorLevel {
		t.Fatalf("unexpected level: %v", cfg.Level)
	}
	if !cfg.Bypass {
		t.Fatalf("expected bypass enabled")
	}
}

func TestNewBypassWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: zerolog.InfoLevel, Bypass: true, Out: &buf})
	logger.Info().Str("model", "square").Msg("hello")
	logger.Debug().Msg("dropped")

	out := buf.String()
	if !strings.Contains(out, `"model":"square"`) {
		t.Fatalf("expected json field, got %q", out)
	}
	if strings.Contains(out, "dropped") {
		t.Fatalf("debug line should be filtered at info level: %q", out)
	}
}

func TestResolveRuntimeHonorsEnv(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvLogTimestamp, "false")
	t.Setenv(EnvLogNoColor, "true")

	cfg := Resolve(ProfileRuntime)
	if cfg.Level != zerolog.WarnLevel || cfg.Timestamp || !cfg.NoColor {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestApplyConfigLevelDefersToEnv(t *testing.T) {
	prev, prevLogger := zerolog.GlobalLevel(), log.Logger
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(prev)
		log.Logger = prevLogger
	})

	t.Setenv(EnvLogLevel, "error")
	if ApplyConfigLevel("debug") {
		t.Fatalf("config level must not override the environment")
	}

	t.Setenv(EnvLogLevel, "")
	if !ApplyConfigLevel("warn") {
		t.Fatalf("expected config level to apply")
	}
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Fatalf("unexpected global level: %v", zerolog.GlobalLevel())
	}
	if ApplyConfigLevel("loud") {
		t.Fatalf("expected unknown level to be ignored")
	}
}
