package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm-gate/pkg/config"
)

var envKeys = []string{
	"HELM_GATE_CONFIG", "PORT", "HEALTH_PORT", "LOG_LEVEL", "LOG_FORMAT", "DATABASE_URL",
	"SQLITE_PATH", "REDIS_ADDR", "REDIS_PASSWORD", "JWT_SECRET", "JWT_ISSUER", "SIGNALS_URL",
	"SIGNALS_TOKEN", "SIGNALS_FILE", "SIGNALS_TIMEOUT", "OTEL_ENABLED", "OTEL_ENDPOINT",
	"ENVIRONMENT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "ATTEST_SINK", "ATTEST_KEY_SEED",
	"GATED_ACTIONS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.True(t, cfg.LiteMode())
	assert.Equal(t, 3*time.Second, cfg.SignalsTimeout)
	assert.False(t, cfg.OTelEnabled)
	assert.Equal(t, "file://attestations", cfg.AttestSink)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DATABASE_URL", "postgres://prod:5432/gate")
	t.Setenv("SIGNALS_TIMEOUT", "750ms")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("RATE_LIMIT_BURST", "7")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.False(t, cfg.LiteMode())
	assert.Equal(t, 750*time.Millisecond, cfg.SignalsTimeout)
	assert.True(t, cfg.OTelEnabled)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
	assert.Equal(t, 7, cfg.RateLimitBurst)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "gate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "7070"
signals_file: /etc/helm-gate/readiness.yaml
signals_timeout: 2s
rate_limit_burst: 3
gated_actions: [STAFFING_GAP_RESOLVED]
`), 0o600))
	t.Setenv("HELM_GATE_CONFIG", path)
	t.Setenv("RATE_LIMIT_BURST", "9")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "/etc/helm-gate/readiness.yaml", cfg.SignalsFile)
	assert.Equal(t, 2*time.Second, cfg.SignalsTimeout)
	assert.Equal(t, 9, cfg.RateLimitBurst, "env wins over file")
	assert.Equal(t, "INFO", cfg.LogLevel, "unset keys keep defaults")
	assert.Equal(t, []string{"STAFFING_GAP_RESOLVED"}, cfg.GatedActions)
}

func TestLoad_GatedActionsList(t *testing.T) {
	clearEnv(t)
	t.Setenv("GATED_ACTIONS", " invite_user, ,SHIFT_PUBLISH ")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"invite_user", "SHIFT_PUBLISH"}, cfg.GatedActions)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	t.Setenv("HELM_GATE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := config.Load()
	require.Error(t, err)

	clearEnv(t)
	t.Setenv("RATE_LIMIT_BURST", "lots")
	_, err = config.Load()
	require.Error(t, err)

	clearEnv(t)
	t.Setenv("SIGNALS_TIMEOUT", "soon")
	_, err = config.Load()
	require.Error(t, err)
}

func TestSlogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	} {
		cfg := config.Defaults()
		cfg.LogLevel = in
		assert.Equal(t, want, cfg.SlogLevel(), in)
	}
}
