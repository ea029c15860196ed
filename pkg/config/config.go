// Package config loads server configuration from the environment, optionally
// layered over a YAML file named by HELM_GATE_CONFIG.
//
// Precedence: defaults, then the file, then non-empty environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds server configuration.
type Config struct {
	Port       string `yaml:"port"`
	HealthPort string `yaml:"health_port"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`

	// DatabaseURL selects Postgres. When empty the server runs in lite mode
	// on SQLitePath.
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`

	JWTSecret string `yaml:"jwt_secret"`
	JWTIssuer string `yaml:"jwt_issuer"`

	SignalsURL     string        `yaml:"signals_url"`
	SignalsToken   string        `yaml:"signals_token"`
	SignalsFile    string        `yaml:"signals_file"`
	SignalsTimeout time.Duration `yaml:"signals_timeout"`

	OTelEnabled  bool   `yaml:"otel_enabled"`
	OTelEndpoint string `yaml:"otel_endpoint"`
	Environment  string `yaml:"environment"`

	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	// AttestSink is file://dir, s3://bucket/prefix or gs://bucket/prefix.
	AttestSink    string `yaml:"attest_sink"`
	AttestKeySeed string `yaml:"attest_key_seed"`

	// GatedActions are registered as record-only gated actions at startup.
	GatedActions []string `yaml:"gated_actions"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Port:           "8080",
		HealthPort:     "8081",
		LogLevel:       "INFO",
		LogFormat:      "json",
		SQLitePath:     "helm-gate.db",
		JWTIssuer:      "helm-gate",
		SignalsTimeout: 3 * time.Second,
		OTelEndpoint:   "localhost:4317",
		Environment:    "development",
		RateLimitRPS:   10,
		RateLimitBurst: 20,
		AttestSink:     "file://attestations",
	}
}

// Load builds the configuration. It fails only on an unreadable or invalid
// config file or a malformed numeric variable.
func Load() (*Config, error) {
	cfg := Defaults()
	if path := os.Getenv("HELM_GATE_CONFIG"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.overlayEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	return nil
}

func (c *Config) overlayEnv() error {
	strs := map[string]*string{
		"PORT":            &c.Port,
		"HEALTH_PORT":     &c.HealthPort,
		"LOG_LEVEL":       &c.LogLevel,
		"LOG_FORMAT":      &c.LogFormat,
		"DATABASE_URL":    &c.DatabaseURL,
		"SQLITE_PATH":     &c.SQLitePath,
		"REDIS_ADDR":      &c.RedisAddr,
		"REDIS_PASSWORD":  &c.RedisPassword,
		"JWT_SECRET":      &c.JWTSecret,
		"JWT_ISSUER":      &c.JWTIssuer,
		"SIGNALS_URL":     &c.SignalsURL,
		"SIGNALS_TOKEN":   &c.SignalsToken,
		"SIGNALS_FILE":    &c.SignalsFile,
		"OTEL_ENDPOINT":   &c.OTelEndpoint,
		"ENVIRONMENT":     &c.Environment,
		"ATTEST_SINK":     &c.AttestSink,
		"ATTEST_KEY_SEED": &c.AttestKeySeed,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("GATED_ACTIONS"); v != "" {
		c.GatedActions = splitList(v)
	}
	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		c.OTelEnabled = v == "true"
	}
	if v := os.Getenv("SIGNALS_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SIGNALS_TIMEOUT: %w", err)
		}
		c.SignalsTimeout = d
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_RPS: %w", err)
		}
		c.RateLimitRPS = f
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_BURST: %w", err)
		}
		c.RateLimitBurst = n
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LiteMode reports whether the ledger runs on SQLite.
func (c *Config) LiteMode() bool {
	return c.DatabaseURL == ""
}

// SlogLevel maps LogLevel onto slog. Unknown values mean INFO.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
