package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Mindburn-Labs/helm-gate/pkg/attest"
	"github.com/Mindburn-Labs/helm-gate/pkg/config"
	"github.com/Mindburn-Labs/helm-gate/pkg/ledger"
	"github.com/Mindburn-Labs/helm-gate/pkg/ratelimit"
	"github.com/Mindburn-Labs/helm-gate/pkg/signals"

	_ "github.com/lib/pq" // Postgres driver
)

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// openStore returns the ledger backend for cfg: Postgres when DATABASE_URL is
// set, SQLite otherwise. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ledger.Store, func() error, error) {
	if cfg.LiteMode() {
		logger.InfoContext(ctx, "lite mode: using sqlite", "path", cfg.SQLitePath)
		s, err := ledger.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := ledger.NewPostgresStore(db)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return s, db.Close, nil
}

// signalSource picks the readiness collaborator. A nil source leaves the gate
// unconfigured, which fails every gated action closed.
func signalSource(cfg *config.Config) signals.Source {
	switch {
	case cfg.SignalsURL != "":
		return signals.NewHTTPSource(signals.HTTPConfig{
			URL:     cfg.SignalsURL,
			Timeout: cfg.SignalsTimeout,
			Token:   cfg.SignalsToken,
		})
	case cfg.SignalsFile != "":
		return signals.NewFileSource(cfg.SignalsFile)
	}
	return nil
}

// rateLimiter returns a Redis-backed limiter when REDIS_ADDR is set so that
// replicas share buckets, and a process-local one otherwise.
func rateLimiter(cfg *config.Config) (ratelimit.Store, func() error) {
	if cfg.RedisAddr != "" {
		client := ratelimit.DialRedis(cfg.RedisAddr, cfg.RedisPassword, 0)
		return ratelimit.NewRedisStore(client), client.Close
	}
	return ratelimit.NewMemoryStore(0), func() error { return nil }
}

var errNoAttestKey = errors.New("ATTEST_KEY_SEED is not set")

// attestSigner decodes the hex-encoded ATTEST_KEY_SEED.
func attestSigner(cfg *config.Config) (*attest.Signer, error) {
	if cfg.AttestKeySeed == "" {
		return nil, errNoAttestKey
	}
	seed, err := hex.DecodeString(strings.TrimSpace(cfg.AttestKeySeed))
	if err != nil {
		return nil, fmt.Errorf("ATTEST_KEY_SEED must be hex: %w", err)
	}
	return attest.NewSigner(seed)
}
