package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/helm-gate/pkg/api"
	"github.com/Mindburn-Labs/helm-gate/pkg/attest"
	"github.com/Mindburn-Labs/helm-gate/pkg/auth"
	"github.com/Mindburn-Labs/helm-gate/pkg/config"
	"github.com/Mindburn-Labs/helm-gate/pkg/gate"
	"github.com/Mindburn-Labs/helm-gate/pkg/ledger"
	"github.com/Mindburn-Labs/helm-gate/pkg/observability"
	"github.com/Mindburn-Labs/helm-gate/pkg/ratelimit"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gate HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger, nil)
		},
	}
}

// serve runs until ctx is cancelled. When ready is non-nil it receives the
// API listener address once both listeners are bound.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, ready chan<- string) error {
	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version
	obsCfg.Environment = cfg.Environment
	obsCfg.Enabled = cfg.OTelEnabled
	obsCfg.OTLPEndpoint = cfg.OTelEndpoint
	obsCfg.Insecure = cfg.Environment == "development"
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := obs.Shutdown(sctx); err != nil {
			logger.Warn("observability shutdown failed", "error", err)
		}
	}()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	writer := ledger.NewWriter(store,
		ledger.WithLogger(logger.With("component", "ledger")),
		ledger.WithRecorder(obs),
	)

	source := signalSource(cfg)
	if source == nil {
		logger.WarnContext(ctx, "no readiness source configured; every gated action will be refused")
	}
	g := gate.New(source, gate.WithLogger(logger.With("component", "gate")), gate.WithRecorder(obs))

	limiter, closeLimiter := rateLimiter(cfg)
	defer func() { _ = closeLimiter() }()

	validator := auth.NewValidator(cfg.JWTSecret, cfg.JWTIssuer)
	if validator == nil {
		logger.WarnContext(ctx, "JWT_SECRET is not set; every authenticated request will be rejected")
	}

	var attestor *attest.Attestor
	if signer, err := attestSigner(cfg); err == nil {
		sink, err := attest.OpenSink(ctx, cfg.AttestSink)
		if err != nil {
			return err
		}
		attestor = attest.NewAttestor(store, signer, sink, attest.WithLogger(logger.With("component", "attest")))
	} else if !errors.Is(err, errNoAttestKey) {
		return err
	}

	srv := api.NewServer(api.Deps{
		Gate:      g,
		Writer:    writer,
		Attestor:  attestor,
		Validator: validator,
		Limiter:   limiter,
		Policy:    ratelimit.Policy{RPS: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst},
		Logger:    logger.With("component", "api"),
	})
	for _, code := range cfg.GatedActions {
		srv.Register(code, api.Action{Handler: api.RecordOnly})
	}

	apiLn, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen api: %w", err)
	}
	healthLn, err := net.Listen("tcp", ":"+cfg.HealthPort)
	if err != nil {
		_ = apiLn.Close()
		return fmt.Errorf("listen health: %w", err)
	}

	apiServer := &http.Server{Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}
	healthServer := &http.Server{Handler: healthMux(), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 2)
	go func() { errCh <- apiServer.Serve(apiLn) }()
	go func() { errCh <- healthServer.Serve(healthLn) }()

	logger.InfoContext(ctx, "helm-gate listening",
		"api", apiLn.Addr().String(),
		"health", healthLn.Addr().String(),
		"lite_mode", cfg.LiteMode(),
		"gated_actions", len(cfg.GatedActions),
	)
	if ready != nil {
		ready <- apiLn.Addr().String()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(sctx); err != nil {
		logger.Error("api shutdown failed", "error", err)
	}
	if err := healthServer.Shutdown(sctx); err != nil {
		logger.Error("health shutdown failed", "error", err)
	}
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return nil
}

func healthMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}
