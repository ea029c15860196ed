// Package api exposes the gate, the ledger and its verification over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/Mindburn-Labs/helm-gate/pkg/attest"
	"github.com/Mindburn-Labs/helm-gate/pkg/auth"
	"github.com/Mindburn-Labs/helm-gate/pkg/gate"
	"github.com/Mindburn-Labs/helm-gate/pkg/ledger"
	"github.com/Mindburn-Labs/helm-gate/pkg/problem"
	"github.com/Mindburn-Labs/helm-gate/pkg/ratelimit"
)

const maxBodyBytes = 1 << 20

// Deps are the collaborators a Server needs. Gate and Writer may be nil; the
// affected endpoints then answer 503.
type Deps struct {
	Gate      *gate.Gate
	Writer    *ledger.Writer
	Attestor  *attest.Attestor
	Validator *auth.Validator
	Limiter   ratelimit.Store
	Policy    ratelimit.Policy
	Logger    *slog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	deps    Deps
	logger  *slog.Logger
	mu      sync.RWMutex
	actions map[string]Action
}

func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "api")
	}
	return &Server{deps: deps, logger: logger, actions: make(map[string]Action)}
}

// Register wires a gated action. Codes are matched case-insensitively.
func (s *Server) Register(code string, a Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[strings.ToUpper(code)] = a
}

func (s *Server) action(code string) (Action, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actions[code]
	return a, ok
}

// Handler returns the routed, authenticated and rate limited API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /api/v1/governance/actions/{action}", s.handleAction)
	mux.HandleFunc("GET /api/v1/governance/readiness", s.handleReadiness)
	mux.HandleFunc("GET /api/v1/governance/classify", s.handleClassify)
	mux.HandleFunc("GET /api/v1/governance/kpi/blocking", s.handleBlockingKPI)
	mux.HandleFunc("GET /api/v1/ledger/verify", s.handleVerify)
	mux.HandleFunc("POST /api/v1/ledger/verify", s.handleVerify)
	mux.HandleFunc("POST /api/v1/ledger/attest", s.handleAttest)

	limited := ratelimit.Middleware(s.deps.Limiter, s.deps.Policy, s.logger)(mux)
	return auth.Middleware(s.deps.Validator)(limited)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// actor is a convenience for handlers behind auth.Middleware.
func (s *Server) actor(w http.ResponseWriter, r *http.Request) (auth.Actor, bool) {
	a, err := auth.ActorFrom(r.Context())
	if err != nil {
		problem.WriteUnauthorized(w, r, "")
		return auth.Actor{}, false
	}
	return a, true
}

func requestID(r *http.Request) string {
	return r.Header.Get("X-Request-ID")
}

func detached(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
