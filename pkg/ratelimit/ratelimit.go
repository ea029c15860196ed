// Package ratelimit throttles callers of the HTTP surface per actor.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"

	"github.com/Mindburn-Labs/helm-gate/pkg/auth"
	"github.com/Mindburn-Labs/helm-gate/pkg/problem"
)

// Policy is a token bucket: RPS tokens per second, up to Burst.
type Policy struct {
	RPS   float64
	Burst int
}

// Store decides whether key may spend one token.
type Store interface {
	Allow(ctx context.Context, key string, p Policy) (bool, error)
}

// keyFor prefers the authenticated actor and falls back to the client IP.
func keyFor(r *http.Request) string {
	if a, err := auth.ActorFrom(r.Context()); err == nil {
		return fmt.Sprintf("actor:%s/%s", a.OrgID, a.UserID)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = strings.Trim(r.RemoteAddr, "[]")
	}
	return "ip:" + ip
}

func retryAfter(p Policy) int {
	if p.RPS <= 0 {
		return 1
	}
	return max(1, int(math.Ceil(1/p.RPS)))
}

// Middleware enforces p using store. A nil store disables limiting. Store
// errors let the request through and are logged; throttling is not a
// governance control.
func Middleware(store Store, p Policy, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default().With("component", "ratelimit")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil {
				next.ServeHTTP(w, r)
				return
			}
			key := keyFor(r)
			allowed, err := store.Allow(r.Context(), key, p)
			if err != nil {
				logger.WarnContext(r.Context(), "rate limiter unavailable", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				problem.WriteTooManyRequests(w, r, retryAfter(p))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
