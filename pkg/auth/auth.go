// Package auth turns a bearer token into the acting user and tenancy.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/helm-gate/pkg/problem"
)

var (
	ErrNoActor       = errors.New("auth: no actor in context")
	ErrNotConfigured = errors.New("auth: validator not configured")
)

// Actor is who is acting and for which tenancy.
type Actor struct {
	UserID string
	OrgID  string
	SiteID string
}

// Claims are the JWT claims the gate expects. sub is the user.
type Claims struct {
	jwt.RegisteredClaims
	OrgID  string `json:"org_id"`
	SiteID string `json:"site_id,omitempty"`
}

type contextKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

func ActorFrom(ctx context.Context) (Actor, error) {
	a, ok := ctx.Value(contextKey{}).(Actor)
	if !ok {
		return Actor{}, ErrNoActor
	}
	return a, nil
}

// Validator checks HS256 tokens signed with a shared secret.
type Validator struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewValidator returns nil for an empty secret; the middleware then rejects
// every protected request.
func NewValidator(secret, issuer string) *Validator {
	if secret == "" {
		return nil
	}
	return &Validator{secret: []byte(secret), issuer: issuer, leeway: 30 * time.Second}
}

// Validate parses tokenStr and requires sub and org_id.
func (v *Validator) Validate(tokenStr string) (Actor, error) {
	if v == nil {
		return Actor{}, ErrNotConfigured
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Actor{}, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return Actor{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Actor{}, errors.New("token subject is required")
	}
	if claims.OrgID == "" {
		return Actor{}, errors.New("token org binding is required")
	}
	return Actor{UserID: claims.Subject, OrgID: claims.OrgID, SiteID: claims.SiteID}, nil
}

// Sign issues a token for a. It exists for the CLI and tests.
func (v *Validator) Sign(a Actor, ttl time.Duration) (string, error) {
	if v == nil {
		return "", ErrNotConfigured
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		OrgID:  a.OrgID,
		SiteID: a.SiteID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

var publicPaths = map[string]bool{
	"/health":    true,
	"/readiness": true,
}

// Middleware requires a valid bearer token on every non-public path. A nil
// validator rejects everything (fail closed).
func Middleware(v *Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				problem.WriteUnauthorized(w, r, "Missing Authorization header")
				return
			}
			scheme, tokenStr, ok := strings.Cut(header, " ")
			if !ok || scheme != "Bearer" || tokenStr == "" {
				problem.WriteUnauthorized(w, r, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}
			if v == nil {
				problem.WriteUnauthorized(w, r, "Authentication not configured")
				return
			}

			actor, err := v.Validate(tokenStr)
			if err != nil {
				problem.WriteUnauthorized(w, r, "Invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}
