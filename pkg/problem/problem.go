// Package problem writes RFC 7807 Problem Detail responses.
//
// Every error leaving the HTTP surface uses this shape. Code and ReasonCodes
// are extension members carrying the machine-readable gate outcome.
package problem

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

const contentType = "application/problem+json"

// Machine codes used on the HTTP surface.
const (
	CodeNotImplemented    = "NOT_IMPLEMENTED"
	CodeLedgerUnavailable = "LEDGER_UNAVAILABLE"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeRateLimited       = "RATE_LIMITED"
	CodeInternal          = "INTERNAL"
	CodeIdempotencyReused = "IDEMPOTENCY_KEY_REUSED"
)

// Detail implements RFC 7807.
type Detail struct {
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Status      int      `json:"status"`
	Detail      string   `json:"detail,omitempty"`
	Instance    string   `json:"instance,omitempty"`
	TraceID     string   `json:"trace_id,omitempty"`
	Code        string   `json:"code,omitempty"`
	ReasonCodes []string `json:"reason_codes,omitempty"`
	// Readiness is set on gate denials.
	Readiness string `json:"readiness_status,omitempty"`
}

func (p *Detail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// New builds a Detail with the conventional type URI and title.
func New(status int, code, detail string) *Detail {
	return &Detail{
		Type:   fmt.Sprintf("https://helm-gate.dev/errors/%d", status),
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
		Code:   code,
	}
}

// Write sends p. Instance and TraceID are filled from r when available.
func Write(w http.ResponseWriter, r *http.Request, p *Detail) {
	if r != nil && p.Instance == "" {
		p.Instance = r.URL.Path
	}
	if p.TraceID == "" {
		p.TraceID = w.Header().Get("X-Request-ID")
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func WriteBadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	Write(w, r, New(http.StatusBadRequest, CodeInvalidRequest, detail))
}

func WriteUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	Write(w, r, New(http.StatusUnauthorized, CodeUnauthorized, detail))
}

func WriteNotImplemented(w http.ResponseWriter, r *http.Request, detail string) {
	Write(w, r, New(http.StatusNotImplemented, CodeNotImplemented, detail))
}

// WriteTooManyRequests sets Retry-After in whole seconds.
func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	Write(w, r, New(http.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded. Retry after the specified interval."))
}

// WriteUnavailable is for wiring failures. err is logged, never sent.
func WriteUnavailable(w http.ResponseWriter, r *http.Request, code string, err error) {
	slog.Error("dependency unavailable", "code", code, "error", err)
	Write(w, r, New(http.StatusServiceUnavailable, code, "A required dependency is not available."))
}

// WriteInternal logs err and sends a generic 500.
func WriteInternal(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("internal server error", "error", err)
	Write(w, r, New(http.StatusInternalServerError, CodeInternal, "An unexpected error occurred. Please try again later."))
}
