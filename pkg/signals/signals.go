// Package signals fetches legal and operational readiness flags from the
// compliance-status and coverage collaborators.
//
// Sources are queried on every gate evaluation. Nothing here caches.
package signals

import (
	"context"
	"errors"

	"github.com/Mindburn-Labs/helm-gate/pkg/readiness"
)

var (
	// ErrLegalUnavailable marks a failure attributable to the legal dimension.
	ErrLegalUnavailable = errors.New("signals: legal signal unavailable")
	// ErrOpsUnavailable marks a failure attributable to the ops dimension.
	ErrOpsUnavailable = errors.New("signals: ops signal unavailable")
	// ErrUnknownScope is returned when the source has no data for the scope.
	ErrUnknownScope = errors.New("signals: unknown scope")
)

// Query identifies what readiness is requested for. ShiftID, or Date with
// ShiftCode, selects shift granularity; otherwise the org (and site) is used.
type Query struct {
	OrgID     string
	SiteID    string
	ShiftID   string
	Date      string
	ShiftCode string
}

// ShiftScoped reports whether q carries a full shift identity.
func (q Query) ShiftScoped() bool {
	return q.ShiftID != "" || (q.Date != "" && q.ShiftCode != "")
}

// Source returns both flags for a scope. Errors may wrap ErrLegalUnavailable
// or ErrOpsUnavailable when the failing dimension is known.
type Source interface {
	Fetch(ctx context.Context, q Query) (readiness.Signal, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, q Query) (readiness.Signal, error)

func (f SourceFunc) Fetch(ctx context.Context, q Query) (readiness.Signal, error) {
	return f(ctx, q)
}

// Static always returns the same signal. Useful for development and tests.
type Static readiness.Signal

func (s Static) Fetch(context.Context, Query) (readiness.Signal, error) {
	return readiness.Signal(s), nil
}

// validate checks both flags and attributes failures to their dimension.
func validate(sig readiness.Signal) error {
	var errs []error
	if !sig.Legal.Valid() {
		errs = append(errs, ErrLegalUnavailable)
	}
	if !sig.Ops.Valid() {
		errs = append(errs, ErrOpsUnavailable)
	}
	return errors.Join(errs...)
}
