// Package gate wraps mutating operations with a fresh readiness check.
//
// Every evaluation fetches legal and ops signals, composes them, normalizes
// the reason codes and asks the guard. A denied evaluation never runs the
// handler. A failed fetch is a denial, never an error.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/helm-gate/pkg/guard"
	"github.com/Mindburn-Labs/helm-gate/pkg/ledger"
	"github.com/Mindburn-Labs/helm-gate/pkg/observability"
	"github.com/Mindburn-Labs/helm-gate/pkg/readiness"
	"github.com/Mindburn-Labs/helm-gate/pkg/reasoncode"
	"github.com/Mindburn-Labs/helm-gate/pkg/signals"
)

// CodeNotConfigured is returned when the gate has no signal source.
const CodeNotConfigured = "GATE_NOT_CONFIGURED"

// ErrNotConfigured is wrapped by the GateError returned from an unwired gate.
var ErrNotConfigured = errors.New("gate: no readiness source configured")

// GateError is a wiring failure. It is not a policy denial.
type GateError struct {
	Status int
	Code   string
	Err    error
}

func (e *GateError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *GateError) Unwrap() error { return e.Err }

// ScopeKind is the granularity readiness was resolved at.
type ScopeKind string

const (
	ScopeOrganization ScopeKind = "organization"
	ScopeShift        ScopeKind = "shift"
)

// Scope is the actor's tenancy, usually taken from the session.
type Scope struct {
	OrgID  string
	SiteID string
}

// GateContext describes the operation being gated. ShiftID, or Date together
// with ShiftCode, requests shift granularity.
type GateContext struct {
	Action     string
	TargetType string
	TargetID   string
	Meta       ledger.Meta

	ShiftID   string
	Date      string
	ShiftCode string
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Scope              ScopeKind        `json:"scope"`
	Query              signals.Query    `json:"-"`
	Signal             readiness.Signal `json:"signal"`
	Readiness          readiness.Status `json:"readiness_status"`
	ReasonCodes        []string         `json:"reason_codes"`
	UnknownReasonCodes []string         `json:"unknown_reason_codes,omitempty"`
	// SignalErr is set when the fetch failed and the decision was forced to NO_GO.
	SignalErr error         `json:"-"`
	Verdict   guard.Verdict `json:"-"`
}

// Denied returns the guard denial, or nil when allowed.
func (d Decision) Denied() *guard.Denied {
	den, _ := d.Verdict.(*guard.Denied)
	return den
}

// Result is what WithGovernanceGate hands back. Exactly one of Denied or
// Value is meaningful.
type Result[T any] struct {
	Decision Decision
	Value    T
	Denied   *guard.Denied
}

// Allowed reports whether the handler ran.
func (r Result[T]) Allowed() bool { return r.Denied == nil }

// Gate evaluates readiness for gated operations.
type Gate struct {
	source   signals.Source
	logger   *slog.Logger
	recorder observability.Recorder
}

// Option configures a Gate.
type Option func(*Gate)

func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

func WithRecorder(r observability.Recorder) Option {
	return func(g *Gate) { g.recorder = r }
}

// New builds a gate over source. A nil source yields a gate that refuses
// every evaluation with GATE_NOT_CONFIGURED.
func New(source signals.Source, opts ...Option) *Gate {
	g := &Gate{
		source:   source,
		logger:   slog.Default().With("component", "gate"),
		recorder: (*observability.Provider)(nil),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// resolve maps the request onto a signal query. A context carrying only one
// of date and shift_code is treated as organization scope and flagged.
func resolve(scope Scope, gc GateContext) (ScopeKind, signals.Query, []string) {
	q := signals.Query{OrgID: scope.OrgID, SiteID: scope.SiteID}
	var extra []string

	switch {
	case gc.ShiftID != "":
		q.ShiftID = gc.ShiftID
		q.Date, q.ShiftCode = gc.Date, gc.ShiftCode
	case gc.Date != "" && gc.ShiftCode != "":
		q.Date, q.ShiftCode = gc.Date, gc.ShiftCode
	case gc.Date != "" || gc.ShiftCode != "":
		extra = append(extra, reasoncode.NoShiftContext)
	}

	if !q.ShiftScoped() {
		return ScopeOrganization, q, extra
	}
	if scope.SiteID == "" {
		extra = append(extra, reasoncode.NoSite)
	}
	return ScopeShift, q, extra
}

// Evaluate fetches, composes and guards without running anything.
func (g *Gate) Evaluate(ctx context.Context, scope Scope, gc GateContext) (Decision, error) {
	if g == nil || g.source == nil {
		return Decision{}, &GateError{Status: http.StatusServiceUnavailable, Code: CodeNotConfigured, Err: ErrNotConfigured}
	}

	kind, q, extra := resolve(scope, gc)
	d := Decision{Scope: kind, Query: q}

	ctx, done := g.recorder.TrackOperation(ctx, "gate.evaluate",
		observability.GateAttributes(scope.OrgID, gc.Action, string(kind))...)
	defer done(nil)

	var codes []string
	sig, err := g.source.Fetch(ctx, q)
	if err != nil {
		d.SignalErr = err
		d.Readiness = readiness.StatusNoGo
		codes = append(codes, reasoncode.ReadinessUnavailable)
		if errors.Is(err, signals.ErrLegalUnavailable) {
			codes = append(codes, reasoncode.LegalSignalUnavailable)
			g.recorder.SignalFailure(ctx, "legal")
		}
		if errors.Is(err, signals.ErrOpsUnavailable) {
			codes = append(codes, reasoncode.OpsSignalUnavailable)
			g.recorder.SignalFailure(ctx, "ops")
		}
		if !errors.Is(err, signals.ErrLegalUnavailable) && !errors.Is(err, signals.ErrOpsUnavailable) {
			g.recorder.SignalFailure(ctx, "unknown")
		}
		g.logger.WarnContext(ctx, "readiness fetch failed, failing closed",
			"org_id", scope.OrgID,
			"action", gc.Action,
			"scope", kind,
			"error", err,
		)
	} else {
		composed := readiness.Evaluate(sig)
		d.Signal = sig
		d.Readiness = composed.Overall
		codes = composed.ReasonCodes
	}

	norm := reasoncode.Merge(codes, extra)
	d.ReasonCodes = norm.ReasonCodes
	d.UnknownReasonCodes = norm.Unknown
	if norm.HasUnknown() {
		g.recorder.UnknownReasonCodes(ctx, len(norm.Unknown))
		g.logger.WarnContext(ctx, "unknown reason codes quarantined",
			"org_id", scope.OrgID,
			"unknown", norm.Unknown,
		)
	}

	d.Verdict = guard.AssertExecutionLegitimacy(d.Readiness, d.ReasonCodes)
	denied := guard.IsDenied(d.Verdict)
	g.recorder.GateDecision(ctx, string(kind), string(d.Readiness), denied)
	if denied {
		g.logger.InfoContext(ctx, "gated action denied",
			"org_id", scope.OrgID,
			"action", gc.Action,
			"scope", kind,
			"readiness", d.Readiness,
			"reason_codes", d.ReasonCodes,
		)
	}
	return d, nil
}

// Handler is the gated mutation. It receives the allowing decision.
type Handler[T any] func(ctx context.Context, d Decision) (T, error)

// WithGovernanceGate runs handler only if readiness for the scope is not
// NO_GO. The returned error is either a *GateError or the handler's own
// error, unchanged.
func WithGovernanceGate[T any](ctx context.Context, g *Gate, scope Scope, gc GateContext, handler Handler[T]) (Result[T], error) {
	d, err := g.Evaluate(ctx, scope, gc)
	if err != nil {
		if g != nil {
			g.logger.ErrorContext(ctx, "gate not configured", "org_id", scope.OrgID, "action", gc.Action)
		} else {
			slog.Default().ErrorContext(ctx, "gate not configured", "component", "gate", "org_id", scope.OrgID, "action", gc.Action)
		}
		return Result[T]{}, err
	}
	if den := d.Denied(); den != nil {
		return Result[T]{Decision: d, Denied: den}, nil
	}
	v, err := handler(ctx, d)
	return Result[T]{Decision: d, Value: v}, err
}
