package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys.
var (
	AttrOperation = attribute.Key("helm_gate.operation")
	AttrOrgID     = attribute.Key("helm_gate.org_id")
	AttrAction    = attribute.Key("helm_gate.action")
	AttrScope     = attribute.Key("helm_gate.scope")
	AttrReadiness = attribute.Key("helm_gate.readiness")
	AttrVerdict   = attribute.Key("helm_gate.verdict")
	AttrOutcome   = attribute.Key("helm_gate.outcome")
	AttrReplayed  = attribute.Key("helm_gate.replayed")
	AttrReason    = attribute.Key("helm_gate.verify.reason")
	AttrDimension = attribute.Key("helm_gate.signal.dimension")
)

// Recorder is the narrow interface the gate and ledger record through. A nil
// *Provider is a valid no-op Recorder.
type Recorder interface {
	TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error))
	GateDecision(ctx context.Context, scope, readiness string, denied bool)
	SignalFailure(ctx context.Context, dimension string)
	UnknownReasonCodes(ctx context.Context, n int)
	LedgerAppend(ctx context.Context, outcome string, replayed bool)
	VerifyFailure(ctx context.Context, reason string)
}

var _ Recorder = (*Provider)(nil)

func verdict(denied bool) string {
	if denied {
		return "DENIED"
	}
	return "ALLOWED"
}

func (p *Provider) GateDecision(ctx context.Context, scope, readiness string, denied bool) {
	if p == nil {
		return
	}
	p.gateDecisions.Add(ctx, 1, metric.WithAttributes(
		AttrScope.String(scope),
		AttrReadiness.String(readiness),
		AttrVerdict.String(verdict(denied)),
	))
}

func (p *Provider) SignalFailure(ctx context.Context, dimension string) {
	if p == nil {
		return
	}
	p.signalFailures.Add(ctx, 1, metric.WithAttributes(AttrDimension.String(dimension)))
}

func (p *Provider) UnknownReasonCodes(ctx context.Context, n int) {
	if p == nil || n == 0 {
		return
	}
	p.unknownReasons.Add(ctx, int64(n))
}

func (p *Provider) LedgerAppend(ctx context.Context, outcome string, replayed bool) {
	if p == nil {
		return
	}
	p.ledgerAppends.Add(ctx, 1, metric.WithAttributes(
		AttrOutcome.String(outcome),
		AttrReplayed.Bool(replayed),
	))
}

func (p *Provider) VerifyFailure(ctx context.Context, reason string) {
	if p == nil {
		return
	}
	p.verifyFailures.Add(ctx, 1, metric.WithAttributes(AttrReason.String(reason)))
}

// GateAttributes builds the span attributes for one gate evaluation.
func GateAttributes(orgID, action, scope string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrOrgID.String(orgID),
		AttrAction.String(action),
		AttrScope.String(scope),
	}
}
