package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Mindburn-Labs/helm-gate/pkg/auth"
	"github.com/Mindburn-Labs/helm-gate/pkg/gate"
	"github.com/Mindburn-Labs/helm-gate/pkg/ledger"
	"github.com/Mindburn-Labs/helm-gate/pkg/problem"
	"github.com/Mindburn-Labs/helm-gate/pkg/reasoncode"
)

// ActionRequest is the body of POST /api/v1/governance/actions/{action}.
type ActionRequest struct {
	TargetType        string          `json:"target_type"`
	TargetID          string          `json:"target_id,omitempty"`
	ShiftID           string          `json:"shift_id,omitempty"`
	Date              string          `json:"date,omitempty"`
	ShiftCode         string          `json:"shift_code,omitempty"`
	ReasonCodes       []string        `json:"reason_codes,omitempty"`
	Meta              json.RawMessage `json:"meta,omitempty"`
	IdempotencyKey    string          `json:"idempotency_key,omitempty"`
	PolicyFingerprint string          `json:"policy_fingerprint,omitempty"`
}

// ActionCall is what an action handler receives once the gate allowed it.
type ActionCall struct {
	Actor    auth.Actor
	Action   string
	Request  ActionRequest
	Meta     ledger.Meta
	Decision gate.Decision
}

// ActionOutput is what an action handler returns. Meta replaces the request
// meta on the ledger row when set; ReasonCodes are added to the decision's.
type ActionOutput struct {
	Result      any
	Meta        ledger.Meta
	ReasonCodes []string
}

// ActionFunc performs the mutation.
type ActionFunc func(ctx context.Context, call ActionCall) (ActionOutput, error)

// Action is a registered gated operation.
type Action struct {
	Handler ActionFunc
	// Deterministic derives an idempotency key from the actor's tenancy, the
	// action, the target and the request reason codes when the client sends
	// none, so repeated submissions collapse onto one ledger row.
	Deterministic bool
}

// RecordOnly is an action whose side effect happens elsewhere; the gate and
// the ledger row are the point.
func RecordOnly(_ context.Context, call ActionCall) (ActionOutput, error) {
	return ActionOutput{Meta: call.Meta}, nil
}

// ActionResponse is returned for allowed and replayed actions.
type ActionResponse struct {
	Event     ledger.GovernanceEvent `json:"event"`
	Replayed  bool                   `json:"replayed"`
	Readiness *gate.Decision         `json:"readiness,omitempty"`
	Result    any                    `json:"result,omitempty"`
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	code := strings.ToUpper(r.PathValue("action"))
	act, ok := s.action(code)
	if !ok || act.Handler == nil {
		problem.WriteNotImplemented(w, r, "Action "+code+" is not wired on this server")
		return
	}
	if s.deps.Writer == nil {
		problem.WriteUnavailable(w, r, problem.CodeLedgerUnavailable, errors.New("ledger writer not configured"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.WriteBadRequest(w, r, "Invalid request body")
		return
	}
	if req.TargetType == "" {
		problem.WriteBadRequest(w, r, "Missing required field: target_type")
		return
	}
	meta, err := ledger.ParseMeta(req.Meta)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidMeta) {
			problem.WriteBadRequest(w, r, err.Error())
			return
		}
		problem.WriteInternal(w, r, err)
		return
	}

	key := req.IdempotencyKey
	if key == "" && act.Deterministic {
		key, err = ledger.IdempotencyKey(actor.OrgID, actor.SiteID, code, req.TargetType, req.TargetID, req.ReasonCodes)
		if err != nil {
			problem.WriteInternal(w, r, err)
			return
		}
	}

	ctx := r.Context()
	draft := ledger.Draft{
		OrgID:             actor.OrgID,
		SiteID:            actor.SiteID,
		ActorUserID:       actor.UserID,
		Action:            code,
		TargetType:        req.TargetType,
		TargetID:          req.TargetID,
		PolicyFingerprint: req.PolicyFingerprint,
		IdempotencyKey:    key,
		Meta:              meta,
	}

	// A completed action is answered from the ledger without re-running it.
	if key != "" {
		existing, err := s.deps.Writer.Store().FindByIdempotencyKey(ctx, actor.OrgID, actor.SiteID, key)
		switch {
		case err == nil && !draft.Matches(existing):
			writeIdempotencyConflict(w, r)
			return
		case err == nil:
			writeJSON(w, http.StatusOK, ActionResponse{Event: existing, Replayed: true})
			return
		case !errors.Is(err, ledger.ErrNotFound):
			problem.WriteUnavailable(w, r, problem.CodeLedgerUnavailable, err)
			return
		}
	}

	scope := gate.Scope{OrgID: actor.OrgID, SiteID: actor.SiteID}
	gc := gate.GateContext{
		Action:     code,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		Meta:       meta,
		ShiftID:    req.ShiftID,
		Date:       req.Date,
		ShiftCode:  req.ShiftCode,
	}

	res, err := gate.WithGovernanceGate(ctx, s.deps.Gate, scope, gc,
		func(ctx context.Context, d gate.Decision) (ActionOutput, error) {
			return act.Handler(ctx, ActionCall{Actor: actor, Action: code, Request: req, Meta: meta, Decision: d})
		})

	var gateErr *gate.GateError
	switch {
	case errors.As(err, &gateErr):
		p := problem.New(gateErr.Status, gateErr.Code, "The governance gate is not configured.")
		problem.Write(w, r, p)
		return

	case res.Denied != nil:
		s.recordDenial(ctx, r, draft, gc, res.Decision)
		p := problem.New(res.Denied.Status, res.Denied.Code, "Readiness for this scope is NO_GO.")
		p.ReasonCodes = res.Denied.ReasonCodes
		p.Readiness = string(res.Denied.ReadinessStatus)
		problem.Write(w, r, p)
		return

	case err != nil:
		draft.Outcome = ledger.OutcomeFailed
		draft.LegitimacyStatus = ledger.LegitimacyAllowed
		draft.ReadinessStatus = string(res.Decision.Readiness)
		draft.ReasonCodes = append(append([]string(nil), res.Decision.ReasonCodes...), req.ReasonCodes...)
		// A failed attempt must not claim the idempotency key.
		draft.IdempotencyKey = ""
		if _, lerr := s.deps.Writer.Append(detached(ctx), draft); lerr != nil {
			s.logger.ErrorContext(ctx, "failed to record failed action", "org_id", actor.OrgID, "action", code, "error", lerr)
		}
		var pd *problem.Detail
		if errors.As(err, &pd) {
			problem.Write(w, r, pd)
			return
		}
		problem.WriteInternal(w, r, err)
		return
	}

	out := res.Value
	draft.Outcome = ledger.OutcomeSucceeded
	draft.LegitimacyStatus = ledger.LegitimacyAllowed
	draft.ReadinessStatus = string(res.Decision.Readiness)
	draft.ReasonCodes = append(append(append([]string(nil), res.Decision.ReasonCodes...), req.ReasonCodes...), out.ReasonCodes...)
	if out.Meta != nil {
		draft.Meta = out.Meta
	}

	stored, err := s.deps.Writer.Append(detached(ctx), draft)
	if errors.Is(err, ledger.ErrIdempotencyConflict) {
		writeIdempotencyConflict(w, r)
		return
	}
	if err != nil {
		problem.WriteUnavailable(w, r, problem.CodeLedgerUnavailable, err)
		return
	}
	decision := res.Decision
	writeJSON(w, http.StatusOK, ActionResponse{
		Event:     stored.Event,
		Replayed:  stored.Replayed,
		Readiness: &decision,
		Result:    out.Result,
	})
}

func writeIdempotencyConflict(w http.ResponseWriter, r *http.Request) {
	problem.Write(w, r, problem.New(http.StatusConflict, problem.CodeIdempotencyReused,
		"The idempotency key is already bound to a different action or target."))
}

// recordDenial appends the BLOCKED row. A ledger failure is logged; the
// denial still stands.
func (s *Server) recordDenial(ctx context.Context, r *http.Request, draft ledger.Draft, gc gate.GateContext, d gate.Decision) {
	draft.Outcome = ledger.OutcomeBlocked
	draft.LegitimacyStatus = ledger.LegitimacyDenied
	draft.ReadinessStatus = string(d.Readiness)
	draft.ReasonCodes = append([]string{reasoncode.RuntimeNoGo}, d.ReasonCodes...)
	draft.IdempotencyKey = ""
	draft.Meta = ledger.DenialMeta{
		AttemptedAction:    gc.Action,
		Scope:              string(d.Scope),
		ShiftID:            gc.ShiftID,
		Date:               gc.Date,
		ShiftCode:          gc.ShiftCode,
		UnknownReasonCodes: d.UnknownReasonCodes,
		RequestID:          requestID(r),
	}
	if _, err := s.deps.Writer.Append(detached(ctx), draft); err != nil {
		s.logger.ErrorContext(ctx, "failed to record denial",
			"org_id", draft.OrgID, "action", draft.Action, "error", err)
	}
}
