package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/helm-gate/pkg/attest"
	"github.com/Mindburn-Labs/helm-gate/pkg/classify"
	"github.com/Mindburn-Labs/helm-gate/pkg/gate"
	"github.com/Mindburn-Labs/helm-gate/pkg/ledger"
	"github.com/Mindburn-Labs/helm-gate/pkg/problem"
)

// ReadinessResponse answers GET /api/v1/governance/readiness.
type ReadinessResponse struct {
	gate.Decision
	Allowed bool `json:"allowed"`
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	d, err := s.deps.Gate.Evaluate(r.Context(),
		gate.Scope{OrgID: actor.OrgID, SiteID: actor.SiteID},
		gate.GateContext{
			Action:    "READINESS_PROBE",
			ShiftID:   q.Get("shift_id"),
			Date:      q.Get("date"),
			ShiftCode: q.Get("shift_code"),
		})
	var gateErr *gate.GateError
	if errors.As(err, &gateErr) {
		problem.Write(w, r, problem.New(gateErr.Status, gateErr.Code, "The governance gate is not configured."))
		return
	}
	if err != nil {
		problem.WriteInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ReadinessResponse{Decision: d, Allowed: d.Denied() == nil})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	action := q.Get("action")
	if action == "" {
		problem.WriteBadRequest(w, r, "Missing required parameter: action")
		return
	}
	c := classify.Default()
	if v := q.Get("version"); v != "" {
		var err error
		if c, err = classify.At(v); err != nil {
			problem.WriteBadRequest(w, r, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, c.Evaluate(action, q.Get("target_type")))
}

func parseWindow(r *http.Request) (time.Time, time.Time, error) {
	var from, to time.Time
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, errors.New("from must be RFC 3339")
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, errors.New("to must be RFC 3339")
		}
		to = t
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return from, to, errors.New("from must be before to")
	}
	return from, to, nil
}

func (s *Server) handleBlockingKPI(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	if s.deps.Writer == nil {
		problem.WriteUnavailable(w, r, problem.CodeLedgerUnavailable, errors.New("ledger writer not configured"))
		return
	}
	from, to, err := parseWindow(r)
	if err != nil {
		problem.WriteBadRequest(w, r, err.Error())
		return
	}
	rows, err := s.deps.Writer.Store().List(r.Context(), ledger.Filter{OrgID: actor.OrgID, From: from, To: to})
	if err != nil {
		problem.WriteUnavailable(w, r, problem.CodeLedgerUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger.CountBlocking(rows, from, to))
}

// VerifyResponse answers the verify endpoints. An integrity violation is a
// successful request with Valid false.
type VerifyResponse struct {
	OrgID string `json:"org_id"`
	ledger.Result
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	if s.deps.Writer == nil {
		problem.WriteUnavailable(w, r, problem.CodeLedgerUnavailable, errors.New("ledger writer not configured"))
		return
	}
	res, err := s.deps.Writer.Verify(r.Context(), actor.OrgID)
	if err != nil {
		problem.WriteUnavailable(w, r, problem.CodeLedgerUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{OrgID: actor.OrgID, Result: res})
}

// AttestResponse answers POST /api/v1/ledger/attest.
type AttestResponse struct {
	Attestation attest.Attestation `json:"attestation"`
	Location    string             `json:"location,omitempty"`
}

func (s *Server) handleAttest(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	if s.deps.Attestor == nil {
		problem.WriteNotImplemented(w, r, "Attestation is not configured on this server")
		return
	}
	att, loc, err := s.deps.Attestor.Attest(r.Context(), actor.OrgID)
	if err != nil {
		problem.WriteUnavailable(w, r, problem.CodeLedgerUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, AttestResponse{Attestation: att, Location: loc})
}
