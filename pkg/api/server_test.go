package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm-gate/pkg/attest"
	"github.com/Mindburn-Labs/helm-gate/pkg/auth"
	"github.com/Mindburn-Labs/helm-gate/pkg/classify"
	"github.com/Mindburn-Labs/helm-gate/pkg/gate"
	"github.com/Mindburn-Labs/helm-gate/pkg/ledger"
	"github.com/Mindburn-Labs/helm-gate/pkg/problem"
	"github.com/Mindburn-Labs/helm-gate/pkg/readiness"
	"github.com/Mindburn-Labs/helm-gate/pkg/reasoncode"
	"github.com/Mindburn-Labs/helm-gate/pkg/signals"
)

const jwtSecret = "api-test-secret-0123456789abcdef"

var actor = auth.Actor{UserID: "user-1", OrgID: "org-1", SiteID: "site-1"}

type fixture struct {
	server    *Server
	handler   http.Handler
	store     *ledger.MemoryStore
	validator *auth.Validator
	signal    *readiness.Signal
	calls     atomic.Int32
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{
		store:     ledger.NewMemoryStore(),
		validator: auth.NewValidator(jwtSecret, "helm-gate"),
		signal:    &readiness.Signal{Legal: readiness.LegalGo, Ops: readiness.OpsGo},
	}
	src := signals.SourceFunc(func(context.Context, signals.Query) (readiness.Signal, error) {
		return *f.signal, nil
	})
	clock := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	writer := ledger.NewWriter(f.store, ledger.WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	signer, err := attest.NewSigner(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)

	deps := Deps{
		Gate:      gate.New(src),
		Writer:    writer,
		Attestor:  attest.NewAttestor(f.store, signer, nil),
		Validator: f.validator,
	}
	if mutate != nil {
		mutate(&deps)
	}
	f.server = NewServer(deps)
	f.server.Register("STAFFING_GAP_RESOLVED", Action{
		Handler: func(_ context.Context, call ActionCall) (ActionOutput, error) {
			f.calls.Add(1)
			return ActionOutput{
				Result: map[string]string{"resolved": call.Request.TargetID},
				Meta:   ledger.ResolutionMeta{ResolvedType: "GAP", ResolvedID: call.Request.TargetID},
			}, nil
		},
		Deterministic: true,
	})
	f.server.Register("invite_user", Action{Handler: RecordOnly})
	f.server.Register("EXPORT_PAYROLL", Action{
		Handler: func(context.Context, ActionCall) (ActionOutput, error) {
			f.calls.Add(1)
			return ActionOutput{}, errors.New("payroll system down")
		},
	})
	f.handler = f.server.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	tok, err := f.validator.Sign(actor, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) rows(t *testing.T) []ledger.GovernanceEvent {
	t.Helper()
	rows, err := f.store.List(context.Background(), ledger.Filter{OrgID: actor.OrgID})
	require.NoError(t, err)
	return rows
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) problem.Detail {
	t.Helper()
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p problem.Detail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestAction_AllowedAppendsSucceededEvent(t *testing.T) {
	f := newFixture(t, nil)
	f.signal.Ops = readiness.OpsWarning

	rec := f.do(t, http.MethodPost, "/api/v1/governance/actions/staffing_gap_resolved", ActionRequest{
		TargetType: "SHIFT",
		TargetID:   "gap-7",
		ShiftID:    "shift-42",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ActionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Replayed)
	assert.Equal(t, ledger.OutcomeSucceeded, resp.Event.Outcome)
	assert.Equal(t, ledger.LegitimacyAllowed, resp.Event.LegitimacyStatus)
	assert.Equal(t, "WARNING", resp.Event.ReadinessStatus)
	assert.Equal(t, []string{reasoncode.OpsRisk}, resp.Event.ReasonCodes)
	assert.Equal(t, "user-1", resp.Event.ActorUserID)
	assert.True(t, strings.HasPrefix(resp.Event.IdempotencyKey, "gov:"))
	assert.Equal(t, ledger.ResolutionMeta{ResolvedType: "GAP", ResolvedID: "gap-7"}, resp.Event.Meta)
	require.NotNil(t, resp.Readiness)
	assert.Equal(t, gate.ScopeShift, resp.Readiness.Scope)
	assert.Equal(t, int32(1), f.calls.Load())

	rows := f.rows(t)
	require.Len(t, rows, 1)
	assert.True(t, ledger.Verify(rows).Valid)
}

func TestAction_DeniedRecordsBlockedEvent(t *testing.T) {
	f := newFixture(t, nil)
	f.signal.Legal = readiness.LegalNoGo

	rec := f.do(t, http.MethodPost, "/api/v1/governance/actions/STAFFING_GAP_RESOLVED", ActionRequest{
		TargetType: "SHIFT",
		TargetID:   "gap-7",
		Date:       "2024-03-01",
		ShiftCode:  "EARLY",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	p := decodeProblem(t, rec)
	assert.Equal(t, "RUNTIME_NO_GO", p.Code)
	assert.Equal(t, "NO_GO", p.Readiness)
	assert.Equal(t, []string{reasoncode.LegalBlocking}, p.ReasonCodes)
	assert.Equal(t, int32(0), f.calls.Load(), "handler must not run")

	rows := f.rows(t)
	require.Len(t, rows, 1)
	ev := rows[0]
	assert.Equal(t, ledger.OutcomeBlocked, ev.Outcome)
	assert.Equal(t, ledger.LegitimacyDenied, ev.LegitimacyStatus)
	assert.Equal(t, []string{reasoncode.LegalBlocking, reasoncode.RuntimeNoGo}, ev.ReasonCodes)
	assert.Empty(t, ev.IdempotencyKey)
	assert.Equal(t, ledger.DenialMeta{
		AttemptedAction: "STAFFING_GAP_RESOLVED",
		Scope:           "shift",
		Date:            "2024-03-01",
		ShiftCode:       "EARLY",
		RequestID:       "req-42",
	}, ev.Meta)
}

func TestAction_IdempotentReplay(t *testing.T) {
	f := newFixture(t, nil)
	body := ActionRequest{TargetType: "SHIFT", TargetID: "gap-7"}

	first := f.do(t, http.MethodPost, "/api/v1/governance/actions/STAFFING_GAP_RESOLVED", body)
	require.Equal(t, http.StatusOK, first.Code)
	second := f.do(t, http.MethodPost, "/api/v1/governance/actions/STAFFING_GAP_RESOLVED", body)
	require.Equal(t, http.StatusOK, second.Code)

	var a, b ActionResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	assert.True(t, b.Replayed)
	assert.Equal(t, a.Event.ID, b.Event.ID)
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Len(t, f.rows(t), 1)
}

func TestAction_ClientKeyOnNonDeterministicAction(t *testing.T) {
	f := newFixture(t, nil)
	body := ActionRequest{TargetType: "USER", TargetID: "u-9", IdempotencyKey: "client-key-1"}

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/api/v1/governance/actions/INVITE_USER", body)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Len(t, f.rows(t), 1)

	rec := f.do(t, http.MethodPost, "/api/v1/governance/actions/INVITE_USER", ActionRequest{TargetType: "USER", TargetID: "u-9"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, f.rows(t), 2, "no key, no collapse")
}

func TestAction_ClientKeyReusedForOtherTarget(t *testing.T) {
	f := newFixture(t, nil)
	path := "/api/v1/governance/actions/STAFFING_GAP_RESOLVED"
	first := ActionRequest{TargetType: "SHIFT", TargetID: "gap-1", IdempotencyKey: "client-key-2"}
	rec := f.do(t, http.MethodPost, path, first)
	require.Equal(t, http.StatusOK, rec.Code)

	other := first
	other.TargetID = "gap-2"
	rec = f.do(t, http.MethodPost, path, other)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, problem.CodeIdempotencyReused, decodeProblem(t, rec).Code)

	rows := f.rows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "gap-1", rows[0].TargetID)
	assert.Equal(t, int32(1), f.calls.Load(), "handler not run for the reused key")
}

func TestAction_HandlerFailureRecordsFailedEvent(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/v1/governance/actions/EXPORT_PAYROLL", ActionRequest{TargetType: "PAYROLL"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "payroll system down")

	rows := f.rows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, ledger.OutcomeFailed, rows[0].Outcome)
}

func TestAction_Errors(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Deps)
		path     string
		body     any
		status   int
		wantCode string
	}{
		{
			name:     "unknown action",
			path:     "/api/v1/governance/actions/LAUNCH_ROCKET",
			body:     ActionRequest{TargetType: "X"},
			status:   http.StatusNotImplemented,
			wantCode: problem.CodeNotImplemented,
		},
		{
			name:     "gate not configured",
			mutate:   func(d *Deps) { d.Gate = nil },
			path:     "/api/v1/governance/actions/INVITE_USER",
			body:     ActionRequest{TargetType: "USER"},
			status:   http.StatusServiceUnavailable,
			wantCode: gate.CodeNotConfigured,
		},
		{
			name:     "ledger not configured",
			mutate:   func(d *Deps) { d.Writer = nil },
			path:     "/api/v1/governance/actions/INVITE_USER",
			body:     ActionRequest{TargetType: "USER"},
			status:   http.StatusServiceUnavailable,
			wantCode: problem.CodeLedgerUnavailable,
		},
		{
			name:     "missing target type",
			path:     "/api/v1/governance/actions/INVITE_USER",
			body:     ActionRequest{},
			status:   http.StatusBadRequest,
			wantCode: problem.CodeInvalidRequest,
		},
		{
			name:     "legacy meta rejected",
			path:     "/api/v1/governance/actions/INVITE_USER",
			body:     map[string]any{"target_type": "USER", "meta": map[string]any{"kind": "legacy", "data": map[string]any{}}},
			status:   http.StatusBadRequest,
			wantCode: problem.CodeInvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.mutate)
			rec := f.do(t, http.MethodPost, tt.path, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, decodeProblem(t, rec).Code)
			assert.Empty(t, f.rows(t))
		})
	}
}

func TestAction_TypedMetaIsStored(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/v1/governance/actions/INVITE_USER", map[string]any{
		"target_type": "USER",
		"meta": map[string]any{
			"kind": "transition",
			"data": map[string]any{"before": map[string]any{"role": "viewer"}, "after": map[string]any{"role": "editor"}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rows := f.rows(t)
	require.Len(t, rows, 1)
	tm, ok := rows[0].Meta.(ledger.TransitionMeta)
	require.True(t, ok)
	assert.JSONEq(t, `{"role":"editor"}`, string(tm.After))
}

func TestUnauthenticated(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ledger/verify", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReadinessProbe(t *testing.T) {
	f := newFixture(t, nil)
	f.signal.Ops = readiness.OpsNoGo

	rec := f.do(t, http.MethodGet, "/api/v1/governance/readiness?date=2024-03-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Scope       string   `json:"scope"`
		Readiness   string   `json:"readiness_status"`
		ReasonCodes []string `json:"reason_codes"`
		Allowed     bool     `json:"allowed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "organization", resp.Scope)
	assert.Equal(t, "NO_GO", resp.Readiness)
	assert.Equal(t, []string{reasoncode.NoShiftContext, reasoncode.OpsNoCoverage}, resp.ReasonCodes)
	assert.False(t, resp.Allowed)
	assert.Empty(t, f.rows(t), "a probe writes nothing")
}

func TestVerifyEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 3; i++ {
		rec := f.do(t, http.MethodPost, "/api/v1/governance/actions/INVITE_USER", ActionRequest{TargetType: "USER", TargetID: fmt.Sprint(i)})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rec := f.do(t, method, "/api/v1/ledger/verify", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp VerifyResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Valid)
		assert.Equal(t, 3, resp.Checked)
		assert.Equal(t, "org-1", resp.OrgID)
	}
}

func TestVerifyEndpoint_ReportsTampering(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/governance/actions/INVITE_USER",
			ActionRequest{TargetType: "USER", TargetID: fmt.Sprint(i)}).Code)
	}
	rows := f.rows(t)
	rows[2].PreviousHash = "forged"
	tampered := ledger.NewMemoryStore()
	tampered.Import(rows...)

	g := newFixture(t, func(d *Deps) { d.Writer = ledger.NewWriter(tampered) })
	rec := g.do(t, http.MethodGet, "/api/v1/ledger/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Valid)
	assert.Equal(t, ledger.ReasonChainLinkMismatch, resp.Reason)
	assert.Equal(t, int64(3), resp.Position)
}

func TestBlockingKPI(t *testing.T) {
	f := newFixture(t, nil)
	f.server.Register("GOVERNANCE_OVERRIDE", Action{Handler: RecordOnly})
	f.handler = f.server.Handler()

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/governance/actions/INVITE_USER", ActionRequest{TargetType: "USER"}).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/governance/actions/GOVERNANCE_OVERRIDE", ActionRequest{TargetType: "READINESS"}).Code)

	rec := f.do(t, http.MethodGet, "/api/v1/governance/kpi/blocking?from=2024-03-01T00:00:00Z&to=2024-03-02T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var kpi ledger.BlockingCount
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &kpi))
	assert.Equal(t, 2, kpi.Total)
	assert.Equal(t, 1, kpi.Blocking)
	assert.Equal(t, 1, kpi.ByCategory[classify.CategoryLegitimacy])

	rec = f.do(t, http.MethodGet, "/api/v1/governance/kpi/blocking?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/governance/kpi/blocking?from=2024-03-02T00:00:00Z&to=2024-03-01T00:00:00Z", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClassifyEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/v1/governance/classify?action=LEGAL_HOLD_BLOCKED&target_type=SITE", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var c classify.Classification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	assert.Equal(t, classify.CategoryRegulatory, c.Category)
	assert.Equal(t, classify.SeverityCritical, c.Severity)
	assert.Equal(t, classify.ImpactBlocking, c.Impact)

	rec = f.do(t, http.MethodGet, "/api/v1/governance/classify", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/governance/classify?action=X&version=0.0.1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAttestEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/v1/governance/actions/INVITE_USER", ActionRequest{TargetType: "USER"}).Code)

	rec := f.do(t, http.MethodPost, "/api/v1/ledger/attest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp AttestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Attestation.Statement.Valid)
	assert.Equal(t, 1, resp.Attestation.Statement.Rows)
	assert.NotEmpty(t, resp.Attestation.Signature)

	g := newFixture(t, func(d *Deps) { d.Attestor = nil })
	rec = g.do(t, http.MethodPost, "/api/v1/ledger/attest", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
