package problem

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) Detail {
	t.Helper()
	var p Detail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestWrite(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set("X-Request-ID", "req-1")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/governance/actions/X", nil)

	p := New(http.StatusConflict, "RUNTIME_NO_GO", "readiness is NO_GO")
	p.ReasonCodes = []string{"LEGAL_BLOCKING"}
	Write(rec, req, p)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	got := decode(t, rec)
	assert.Equal(t, "Conflict", got.Title)
	assert.Equal(t, "RUNTIME_NO_GO", got.Code)
	assert.Equal(t, []string{"LEGAL_BLOCKING"}, got.ReasonCodes)
	assert.Equal(t, "/api/v1/governance/actions/X", got.Instance)
	assert.Equal(t, "req-1", got.TraceID)
	assert.Equal(t, "https://helm-gate.dev/errors/409", got.Type)
}

func TestWriteInternal_DoesNotLeak(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteInternal(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestWriteUnavailable(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteUnavailable(rec, nil, CodeLedgerUnavailable, errors.New("dial tcp: refused"))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	got := decode(t, rec)
	assert.Equal(t, CodeLedgerUnavailable, got.Code)
	assert.NotContains(t, rec.Body.String(), "refused")
}

func TestWriteTooManyRequests(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteTooManyRequests(rec, nil, 3)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("Retry-After"))
}
