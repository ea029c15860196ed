// Package client provides a typed Go client for the helm-gate HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Mindburn-Labs/helm-gate/pkg/api"
	"github.com/Mindburn-Labs/helm-gate/pkg/classify"
	"github.com/Mindburn-Labs/helm-gate/pkg/guard"
	"github.com/Mindburn-Labs/helm-gate/pkg/ledger"
	"github.com/Mindburn-Labs/helm-gate/pkg/problem"
)

// APIError is returned when the API responds with a non-2xx status. It
// carries the decoded problem document when the server sent one.
type APIError struct {
	Status  int
	Problem problem.Detail
}

func (e *APIError) Error() string {
	if e.Problem.Code != "" {
		return fmt.Sprintf("helm-gate api %d: %s (%s)", e.Status, e.Problem.Detail, e.Problem.Code)
	}
	return fmt.Sprintf("helm-gate api %d", e.Status)
}

// IsDenied reports whether err is a gate denial (409 RUNTIME_NO_GO).
func IsDenied(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Problem.Code == guard.CodeRuntimeNoGo
}

// Client is a typed client for the gate API.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithToken sets the bearer token.
func WithToken(tok string) Option {
	return func(c *Client) { c.Token = tok }
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTPClient.Timeout = d }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr.Problem)
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Action calls POST /api/v1/governance/actions/{action}. A denial is
// returned as an *APIError; check it with IsDenied.
func (c *Client) Action(ctx context.Context, action string, req api.ActionRequest) (*api.ActionResponse, error) {
	var out api.ActionResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/governance/actions/"+url.PathEscape(action), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReadinessQuery selects the shift for a readiness probe. The organization
// and site come from the token.
type ReadinessQuery struct {
	ShiftID   string
	Date      string
	ShiftCode string
}

// Readiness calls GET /api/v1/governance/readiness.
func (c *Client) Readiness(ctx context.Context, q ReadinessQuery) (*api.ReadinessResponse, error) {
	params := url.Values{}
	for k, v := range map[string]string{"shift_id": q.ShiftID, "date": q.Date, "shift_code": q.ShiftCode} {
		if v != "" {
			params.Set(k, v)
		}
	}
	path := "/api/v1/governance/readiness"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var out api.ReadinessResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Classify calls GET /api/v1/governance/classify. An empty version means
// the server's current rule table.
func (c *Client) Classify(ctx context.Context, action, targetType, version string) (*classify.Classification, error) {
	params := url.Values{"action": {action}}
	if targetType != "" {
		params.Set("target_type", targetType)
	}
	if version != "" {
		params.Set("version", version)
	}
	var out classify.Classification
	if err := c.do(ctx, http.MethodGet, "/api/v1/governance/classify?"+params.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BlockingKPI calls GET /api/v1/governance/kpi/blocking. Zero bounds are
// open.
func (c *Client) BlockingKPI(ctx context.Context, from, to time.Time) (*ledger.BlockingCount, error) {
	params := url.Values{}
	if !from.IsZero() {
		params.Set("from", from.UTC().Format(time.RFC3339))
	}
	if !to.IsZero() {
		params.Set("to", to.UTC().Format(time.RFC3339))
	}
	path := "/api/v1/governance/kpi/blocking"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var out ledger.BlockingCount
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyLedger calls GET /api/v1/ledger/verify. A broken chain is a
// successful call with Valid false.
func (c *Client) VerifyLedger(ctx context.Context) (*api.VerifyResponse, error) {
	var out api.VerifyResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/ledger/verify", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Attest calls POST /api/v1/ledger/attest.
func (c *Client) Attest(ctx context.Context) (*api.AttestResponse, error) {
	var out api.AttestResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/ledger/attest", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
