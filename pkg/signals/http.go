package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Mindburn-Labs/helm-gate/pkg/readiness"
)

const (
	defaultHTTPTimeout = 3 * time.Second
	defaultHTTPPath    = "/v1/readiness"
	maxResponseBytes   = 64 << 10
)

// HTTPConfig configures HTTPSource.
type HTTPConfig struct {
	// URL is the collaborator base URL, e.g. "http://compliance:8080".
	URL string
	// Path overrides the default "/v1/readiness".
	Path string
	// Timeout bounds one fetch. Default: 3s.
	Timeout time.Duration
	// Token, if set, is sent as a bearer token.
	Token string
}

// HTTPSource queries a remote readiness collaborator.
//
// Response body: {"legal": "LEGAL_GO", "ops": "OPS_WARNING"}. A missing or
// unrecognised flag is reported as that dimension being unavailable.
type HTTPSource struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTPSource(cfg HTTPConfig) *HTTPSource {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.Path == "" {
		cfg.Path = defaultHTTPPath
	}
	return &HTTPSource{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type httpSignal struct {
	Legal string `json:"legal"`
	Ops   string `json:"ops"`
}

func (s *HTTPSource) Fetch(ctx context.Context, q Query) (readiness.Signal, error) {
	params := url.Values{}
	params.Set("org_id", q.OrgID)
	for k, v := range map[string]string{
		"site_id":    q.SiteID,
		"shift_id":   q.ShiftID,
		"date":       q.Date,
		"shift_code": q.ShiftCode,
	} {
		if v != "" {
			params.Set(k, v)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL+s.cfg.Path+"?"+params.Encode(), nil)
	if err != nil {
		return readiness.Signal{}, fmt.Errorf("signals: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return readiness.Signal{}, fmt.Errorf("signals: fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return readiness.Signal{}, fmt.Errorf("%w: org %s", ErrUnknownScope, q.OrgID)
	case resp.StatusCode != http.StatusOK:
		return readiness.Signal{}, fmt.Errorf("signals: upstream returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return readiness.Signal{}, fmt.Errorf("signals: read body: %w", err)
	}
	var raw httpSignal
	if err := json.Unmarshal(body, &raw); err != nil {
		return readiness.Signal{}, fmt.Errorf("signals: decode body: %w", err)
	}

	sig := readiness.Signal{Legal: readiness.LegalFlag(raw.Legal), Ops: readiness.OpsFlag(raw.Ops)}
	if err := validate(sig); err != nil {
		return readiness.Signal{}, fmt.Errorf("signals: upstream response: %w", err)
	}
	return sig, nil
}
