package ledger

import (
	"context"
	"time"
)

// Head is the tail of one org's chain. The zero value means the chain is empty.
type Head struct {
	Position int64
	Hash     string
}

// SealFunc builds the final event given the current head. Stores call it
// while holding the org's chain lock, so the position it assigns is final.
type SealFunc func(head Head) (GovernanceEvent, error)

// Filter narrows List. Zero values are unbounded.
type Filter struct {
	OrgID string
	From  time.Time
	To    time.Time
	Limit int
}

// Store is append-only storage for governance events.
//
// Append must serialize head reads and inserts per org and must enforce
// uniqueness of (org_id, site_id, idempotency_key) for non-empty keys,
// returning an error wrapping ErrDuplicate on violation.
type Store interface {
	Append(ctx context.Context, orgID string, seal SealFunc) (GovernanceEvent, error)
	FindByIdempotencyKey(ctx context.Context, orgID, siteID, key string) (GovernanceEvent, error)
	List(ctx context.Context, f Filter) ([]GovernanceEvent, error)
}

func (f Filter) matches(e GovernanceEvent) bool {
	if f.OrgID != "" && e.OrgID != f.OrgID {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.CreatedAt.Before(f.To) {
		return false
	}
	return true
}
