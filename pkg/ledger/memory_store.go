package ledger

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps events in process. It is used in tests and when the
// server runs without a database.
type MemoryStore struct {
	mu     sync.RWMutex
	events []GovernanceEvent
	heads  map[string]Head
	byKey  map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		heads: make(map[string]Head),
		byKey: make(map[string]int),
	}
}

func idemIndexKey(orgID, siteID, key string) string {
	return orgID + "\x00" + siteID + "\x00" + key
}

func (s *MemoryStore) Append(ctx context.Context, orgID string, seal SealFunc) (GovernanceEvent, error) {
	if err := ctx.Err(); err != nil {
		return GovernanceEvent{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ev, err := seal(s.heads[orgID])
	if err != nil {
		return GovernanceEvent{}, err
	}
	if ev.OrgID != orgID {
		return GovernanceEvent{}, fmt.Errorf("%w: sealed event org %q does not match %q", ErrInvalidEvent, ev.OrgID, orgID)
	}

	var ik string
	if ev.IdempotencyKey != "" {
		ik = idemIndexKey(ev.OrgID, ev.SiteID, ev.IdempotencyKey)
		if _, dup := s.byKey[ik]; dup {
			return GovernanceEvent{}, fmt.Errorf("%w: idempotency key %s", ErrDuplicate, ev.IdempotencyKey)
		}
	}

	s.events = append(s.events, ev)
	if ik != "" {
		s.byKey[ik] = len(s.events) - 1
	}
	if ev.ChainPosition != nil {
		s.heads[orgID] = Head{Position: *ev.ChainPosition, Hash: ev.PayloadHash}
	}
	return ev, nil
}

func (s *MemoryStore) FindByIdempotencyKey(_ context.Context, orgID, siteID, key string) (GovernanceEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byKey[idemIndexKey(orgID, siteID, key)]
	if !ok {
		return GovernanceEvent{}, ErrNotFound
	}
	return s.events[i], nil
}

// List returns matching events in insertion order, which for a single org
// is chain order.
func (s *MemoryStore) List(_ context.Context, f Filter) ([]GovernanceEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]GovernanceEvent, 0)
	for _, e := range s.events {
		if !f.matches(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// Import loads pre-existing rows verbatim, bypassing sealing. Used to seed
// legacy pre-chain history.
func (s *MemoryStore) Import(rows ...GovernanceEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range rows {
		s.events = append(s.events, ev)
		if ev.IdempotencyKey != "" {
			s.byKey[idemIndexKey(ev.OrgID, ev.SiteID, ev.IdempotencyKey)] = len(s.events) - 1
		}
		if ev.ChainPosition != nil && *ev.ChainPosition > s.heads[ev.OrgID].Position {
			s.heads[ev.OrgID] = Head{Position: *ev.ChainPosition, Hash: ev.PayloadHash}
		}
	}
}
