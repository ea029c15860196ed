package ledger

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)

// testWriter returns a writer with a deterministic clock and ids.
func testWriter(store Store) *Writer {
	var tick, seq atomic.Int64
	return NewWriter(store,
		WithClock(func() time.Time {
			return epoch.Add(time.Duration(tick.Add(1)) * time.Second)
		}),
		WithIDGenerator(func() (string, error) {
			return fmt.Sprintf("evt-%04d", seq.Add(1)), nil
		}),
	)
}

func draft(org, action string) Draft {
	return Draft{
		OrgID:            org,
		SiteID:           "site-1",
		ActorUserID:      "user-1",
		Action:           action,
		TargetType:       "SHIFT",
		TargetID:         "shift-42",
		Outcome:          OutcomeSucceeded,
		LegitimacyStatus: LegitimacyAllowed,
		ReadinessStatus:  "GO",
		Meta:             TransitionMeta{Before: []byte(`{"state":"open"}`), After: []byte(`{"state":"done"}`), RequestID: "req-1"},
	}
}

// chainOf appends n events for org and returns them in chain order.
func chainOf(t *testing.T, n int) []GovernanceEvent {
	t.Helper()
	w := testWriter(NewMemoryStore())
	out := make([]GovernanceEvent, 0, n)
	for i := 0; i < n; i++ {
		d := draft("org-1", "COMPLIANCE_ACTION_DONE")
		d.TargetID = fmt.Sprintf("ca-%d", i+1)
		s, err := w.Append(context.Background(), d)
		require.NoError(t, err)
		out = append(out, s.Event)
	}
	return out
}

func int64p(v int64) *int64 { return &v }
