package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm-gate/pkg/canonicalize"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_AppendListVerify(t *testing.T) {
	store := openTestSQLite(t)
	w := testWriter(store)
	ctx := context.Background()

	var appended []GovernanceEvent
	for i := 0; i < 3; i++ {
		d := draft("org-1", "COMPLIANCE_ACTION_DONE")
		d.TargetID = fmt.Sprintf("ca-%d", i)
		d.ReasonCodes = []string{"OPS_RISK"}
		s, err := w.Append(ctx, d)
		require.NoError(t, err)
		appended = append(appended, s.Event)
	}

	rows, err := store.List(ctx, Filter{OrgID: "org-1"})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i, r := range rows {
		assert.Equal(t, appended[i].ID, r.ID)
		assert.Equal(t, appended[i].PayloadHash, r.PayloadHash)
		assert.Equal(t, appended[i].Meta, r.Meta)
		assert.True(t, appended[i].CreatedAt.Equal(r.CreatedAt))
	}

	res := Verify(rows)
	assert.True(t, res.Valid, "%+v", res)
	assert.Equal(t, 3, res.Checked)
}

func TestSQLiteStore_IdempotentAppend(t *testing.T) {
	store := openTestSQLite(t)
	w := testWriter(store)
	ctx := context.Background()

	d := draft("org-1", "STAFFING_GAP_RESOLVED")
	d.IdempotencyKey = "gov:once"

	first, err := w.Append(ctx, d)
	require.NoError(t, err)
	second, err := w.Append(ctx, d)
	require.NoError(t, err)

	assert.Equal(t, first.Event.ID, second.Event.ID)
	assert.True(t, second.Replayed)

	rows, err := store.List(ctx, Filter{OrgID: "org-1"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSQLiteStore_UniqueViolationIsDuplicate(t *testing.T) {
	store := openTestSQLite(t)
	ctx := context.Background()

	seal := func(id string) SealFunc {
		return func(head Head) (GovernanceEvent, error) {
			pos := head.Position + 1
			return GovernanceEvent{
				ID: id, OrgID: "org-1", Action: "INVITE_USER",
				Outcome: OutcomeSucceeded, LegitimacyStatus: LegitimacyAllowed,
				IdempotencyKey: "gov:dup", CreatedAt: epoch,
				ChainPosition: &pos, PayloadHash: "h-" + id, PayloadHashAlgo: canonicalize.AlgoV2,
			}, nil
		}
	}
	_, err := store.Append(ctx, "org-1", seal("a"))
	require.NoError(t, err)
	_, err = store.Append(ctx, "org-1", seal("b"))
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = store.FindByIdempotencyKey(ctx, "org-1", "", "gov:missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ListFilterWindow(t *testing.T) {
	store := openTestSQLite(t)
	w := testWriter(store)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := w.Append(ctx, draft("org-1", "INVITE_USER"))
		require.NoError(t, err)
	}
	_, err := w.Append(ctx, draft("org-2", "INVITE_USER"))
	require.NoError(t, err)

	// testWriter ticks one second per event starting at epoch+1s.
	rows, err := store.List(ctx, Filter{OrgID: "org-1", From: epoch.Add(2 * time.Second), To: epoch.Add(4 * time.Second)})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), *rows[0].ChainPosition)
	assert.Equal(t, int64(3), *rows[1].ChainPosition)

	limited, err := store.List(ctx, Filter{OrgID: "org-1", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	all, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 6)
}

func TestSQLiteStore_ImportLegacyThenAppend(t *testing.T) {
	store := openTestSQLite(t)
	ctx := context.Background()

	legacy := GovernanceEvent{
		ID: "legacy-1", OrgID: "org-1", Action: "COMPLIANCE_ACTION_DONE", TargetType: "COMPLIANCE_ACTION",
		Outcome: OutcomeSucceeded, LegitimacyStatus: LegitimacyAllowed, ReadinessStatus: "GO",
		Meta: LegacyMeta{"imported_from": "csv"}, CreatedAt: epoch.Add(-time.Hour),
		PayloadHashAlgo: canonicalize.AlgoV1,
	}
	h, err := PayloadHash(legacy)
	require.NoError(t, err)
	legacy.PayloadHash = h
	require.NoError(t, store.Import(ctx, legacy))

	w := testWriter(store)
	s, err := w.Append(ctx, draft("org-1", "INVITE_USER"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), *s.Event.ChainPosition, "pre-chain rows do not occupy positions")

	rows, err := store.List(ctx, Filter{OrgID: "org-1"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Nil(t, rows[0].ChainPosition)

	res := Verify(rows)
	assert.True(t, res.Valid, "%+v", res)
}

func TestSQLiteStore_VerifyDetectsDeletedHead(t *testing.T) {
	store := openTestSQLite(t)
	w := testWriter(store)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		d := draft("org-1", "COMPLIANCE_ACTION_DONE")
		d.TargetID = fmt.Sprintf("ca-%d", i)
		_, err := w.Append(ctx, d)
		require.NoError(t, err)
	}
	_, err := store.db.ExecContext(ctx,
		`DELETE FROM governance_events WHERE org_id = ? AND chain_position <= 2`, "org-1")
	require.NoError(t, err)

	res, err := w.Verify(ctx, "org-1")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonChainGap, res.Reason)
	assert.Equal(t, int64(3), res.Position)
}
