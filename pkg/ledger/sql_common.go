package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/helm-gate/pkg/canonicalize"
)

const eventColumns = `id, org_id, site_id, actor_user_id, action, target_type, target_id,
	outcome, legitimacy_status, readiness_status, reason_codes, meta,
	policy_fingerprint, idempotency_key, classifier_version, created_at,
	chain_position, payload_hash, payload_hash_algo, previous_hash`

// sqliteTimeLayout is fixed width so text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) timeArg(t time.Time) any {
	if d == dialectSQLite {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return t.UTC()
}

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func insertArgs(d dialect, ev GovernanceEvent) ([]any, error) {
	codes := ev.ReasonCodes
	if codes == nil {
		codes = []string{}
	}
	codesJSON, err := json.Marshal(codes)
	if err != nil {
		return nil, fmt.Errorf("ledger: encode reason codes: %w", err)
	}
	metaJSON, err := MarshalMeta(ev.Meta)
	if err != nil {
		return nil, err
	}
	var meta sql.NullString
	if string(metaJSON) != "null" {
		meta = sql.NullString{String: string(metaJSON), Valid: true}
	}
	var pos sql.NullInt64
	if ev.ChainPosition != nil {
		pos = sql.NullInt64{Int64: *ev.ChainPosition, Valid: true}
	}

	return []any{
		ev.ID, ev.OrgID, ev.SiteID, ev.ActorUserID, ev.Action, ev.TargetType, ev.TargetID,
		string(ev.Outcome), string(ev.LegitimacyStatus), ev.ReadinessStatus, string(codesJSON), meta,
		nullString(ev.PolicyFingerprint), nullString(ev.IdempotencyKey), ev.ClassifierVersion, d.timeArg(ev.CreatedAt),
		pos, nullString(ev.PayloadHash), string(ev.PayloadHashAlgo), nullString(ev.PreviousHash),
	}, nil
}

func scanEvent(d dialect, sc rowScanner) (GovernanceEvent, error) {
	var (
		ev                                  GovernanceEvent
		outcome, legitimacy, algo, codesRaw string
		meta, policy, idem, hash, prev      sql.NullString
		pos                                 sql.NullInt64
		createdText                         string
		createdTime                         time.Time
	)
	var createdDest any = &createdTime
	if d == dialectSQLite {
		createdDest = &createdText
	}

	err := sc.Scan(
		&ev.ID, &ev.OrgID, &ev.SiteID, &ev.ActorUserID, &ev.Action, &ev.TargetType, &ev.TargetID,
		&outcome, &legitimacy, &ev.ReadinessStatus, &codesRaw, &meta,
		&policy, &idem, &ev.ClassifierVersion, createdDest,
		&pos, &hash, &algo, &prev,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return GovernanceEvent{}, ErrNotFound
		}
		return GovernanceEvent{}, err
	}

	if d == dialectSQLite {
		createdTime, err = time.Parse(sqliteTimeLayout, createdText)
		if err != nil {
			return GovernanceEvent{}, fmt.Errorf("ledger: corrupt created_at on %s: %w", ev.ID, err)
		}
	}
	ev.CreatedAt = createdTime.UTC()
	ev.Outcome = Outcome(outcome)
	ev.LegitimacyStatus = Legitimacy(legitimacy)
	ev.PayloadHashAlgo = canonicalize.Algo(algo)
	ev.PolicyFingerprint = policy.String
	ev.IdempotencyKey = idem.String
	ev.PayloadHash = hash.String
	ev.PreviousHash = prev.String
	if pos.Valid {
		p := pos.Int64
		ev.ChainPosition = &p
	}

	if err := json.Unmarshal([]byte(codesRaw), &ev.ReasonCodes); err != nil {
		return GovernanceEvent{}, fmt.Errorf("ledger: corrupt reason_codes on %s: %w", ev.ID, err)
	}
	if meta.Valid {
		if ev.Meta, err = UnmarshalMeta([]byte(meta.String)); err != nil {
			return GovernanceEvent{}, fmt.Errorf("ledger: corrupt meta on %s: %w", ev.ID, err)
		}
	}
	return ev, nil
}

func readHead(ctx context.Context, q queryer, query, orgID string) (Head, error) {
	var h Head
	var hash sql.NullString
	err := q.QueryRowContext(ctx, query, orgID).Scan(&h.Position, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return Head{}, nil
	}
	if err != nil {
		return Head{}, fmt.Errorf("ledger: read chain head: %w", err)
	}
	h.Hash = hash.String
	return h, nil
}

func collect(d dialect, rows *sql.Rows) ([]GovernanceEvent, error) {
	defer func() { _ = rows.Close() }()
	out := make([]GovernanceEvent, 0)
	for rows.Next() {
		ev, err := scanEvent(d, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// listQuery builds the WHERE/LIMIT tail for List. next returns the
// placeholder for the n-th argument.
func listQuery(d dialect, base, order string, f Filter, next func(n int) string) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, next(len(args))))
	}
	if f.OrgID != "" {
		add("org_id = %s", f.OrgID)
	}
	if !f.From.IsZero() {
		add("created_at >= %s", d.timeArg(f.From))
	}
	if !f.To.IsZero() {
		add("created_at < %s", d.timeArg(f.To))
	}

	q := base
	for i, w := range where {
		if i == 0 {
			q += " WHERE " + w
		} else {
			q += " AND " + w
		}
	}
	q += " " + order
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	return q, args
}
