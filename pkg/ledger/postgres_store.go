package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS governance_events (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	site_id TEXT NOT NULL DEFAULT '',
	actor_user_id TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	target_type TEXT NOT NULL DEFAULT '',
	target_id TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL,
	legitimacy_status TEXT NOT NULL,
	readiness_status TEXT NOT NULL DEFAULT '',
	reason_codes TEXT NOT NULL DEFAULT '[]',
	meta TEXT,
	policy_fingerprint TEXT,
	idempotency_key TEXT,
	classifier_version TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	chain_position BIGINT,
	payload_hash TEXT,
	payload_hash_algo TEXT NOT NULL,
	previous_hash TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS governance_events_idem_uq
	ON governance_events (org_id, site_id, idempotency_key);
CREATE UNIQUE INDEX IF NOT EXISTS governance_events_chain_uq
	ON governance_events (org_id, chain_position);
CREATE INDEX IF NOT EXISTS governance_events_created_idx
	ON governance_events (org_id, created_at);
`

const (
	pgLock = `SELECT pg_advisory_xact_lock(hashtext($1))`
	pgHead = `SELECT chain_position, payload_hash FROM governance_events
		WHERE org_id = $1 AND chain_position IS NOT NULL
		ORDER BY chain_position DESC LIMIT 1`
	pgInsert = `INSERT INTO governance_events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`
	pgByKey = `SELECT ` + eventColumns + ` FROM governance_events
		WHERE org_id = $1 AND site_id = $2 AND idempotency_key = $3`
	pgList  = `SELECT ` + eventColumns + ` FROM governance_events`
	pgOrder = `ORDER BY chain_position ASC NULLS FIRST, created_at ASC`
)

// pgUniqueViolation is SQLSTATE unique_violation.
const pgUniqueViolation = "23505"

// PostgresStore is the durable store. Chain positions are serialized per org
// with a transaction-scoped advisory lock, so concurrent writers for
// different orgs do not contend.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, pgSchema); err != nil {
		return fmt.Errorf("ledger: postgres schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, orgID string, seal SealFunc) (GovernanceEvent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return GovernanceEvent{}, fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, pgLock, orgID); err != nil {
		return GovernanceEvent{}, fmt.Errorf("ledger: chain lock: %w", err)
	}
	head, err := readHead(ctx, tx, pgHead, orgID)
	if err != nil {
		return GovernanceEvent{}, err
	}
	ev, err := seal(head)
	if err != nil {
		return GovernanceEvent{}, err
	}
	args, err := insertArgs(dialectPostgres, ev)
	if err != nil {
		return GovernanceEvent{}, err
	}
	if _, err := tx.ExecContext(ctx, pgInsert, args...); err != nil {
		if isPQUnique(err) {
			return GovernanceEvent{}, fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
		return GovernanceEvent{}, fmt.Errorf("ledger: insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return GovernanceEvent{}, fmt.Errorf("ledger: commit: %w", err)
	}
	return ev, nil
}

func (s *PostgresStore) FindByIdempotencyKey(ctx context.Context, orgID, siteID, key string) (GovernanceEvent, error) {
	return scanEvent(dialectPostgres, s.db.QueryRowContext(ctx, pgByKey, orgID, siteID, key))
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]GovernanceEvent, error) {
	q, args := listQuery(dialectPostgres, pgList, pgOrder, f, func(n int) string { return fmt.Sprintf("$%d", n) })
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	return collect(dialectPostgres, rows)
}

func isPQUnique(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation
}
