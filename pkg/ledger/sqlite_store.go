package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqliteSchema = `
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
	created_at TEXT NOT NULL,
	chain_position INTEGER,
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
	sqliteHead = `SELECT chain_position, payload_hash FROM governance_events
		WHERE org_id = ? AND chain_position IS NOT NULL
		ORDER BY chain_position DESC LIMIT 1`
	sqliteInsert = `INSERT INTO governance_events (` + eventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqliteByKey = `SELECT ` + eventColumns + ` FROM governance_events
		WHERE org_id = ? AND site_id = ? AND idempotency_key = ?`
	sqliteList  = `SELECT ` + eventColumns + ` FROM governance_events`
	sqliteOrder = `ORDER BY chain_position ASC, created_at ASC`
)

// SQLiteStore is the lite-mode store backed by modernc.org/sqlite. SQLite
// allows one writer at a time; the mutex keeps Append from hitting
// SQLITE_BUSY within this process.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral store.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open sqlite: %w", err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	s := NewSQLiteStore(db)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("ledger: sqlite schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Append(ctx context.Context, orgID string, seal SealFunc) (GovernanceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return GovernanceEvent{}, fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	head, err := readHead(ctx, tx, sqliteHead, orgID)
	if err != nil {
		return GovernanceEvent{}, err
	}
	ev, err := seal(head)
	if err != nil {
		return GovernanceEvent{}, err
	}
	args, err := insertArgs(dialectSQLite, ev)
	if err != nil {
		return GovernanceEvent{}, err
	}
	if _, err := tx.ExecContext(ctx, sqliteInsert, args...); err != nil {
		if isSQLiteUnique(err) {
			return GovernanceEvent{}, fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
		return GovernanceEvent{}, fmt.Errorf("ledger: insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return GovernanceEvent{}, fmt.Errorf("ledger: commit: %w", err)
	}
	return ev, nil
}

func (s *SQLiteStore) FindByIdempotencyKey(ctx context.Context, orgID, siteID, key string) (GovernanceEvent, error) {
	return scanEvent(dialectSQLite, s.db.QueryRowContext(ctx, sqliteByKey, orgID, siteID, key))
}

func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]GovernanceEvent, error) {
	q, args := listQuery(dialectSQLite, sqliteList, sqliteOrder, f, func(int) string { return "?" })
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	return collect(dialectSQLite, rows)
}

// Import inserts rows verbatim. It is used to load history written before
// chaining existed.
func (s *SQLiteStore) Import(ctx context.Context, rows ...GovernanceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range rows {
		args, err := insertArgs(dialectSQLite, ev)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, sqliteInsert, args...); err != nil {
			return fmt.Errorf("ledger: import %s: %w", ev.ID, err)
		}
	}
	return nil
}

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(se.Error(), "UNIQUE")
		}
	}
	return false
}
