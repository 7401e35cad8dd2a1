package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite journal of liquidation attempts. The journal is an
// audit trail only; nothing reads it back to rebuild agent state.
type Store struct {
	db *sql.DB
}

// Open initializes a SQLite database and runs minimal schema setup.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("db path required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

func configure(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema := `
CREATE TABLE IF NOT EXISTS attempts (
  id             INTEGER PRIMARY KEY AUTOINCREMENT,
  strategy       TEXT NOT NULL,
  outcome        TEXT NOT NULL,
  reason         TEXT,
  tx_hash        TEXT,
  primary_error  TEXT,
  targets_json   TEXT NOT NULL,
  created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS attempts_created_at ON attempts (created_at);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Attempt is one journaled liquidation attempt.
type Attempt struct {
	ID           int64     `json:"id"`
	Strategy     string    `json:"strategy"`
	Outcome      string    `json:"outcome"`
	Reason       string    `json:"reason,omitempty"`
	TxHash       string    `json:"tx_hash,omitempty"`
	PrimaryError string    `json:"primary_error,omitempty"`
	Targets      []string  `json:"targets"`
	CreatedAt    time.Time `json:"created_at"`
}

// InsertAttempt appends an attempt and returns its row id.
func (s *Store) InsertAttempt(ctx context.Context, a Attempt) (int64, error) {
	if a.Strategy == "" || a.Outcome == "" {
		return 0, errors.New("strategy and outcome required")
	}
	targets := a.Targets
	if targets == nil {
		targets = []string{}
	}
	raw, err := json.Marshal(targets)
	if err != nil {
		return 0, fmt.Errorf("encode targets: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO attempts (strategy, outcome, reason, tx_hash, primary_error, targets_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP));
`, a.Strategy, a.Outcome, a.Reason, a.TxHash, a.PrimaryError, string(raw), nullTime(a.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert attempt: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("attempt id: %w", err)
	}
	return id, nil
}

// RecentAttempts returns up to limit attempts, newest first. A limit of zero
// or less returns the whole journal.
func (s *Store) RecentAttempts(ctx context.Context, limit int) ([]Attempt, error) {
	query := `
SELECT id, strategy, outcome, COALESCE(reason, ''), COALESCE(tx_hash, ''),
       COALESCE(primary_error, ''), targets_json, created_at
FROM attempts ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query+";", args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	out := []Attempt{}
	for rows.Next() {
		var (
			a   Attempt
			raw string
		)
		if err := rows.Scan(&a.ID, &a.Strategy, &a.Outcome, &a.Reason, &a.TxHash, &a.PrimaryError, &raw, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &a.Targets); err != nil {
			return nil, fmt.Errorf("decode targets for attempt %d: %w", a.ID, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
