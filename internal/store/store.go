// Package store persists finished transcriptions in an embedded SQLite
// database so past sessions survive restarts. With an empty path the store
// runs disabled and every call is a cheap no-op.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one persisted transcription result.
type Record struct {
	SessionID     string    `json:"session_id"`
	Sequence      uint64    `json:"sequence"`
	Text          string    `json:"text"`
	Confidence    float32   `json:"confidence"`
	LowConfidence bool      `json:"low_confidence,omitempty"`
	Failed        bool      `json:"failed,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store writes transcription records to SQLite. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS transcriptions (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id     TEXT NOT NULL,
	sequence       INTEGER NOT NULL,
	text           TEXT NOT NULL,
	confidence     REAL NOT NULL,
	low_confidence INTEGER NOT NULL DEFAULT 0,
	failed         INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcriptions_session
	ON transcriptions(session_id, sequence);
`

// New opens (or creates) the database at path. An empty path returns a
// disabled store.
func New(path string) (*Store, error) {
	if path == "" {
		return &Store{}, nil
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Enabled reports whether records are being persisted.
func (s *Store) Enabled() bool {
	return s.db != nil
}

// Append persists one record. No-op when the store is disabled.
func (s *Store) Append(ctx context.Context, rec Record) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcriptions
			(session_id, sequence, text, confidence, low_confidence, failed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Sequence, rec.Text, rec.Confidence,
		boolInt(rec.LowConfidence), boolInt(rec.Failed),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

// ListSession returns a session's records in sequence order, at most limit
// of them when limit is positive. Returns an empty slice when the store is
// disabled or the session is unknown.
func (s *Store) ListSession(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	if s.db == nil {
		return nil, nil
	}
	query := `SELECT session_id, sequence, text, confidence, low_confidence, failed, created_at
		 FROM transcriptions WHERE session_id = ? ORDER BY sequence`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var low, failed int
		var created string
		if err := rows.Scan(&rec.SessionID, &rec.Sequence, &rec.Text,
			&rec.Confidence, &low, &failed, &created); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.LowConfidence = low != 0
		rec.Failed = failed != 0
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
