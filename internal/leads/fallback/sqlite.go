package fallback

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const queueFile = "fallback-leads.db"

// SQLiteQueue is the local queue, one file under the fallback directory.
type SQLiteQueue struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the queue in dir. ":memory:" is used by tests.
func OpenSQLite(dir string) (*SQLiteQueue, error) {
	var dsn string
	if dir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating fallback directory: %w", err)
		}
		dsn = filepath.Join(dir, queueFile)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening fallback queue: %w", err)
	}
	// Single connection: ":memory:" databases are per connection and SQLite allows one writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS fallback_leads (
    id TEXT PRIMARY KEY,
    payload TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    saved_at INTEGER NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_fallback_leads_saved_at ON fallback_leads(saved_at);
`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating fallback schema: %w", err)
	}

	return &SQLiteQueue{db: db}, nil
}

// Close closes the underlying database.
func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}

// Save stores an entry. Saving the same lead again bumps its attempt counter.
func (q *SQLiteQueue) Save(ctx context.Context, entry Entry) error {
	if entry.SavedAt.IsZero() {
		entry.SavedAt = time.Now()
	}
	payload, err := encodeLead(entry)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
INSERT INTO fallback_leads (id, payload, reason, saved_at, attempts)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET reason = excluded.reason, attempts = fallback_leads.attempts + 1`,
		entry.Lead.ID.String(), string(payload), entry.Reason, entry.SavedAt.UTC().UnixMilli(), entry.Attempts)
	if err != nil {
		return fmt.Errorf("save fallback lead: %w", err)
	}
	return nil
}

// List returns the oldest entries first. limit <= 0 returns all.
func (q *SQLiteQueue) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT payload, reason, saved_at, attempts FROM fallback_leads ORDER BY saved_at, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list fallback leads: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			payload  string
			reason   string
			savedAt  int64
			attempts int
		)
		if err := rows.Scan(&payload, &reason, &savedAt, &attempts); err != nil {
			return nil, fmt.Errorf("scan fallback lead: %w", err)
		}
		lead, err := decodeLead([]byte(payload))
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{
			Lead:     lead,
			Reason:   reason,
			SavedAt:  time.UnixMilli(savedAt).UTC(),
			Attempts: attempts,
		})
	}
	return entries, rows.Err()
}

// Delete removes an entry. Deleting a missing id is not an error.
func (q *SQLiteQueue) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM fallback_leads WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete fallback lead: %w", err)
	}
	return nil
}
