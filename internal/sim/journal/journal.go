// Package journal persists the outcome of every intent the authority applies
// in a SQLite database.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS intents (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT    NOT NULL,
	kind        TEXT    NOT NULL,
	entity      TEXT    NOT NULL,
	origin      TEXT    NOT NULL DEFAULT '',
	committed   INTEGER NOT NULL,
	message     TEXT    NOT NULL DEFAULT '',
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS intents_entity ON intents(entity);
`

// Entry is one journaled intent outcome.
type Entry struct {
	IntentID   string
	Kind       string
	Entity     string
	Origin     string
	Committed  bool
	Message    string
	RecordedAt time.Time
}

// Store persists journal entries in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens (or creates) the journal at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer; avoids SQLITE_BUSY between pooled connections.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Record appends e. A zero RecordedAt is stamped with the current time.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("journal is not configured")
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = s.now()
	}
	committed := 0
	if e.Committed {
		committed = 1
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO intents (id, kind, entity, origin, committed, message, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.IntentID, e.Kind, e.Entity, e.Origin, committed, e.Message, toMillis(e.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return s.query(ctx,
		`SELECT id, kind, entity, origin, committed, message, recorded_at FROM intents ORDER BY seq DESC LIMIT ?`,
		normalizeLimit(limit))
}

// ForEntity returns up to limit entries touching entity, newest first.
func (s *Store) ForEntity(ctx context.Context, entity string, limit int) ([]Entry, error) {
	return s.query(ctx,
		`SELECT id, kind, entity, origin, committed, message, recorded_at FROM intents WHERE entity = ? ORDER BY seq DESC LIMIT ?`,
		entity, normalizeLimit(limit))
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("journal is not configured")
	}
	rows, err := s.sqlDB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			committed int
			at        int64
		)
		if err := rows.Scan(&e.IntentID, &e.Kind, &e.Entity, &e.Origin, &committed, &e.Message, &at); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Committed = committed != 0
		e.RecordedAt = fromMillis(at)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return out, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
