package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Entry is one journaled fetch: the request line, how many attempts it
// took, and how it ended. Code is empty on success.
type Entry struct {
	ID         string
	Mode       string
	Method     string
	URL        string
	Endpoint   string
	Attempts   int
	Status     int
	Code       string
	Message    string
	StartedAt  int64
	DurationMs int64
}

// Store owns the SQLite journal database.
type Store struct {
	db *sql.DB
}

// Open initializes a SQLite database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Init ensures pragmas and schema are configured.
func (s *Store) Init(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("nil store")
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, stmt := range pragmas {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}
	return s.applySchema(ctx)
}

func (s *Store) applySchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES ('schemaVersion','1');`,
		`CREATE TABLE IF NOT EXISTS fetches (
			id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			method TEXT NOT NULL,
			url TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			status INTEGER NOT NULL DEFAULT 0,
			code TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_fetches_started ON fetches(started_at);`,
		`CREATE INDEX IF NOT EXISTS idx_fetches_code ON fetches(code);`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Record inserts one journal entry.
func (s *Store) Record(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fetches(id, mode, method, url, endpoint, attempts, status, code, message, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, e.ID, e.Mode, e.Method, e.URL, e.Endpoint, e.Attempts, e.Status, e.Code, e.Message, e.StartedAt, e.DurationMs)
	if err != nil {
		return fmt.Errorf("record fetch %s: %w", e.ID, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mode, method, url, endpoint, attempts, status, code, message, started_at, duration_ms
		FROM fetches
		ORDER BY started_at DESC, id DESC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Mode, &e.Method, &e.URL, &e.Endpoint, &e.Attempts, &e.Status, &e.Code, &e.Message, &e.StartedAt, &e.DurationMs); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountByCode summarizes outcomes; the empty code counts successes.
func (s *Store) CountByCode(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, COUNT(*) FROM fetches GROUP BY code;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var code string
		var n int
		if err := rows.Scan(&code, &n); err != nil {
			return nil, err
		}
		counts[code] = n
	}
	return counts, rows.Err()
}
