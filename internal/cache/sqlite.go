package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS model_responses (
	template   TEXT NOT NULL,
	input_hash TEXT NOT NULL,
	response   TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (template, input_hash)
)`

// SQLite is a Store persisted in a SQLite database file, so responses
// survive across runs.
type SQLite struct {
	db   *sql.DB
	path string
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if necessary) the cache database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("cache: sqlite path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cache: create directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("cache: apply pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache: create schema: %w", err)
	}

	return &SQLite{db: db, path: path}, nil
}

// Ping verifies the database file is still usable.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLite) Path() string { return s.path }

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, key Key) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT response FROM model_responses WHERE template = ? AND input_hash = ?`,
		key.Template, key.InputHash,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	return v, true, nil
}

// Put implements Store.
func (s *SQLite) Put(ctx context.Context, key Key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO model_responses (template, input_hash, response, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (template, input_hash) DO UPDATE SET response = excluded.response, created_at = excluded.created_at`,
		key.Template, key.InputHash, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("cache: put %s: %w", key, err)
	}
	return nil
}

// Clear implements Store.
func (s *SQLite) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM model_responses`); err != nil {
		return fmt.Errorf("cache: clear: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
