// Package storage provides the sanitization result cache and its
// SQLite persistence.
//
// Information Hiding:
// - SQLite connection management hidden behind interface
// - Schema details encapsulated
// - Thread-safe via sql.DB's built-in connection pooling

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SqliteStorage implements CacheStorage using SQLite. Stores completed
// sanitizations in a database file so the cache survives restarts.
// Thread-safe: sql.DB handles connection pooling and concurrent access.
type SqliteStorage struct {
	db *sql.DB
}

// OpenSqlite opens or creates a SQLite database at the given path.
// Creates parent directories if they don't exist.
func OpenSqlite(path string) (*SqliteStorage, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	storage := &SqliteStorage{db: db}
	if err := storage.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
func NewSqliteInMemory() (*SqliteStorage, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}

	storage := &SqliteStorage{db: db}
	if err := storage.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// Close closes the database connection.
func (s *SqliteStorage) Close() error {
	return s.db.Close()
}

func (s *SqliteStorage) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sanitizations (
			fingerprint TEXT PRIMARY KEY,
			label TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			input_bytes INTEGER NOT NULL,
			output TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			accessed_at INTEGER NOT NULL,
			access_count INTEGER DEFAULT 1
		);

		CREATE INDEX IF NOT EXISTS idx_sanitizations_label
		ON sanitizations(label);

		CREATE INDEX IF NOT EXISTS idx_sanitizations_accessed
		ON sanitizations(accessed_at DESC);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// PutEntry stores or replaces an entry.
func (s *SqliteStorage) PutEntry(ctx context.Context, entry Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sanitizations
		(fingerprint, label, provider, model, input_bytes, output, created_at, accessed_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Fingerprint,
		entry.Label,
		entry.Provider,
		entry.Model,
		entry.InputBytes,
		entry.Output,
		entry.CreatedAt.Unix(),
		entry.AccessedAt.Unix(),
		entry.AccessCount,
	)
	if err != nil {
		return fmt.Errorf("failed to store entry: %w", err)
	}
	return nil
}

// LoadEntries loads every stored entry, most recently accessed first.
func (s *SqliteStorage) LoadEntries(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint, label, provider, model, input_bytes, output, created_at, accessed_at, access_count
		FROM sanitizations
		ORDER BY accessed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var createdAt, accessedAt int64
		err := rows.Scan(
			&entry.Fingerprint,
			&entry.Label,
			&entry.Provider,
			&entry.Model,
			&entry.InputBytes,
			&entry.Output,
			&createdAt,
			&accessedAt,
			&entry.AccessCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		entry.CreatedAt = time.Unix(createdAt, 0)
		entry.AccessedAt = time.Unix(accessedAt, 0)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iteration failed: %w", err)
	}

	return entries, nil
}

// TouchEntry updates access timestamp and count for an entry.
func (s *SqliteStorage) TouchEntry(ctx context.Context, fingerprint string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sanitizations SET accessed_at = ?, access_count = access_count + 1 WHERE fingerprint = ?",
		time.Now().Unix(), fingerprint)
	if err != nil {
		return fmt.Errorf("update access failed: %w", err)
	}
	return nil
}

// DeleteEntry removes a specific entry.
func (s *SqliteStorage) DeleteEntry(ctx context.Context, fingerprint string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sanitizations WHERE fingerprint = ?", fingerprint)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return nil
}

// DeleteAll removes every entry.
func (s *SqliteStorage) DeleteAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sanitizations")
	if err != nil {
		return fmt.Errorf("failed to clear entries: %w", err)
	}
	return nil
}

// Verify SqliteStorage implements the storage interface
var _ CacheStorage = (*SqliteStorage)(nil)
