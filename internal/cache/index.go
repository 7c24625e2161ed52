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

// Entry is one cached file.
type Entry struct {
	Key        string
	FileID     string
	Path       string
	Size       int64
	CreatedAt  time.Time
	LastAccess time.Time
}

// index records cached files in SQLite.
type index struct {
	db *sql.DB
}

func openIndex(dbPath string) (*index, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("cannot create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open cache index: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	const schema = `
	CREATE TABLE IF NOT EXISTS cache_entries (
		key         TEXT PRIMARY KEY,
		file_id     TEXT NOT NULL,
		path        TEXT NOT NULL,
		size        INTEGER NOT NULL DEFAULT 0,
		created_at  INTEGER NOT NULL,
		last_access INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cache_last_access ON cache_entries(last_access);`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache index migration failed: %w", err)
	}
	return &index{db: db}, nil
}

func (ix *index) close() error { return ix.db.Close() }

func (ix *index) get(ctx context.Context, key string) (*Entry, error) {
	row := ix.db.QueryRowContext(ctx,
		`SELECT key, file_id, path, size, created_at, last_access FROM cache_entries WHERE key = ?`, key)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (ix *index) upsert(ctx context.Context, e Entry) error {
	_, err := ix.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, file_id, path, size, created_at, last_access)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			file_id = excluded.file_id,
			path = excluded.path,
			size = excluded.size,
			last_access = excluded.last_access`,
		e.Key, e.FileID, e.Path, e.Size, e.CreatedAt.Unix(), e.LastAccess.Unix())
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

func (ix *index) touch(ctx context.Context, key string, at time.Time) error {
	_, err := ix.db.ExecContext(ctx, `UPDATE cache_entries SET last_access = ? WHERE key = ?`, at.Unix(), key)
	return err
}

func (ix *index) remove(ctx context.Context, key string) error {
	_, err := ix.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	return err
}

// list returns entries least recently used first.
func (ix *index) list(ctx context.Context) ([]Entry, error) {
	rows, err := ix.db.QueryContext(ctx,
		`SELECT key, file_id, path, size, created_at, last_access FROM cache_entries ORDER BY last_access ASC, key ASC`)
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var e Entry
	var created, accessed int64
	if err := s.Scan(&e.Key, &e.FileID, &e.Path, &e.Size, &created, &accessed); err != nil {
		return nil, err
	}
	e.CreatedAt = time.Unix(created, 0)
	e.LastAccess = time.Unix(accessed, 0)
	return &e, nil
}
