package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS dedup_cache (
	content_hash TEXT PRIMARY KEY,
	title        TEXT NOT NULL DEFAULT '',
	occurred_at  INTEGER NOT NULL DEFAULT 0,
	source_name  TEXT NOT NULL DEFAULT '',
	seen_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dedup_cache_seen_at ON dedup_cache(seen_at);
`

// SQLiteStore keeps the cache in a local sqlite file for single-host deployments.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	connStr := path
	if path == ":memory:" {
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite cache: %w", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, since time.Time) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT content_hash FROM dedup_cache WHERE seen_at >= ?`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("%w: load: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	out := map[string]struct{}{}
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrUnavailable, err)
		}
		out[hash] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", ErrUnavailable, err)
	}
	return out, nil
}

func (s *SQLiteStore) Add(ctx context.Context, entry Entry) error {
	var occurredAt int64
	if !entry.OccurredAt.IsZero() {
		occurredAt = entry.OccurredAt.Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dedup_cache (content_hash, title, occurred_at, source_name, seen_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET seen_at = excluded.seen_at`,
		entry.Hash, entry.Title, occurredAt, entry.SourceName, entry.SeenAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("%w: add: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dedup_cache WHERE seen_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("%w: cleanup: %v", ErrUnavailable, err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
