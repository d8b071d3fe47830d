package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"horse.fit/dronewatch/internal/cache"
)

// CacheStore is the postgres-backed cache.Store.
type CacheStore struct {
	pool *Pool
}

func NewCacheStore(pool *Pool) *CacheStore {
	return &CacheStore{pool: pool}
}

func (s *CacheStore) Load(ctx context.Context, since time.Time) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT content_hash FROM dronewatch.dedup_cache WHERE seen_at >= $1`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: query cache: %v", cache.ErrUnavailable, err)
	}
	defer rows.Close()

	out := map[string]struct{}{}
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("%w: scan cache row: %v", cache.ErrUnavailable, err)
		}
		out[hash] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate cache rows: %v", cache.ErrUnavailable, err)
	}
	return out, nil
}

func (s *CacheStore) Add(ctx context.Context, entry cache.Entry) error {
	const q = `
INSERT INTO dronewatch.dedup_cache (content_hash, title, occurred_at, source_name, seen_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (content_hash)
DO UPDATE SET seen_at = EXCLUDED.seen_at
`
	var occurredAt *time.Time
	if !entry.OccurredAt.IsZero() {
		utc := entry.OccurredAt.UTC()
		occurredAt = &utc
	}
	if _, err := s.pool.Exec(ctx, q, strings.TrimSpace(entry.Hash), entry.Title, occurredAt, entry.SourceName, entry.SeenAt.UTC()); err != nil {
		return fmt.Errorf("%w: upsert cache entry: %v", cache.ErrUnavailable, err)
	}
	return nil
}

func (s *CacheStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dronewatch.dedup_cache WHERE seen_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: prune cache: %v", cache.ErrUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *CacheStore) Close() error { return nil }
