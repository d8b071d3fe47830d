// Package cache remembers which reports (a content hash seen from one source) were
// already processed so repeated scrapes are skipped before any storage or oracle work.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks a store failure. The Cache never surfaces it from Load or Add;
// it switches to the in-memory fallback instead.
var ErrUnavailable = errors.New("cache store unavailable")

const DefaultRetention = 30 * 24 * time.Hour

type Entry struct {
	Hash       string
	Title      string
	OccurredAt time.Time
	SourceName string
	SeenAt     time.Time
}

// Store persists processed report keys. Add is an idempotent upsert that refreshes SeenAt.
type Store interface {
	Load(ctx context.Context, since time.Time) (map[string]struct{}, error)
	Add(ctx context.Context, entry Entry) error
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}
