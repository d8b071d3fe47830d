package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/dronewatch/internal/globaltime"
)

// Cache wraps a Store with degraded-mode fallback and the batch/cleanup gate.
//
// Once the store fails the cache switches to an in-process set for the rest of the
// process lifetime and logs that once. Ingestion never fails because of the cache.
type Cache struct {
	store     Store
	fallback  *MemoryStore
	retention time.Duration
	logger    zerolog.Logger

	// gate is held shared by ingestion batches and exclusively by Cleanup.
	gate sync.RWMutex

	mu       sync.Mutex
	seen     map[string]struct{}
	degraded bool
	logOnce  sync.Once
}

func New(store Store, retention time.Duration, logger zerolog.Logger) *Cache {
	if retention <= 0 {
		retention = DefaultRetention
	}
	fallback := NewMemoryStore(DefaultMemoryCapacity, retention)
	if store == nil {
		store = fallback
	}
	return &Cache{
		store:     store,
		fallback:  fallback,
		retention: retention,
		logger:    logger,
		seen:      map[string]struct{}{},
	}
}

// BeginBatch marks an ingestion batch as active. Cleanup waits until every batch has
// released.
func (c *Cache) BeginBatch() (release func()) {
	c.gate.RLock()
	var once sync.Once
	return func() { once.Do(c.gate.RUnlock) }
}

// Load replaces the in-process view with the hashes seen within the retention window.
// Only context cancellation is returned.
func (c *Cache) Load(ctx context.Context) error {
	since := globaltime.Now().Add(-c.retention)

	hashes, err := c.active().Load(ctx, since)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.degrade(err)
		hashes, _ = c.fallback.Load(ctx, since)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.degraded {
		for hash := range c.seen {
			hashes[hash] = struct{}{}
		}
	}
	c.seen = hashes
	return nil
}

func (c *Cache) Contains(hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seen[hash]
	return ok
}

// Add records hash as processed. Re-adding a hash only refreshes its timestamp.
func (c *Cache) Add(ctx context.Context, hash, title string, occurredAt time.Time, sourceName string) error {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil
	}
	c.mu.Lock()
	c.seen[hash] = struct{}{}
	c.mu.Unlock()

	entry := Entry{Hash: hash, Title: title, OccurredAt: occurredAt, SourceName: sourceName, SeenAt: globaltime.Now()}
	if err := c.active().Add(ctx, entry); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.degrade(err)
		return c.fallback.Add(ctx, entry)
	}
	return nil
}

// Cleanup prunes entries older than the retention window. It blocks while any batch is
// active. Store errors are returned here since nothing in ingestion depends on them.
func (c *Cache) Cleanup(ctx context.Context) (int64, error) {
	c.gate.Lock()
	defer c.gate.Unlock()

	cutoff := globaltime.Now().Add(-c.retention)
	removed, err := c.active().DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	if c.degraded {
		c.seen, _ = c.fallback.Load(ctx, cutoff)
	}
	c.mu.Unlock()
	return removed, nil
}

func (c *Cache) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) Close() error {
	if c.store == Store(c.fallback) {
		return nil
	}
	return c.store.Close()
}

func (c *Cache) active() Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.degraded {
		return c.fallback
	}
	return c.store
}

func (c *Cache) degrade(cause error) {
	c.mu.Lock()
	if !c.degraded {
		c.degraded = true
		now := globaltime.Now()
		for hash := range c.seen {
			_ = c.fallback.Add(context.Background(), Entry{Hash: hash, SeenAt: now})
		}
	}
	c.mu.Unlock()

	c.logOnce.Do(func() {
		c.logger.Warn().Err(cause).Msg("cache store unavailable, continuing with in-memory cache")
	})
}
