package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"horse.fit/dronewatch/internal/globaltime"
)

const DefaultMemoryCapacity = 100_000

// MemoryStore is a TTL-bound LRU of hashes. It backs the memory backend and the
// degraded mode of Cache.
type MemoryStore struct {
	mu    sync.Mutex
	cap   int
	ttl   time.Duration
	ll    *list.List
	items map[string]*list.Element
}

type memoryEntry struct {
	hash   string
	seenAt time.Time
}

func NewMemoryStore(capacity int, ttl time.Duration) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	if ttl <= 0 {
		ttl = DefaultRetention
	}
	return &MemoryStore{cap: capacity, ttl: ttl, ll: list.New(), items: make(map[string]*list.Element)}
}

func (m *MemoryStore) Load(_ context.Context, since time.Time) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireLocked(globaltime.Now())
	out := make(map[string]struct{}, len(m.items))
	for hash, el := range m.items {
		if !el.Value.(memoryEntry).seenAt.Before(since) {
			out[hash] = struct{}{}
		}
	}
	return out, nil
}

func (m *MemoryStore) Add(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seenAt := entry.SeenAt
	if seenAt.IsZero() {
		seenAt = globaltime.Now()
	}
	if el, ok := m.items[entry.Hash]; ok {
		el.Value = memoryEntry{hash: entry.Hash, seenAt: seenAt}
		m.ll.MoveToFront(el)
		return nil
	}
	m.items[entry.Hash] = m.ll.PushFront(memoryEntry{hash: entry.Hash, seenAt: seenAt})
	for m.ll.Len() > m.cap {
		m.removeLocked(m.ll.Back())
	}
	m.expireLocked(globaltime.Now())
	return nil
}

func (m *MemoryStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for el := m.ll.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(memoryEntry).seenAt.Before(cutoff) {
			m.removeLocked(el)
			removed++
		}
		el = prev
	}
	return removed, nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ll.Len()
}

// expireLocked drops entries past the TTL from the cold end of the list.
func (m *MemoryStore) expireLocked(now time.Time) {
	for {
		tail := m.ll.Back()
		if tail == nil || now.Sub(tail.Value.(memoryEntry).seenAt) < m.ttl {
			return
		}
		m.removeLocked(tail)
	}
}

func (m *MemoryStore) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	m.ll.Remove(el)
	delete(m.items, el.Value.(memoryEntry).hash)
}
