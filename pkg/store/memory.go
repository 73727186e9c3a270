package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the degraded single-process fallback used when the
// shared store is not configured or unreachable at startup. Its
// guarantees hold within one process only; the coordinator surfaces this
// through its Degraded health flag and it must never be treated as safe
// for multi-instance deployments.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	val       string
	counter   int64
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-process store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

func (m *MemoryStore) live(key string) (memoryItem, bool) {
	item, ok := m.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !item.expiresAt.After(m.now()) {
		delete(m.items, key)
		return memoryItem{}, false
	}
	return item, true
}

// SetNX sets key only if no live value exists
func (m *MemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.items[key] = memoryItem{val: value, expiresAt: m.now().Add(ttl)}
	return true, nil
}

// Set unconditionally writes key
func (m *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[key] = memoryItem{val: value, expiresAt: m.now().Add(ttl)}
	return nil
}

// Get returns the live value for key
func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.live(key)
	if !ok {
		return "", ErrNotFound
	}
	return item.val, nil
}

// Delete removes key
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)
	return nil
}

// CompareAndDelete removes key only while it holds value
func (m *MemoryStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.live(key)
	if !ok || item.val != value {
		return false, nil
	}
	delete(m.items, key)
	return true, nil
}

// IncrBy adds n to the counter at key, creating it with the TTL if absent
func (m *MemoryStore) IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.live(key)
	if !ok {
		item = memoryItem{expiresAt: m.now().Add(ttl)}
	}
	item.counter += n
	m.items[key] = item
	return item.counter, nil
}

// ScanPrefix returns all live keys beginning with prefix
func (m *MemoryStore) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for key := range m.items {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, ok := m.live(key); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// SetClock overrides the time source, for tests
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.now = now
}
