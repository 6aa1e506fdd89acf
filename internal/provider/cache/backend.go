package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Backend is a minimal byte store. Implementations must be safe for
// concurrent use and return exactly the bytes passed to Set.
type Backend interface {
	// Get returns (value, true, nil) on hit and (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value. ttl is a hint; backends may keep the value longer
	// since Store checks expiry itself.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Del removes key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error
	Close(ctx context.Context) error
}

// Lister is implemented by backends that can enumerate their keys. Store
// uses it on Invalidate so entries written by other processes sharing the
// backend are cleared too.
type Lister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Memory is the default in-process backend. Nothing is evicted in the
// background; stale values are simply overwritten by the next Set.
type Memory struct {
	mu    sync.RWMutex
	items map[string][]byte
}

var (
	_ Backend = (*Memory)(nil)
	_ Lister  = (*Memory)(nil)
)

func NewMemory() *Memory { return &Memory{items: make(map[string][]byte)} }

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	v, ok := m.items[key]
	m.mu.RUnlock()
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	m.items[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) Del(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0)
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *Memory) Close(context.Context) error { return nil }

// Len returns the number of stored keys, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
