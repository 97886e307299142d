package cache

import (
	"context"
	"slices"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

type generation struct {
	value     int64
	expiresAt time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu          sync.Mutex
	entries     map[string]memoryEntry
	generations map[string]generation
	now         func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries:     make(map[string]memoryEntry),
		generations: make(map[string]generation),
		now:         time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}

	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)

		return nil, ErrCacheMiss
	}

	return slices.Clone(entry.value), nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.set(key, value, ttl)

	return nil
}

func (c *MemoryCache) set(key string, value []byte, ttl time.Duration) {
	entry := memoryEntry{value: slices.Clone(value)}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}

	c.entries[key] = entry
}

func (c *MemoryCache) Generation(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.generation(key), nil
}

func (c *MemoryCache) generation(key string) int64 {
	current, ok := c.generations[key]
	if !ok {
		return 0
	}

	if !c.now().Before(current.expiresAt) {
		delete(c.generations, key)

		return 0
	}

	return current.value
}

func (c *MemoryCache) Bump(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		c.generations[key] = generation{
			value:     c.generation(key) + 1,
			expiresAt: c.now().Add(GenerationTTL),
		}
	}

	return nil
}

func (c *MemoryCache) SetIfGeneration(
	_ context.Context,
	key string,
	want int64,
	value []byte,
	ttl time.Duration,
) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation(key) != want {
		return false, nil
	}

	c.set(key, value, ttl)

	return true, nil
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		delete(c.entries, key)
	}

	return nil
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

func (c *MemoryCache) Close() error {
	return nil
}
