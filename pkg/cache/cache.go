// Package cache provides a read-through process cache that stays coherent with writes.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when the key holds no live entry.
var ErrCacheMiss = errors.New("cache miss")

// GenerationTTL bounds how long a write generation is remembered. A read
// that takes longer than this may fill the cache with a snapshot older than
// the last write.
const GenerationTTL = time.Hour

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error

	// Generation returns the write generation of key, zero when none is recorded.
	Generation(ctx context.Context, key string) (int64, error)
	// Bump advances the write generation of every key.
	Bump(ctx context.Context, keys ...string) error
	// SetIfGeneration stores value only while the generation of key still
	// equals generation. Check and store are atomic with respect to Bump.
	SetIfGeneration(ctx context.Context, key string, generation int64, value []byte, ttl time.Duration) (bool, error)

	Close() error
}
