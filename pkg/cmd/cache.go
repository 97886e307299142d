package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sovereignrag/process/pkg/cache"
)

var supportedCacheProviders = []string{"redis", "rediss", "memory"}

// NewCache returns nil when no cache URL is configured.
func NewCache(ctx context.Context, logger *slog.Logger, cacheURL string) (cache.Cache, error) {
	if cacheURL == "" {
		return nil, nil //nolint:nilnil // no cache configured
	}

	switch parseProvider(cacheURL, supportedCacheProviders) {
	case "redis", "rediss":
		redisCache, err := cache.NewRedisCache(ctx, logger, cacheURL, "processd:")
		if err != nil {
			return nil, err
		}

		return redisCache, nil
	case "memory":
		return cache.NewMemoryCache(), nil
	default:
		return nil, fmt.Errorf("unsupported cache provider in %q", cacheURL)
	}
}
