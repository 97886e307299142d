// Package cmd builds the daemon's providers from configuration URLs.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sovereignrag/process/pkg/persistence"
	"github.com/sovereignrag/process/pkg/persistence/memory"
	"github.com/sovereignrag/process/pkg/persistence/postgresql"
)

var supportedPersistenceProviders = []string{"memory", "postgres", "postgresql"}

func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider := parseProvider(databaseURL, supportedPersistenceProviders)

	switch provider {
	case "postgres", "postgresql":
		postgres, err := postgresql.NewPersistence(ctx, logger.With("module", "postgresql"), databaseURL)
		if err != nil {
			return nil, err
		}

		return postgres, nil
	case "memory":
		logger.WarnContext(ctx, "Using in-memory persistence, processes are lost on restart")

		return memory.NewPersistence(), nil
	default:
		return nil, fmt.Errorf("unsupported persistence provider in %q (supported: %s)",
			databaseURL, strings.Join(supportedPersistenceProviders, ", "))
	}
}

func parseProvider(url string, supported []string) string {
	scheme, _, _ := strings.Cut(url, "://")

	for _, provider := range supported {
		if scheme == provider {
			return provider
		}
	}

	return ""
}
