package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/flowq/pkg/persistence"
	"github.com/dukex/flowq/pkg/persistence/memory"
	"github.com/dukex/flowq/pkg/persistence/postgresql"
)

// NewPersistence builds the persistence layer from a database URL. Postgres
// URLs get the production store; the "memory://" scheme is for local
// development only.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to initialize postgresql persistence: %w", err))
		}

		return store
	case databaseURL == "memory://":
		logger.Warn("Using in-memory persistence; dispatches will not survive restarts")

		return memory.NewPersistence()
	default:
		panic("unsupported database URL: " + databaseURL)
	}
}
