// Package cmd holds shared wiring helpers for the engine binaries.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/driprun/driprun/pkg/persistence"
	"github.com/driprun/driprun/pkg/persistence/memory"
	"github.com/driprun/driprun/pkg/persistence/postgresql"
)

// NewPersistence creates a persistence backend from the database URL scheme.
// postgres:// and postgresql:// select PostgreSQL, memory:// the in-memory
// store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parsePersistenceProvider(databaseURL) {
	case "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(err)
		}

		return p
	case "memory":
		return memory.NewPersistence()
	default:
		panic("unsupported database URL: " + databaseURL)
	}
}

func parsePersistenceProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return ""
	}

	if scheme == "postgres" {
		return "postgresql"
	}

	return scheme
}
