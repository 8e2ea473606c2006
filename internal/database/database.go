// Package database opens the repository.Store selected by configuration.
// The server and the admin CLI share it so both run against the same
// schema.
package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sakif/ebook-storefront/internal/config"
	"github.com/sakif/ebook-storefront/internal/repository"
	"github.com/sakif/ebook-storefront/internal/repository/memory"
	"github.com/sakif/ebook-storefront/internal/repository/postgres"
	"github.com/sakif/ebook-storefront/internal/repository/sqlite"
)

// Open connects to the configured driver and brings its schema up to date.
func Open(ctx context.Context, cfg config.Database) (repository.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		if cfg.SQLitePath != ":memory:" {
			// 0755 = owner can read/write/execute, others can read/execute.
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0755); err != nil {
				return nil, fmt.Errorf("database: creating data dir: %w", err)
			}
		}
		return sqlite.New(cfg.SQLitePath)

	case "postgres":
		db, err := postgres.Open(ctx, cfg.DSN, cfg.MaxConns)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil

	case "memory":
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("database: unsupported driver %q", cfg.Driver)
	}
}
