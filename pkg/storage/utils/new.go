package storageutils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/papercomputeco/strata/pkg/storage"
	"github.com/papercomputeco/strata/pkg/storage/inmemory"
	"github.com/papercomputeco/strata/pkg/storage/local"
	"github.com/papercomputeco/strata/pkg/storage/postgres"
	"github.com/papercomputeco/strata/pkg/storage/sqlite"
)

// NewDriverOpts selects and configures a blob store backend.
type NewDriverOpts struct {
	// Backend is one of "memory", "local", "sqlite", "postgres".
	Backend string

	// Path is the root directory for "local" or the database file for "sqlite".
	Path string

	// SQLDriver picks the sqlite driver: "sqlite" (pure Go) or "sqlite3" (cgo).
	SQLDriver string

	// DSN is the PostgreSQL connection string.
	DSN string
}

// NewDriver constructs the storage.Driver named by o.Backend.
func NewDriver(ctx context.Context, o NewDriverOpts) (storage.Driver, error) {
	switch o.Backend {
	case "", "memory":
		return inmemory.NewDriver(), nil
	case "local":
		return local.NewDriver(o.Path)
	case "sqlite":
		path := o.Path
		if path == "" {
			path = ":memory:"
		} else if filepath.Ext(path) == "" {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return nil, fmt.Errorf("creating sqlite directory: %w", err)
			}
			path = filepath.Join(path, "strata.db")
		}
		return sqlite.NewDriver(ctx, sqlite.Config{DBPath: path, SQLDriver: o.SQLDriver})
	case "postgres":
		if o.DSN == "" {
			return nil, fmt.Errorf("postgres storage requires a dsn")
		}
		return postgres.NewDriver(ctx, o.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", o.Backend)
	}
}
