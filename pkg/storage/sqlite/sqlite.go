// Package sqlite provides a SQLite-backed storage driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3" // registers "sqlite3" (cgo)
	_ "modernc.org/sqlite"          // registers "sqlite" (pure Go)

	"github.com/papercomputeco/strata/pkg/storage"
)

const (
	// DriverCGO selects github.com/mattn/go-sqlite3.
	DriverCGO = "sqlite3"

	// DriverPure selects modernc.org/sqlite.
	DriverPure = "sqlite"
)

// Driver implements storage.Driver using a single SQLite table.
type Driver struct {
	db *sql.DB
}

// Config holds configuration for the SQLite blob store.
type Config struct {
	// DBPath is a file path or ":memory:" for an in-memory database.
	DBPath string

	// SQLDriver is DriverCGO or DriverPure. Defaults to DriverPure.
	SQLDriver string
}

// NewDriver opens (and migrates) a SQLite blob store.
func NewDriver(ctx context.Context, c Config) (*Driver, error) {
	if c.DBPath == "" {
		return nil, errors.New("database path is required")
	}

	name := c.SQLDriver
	if name == "" {
		name = DriverPure
	}
	if name != DriverCGO && name != DriverPure {
		return nil, fmt.Errorf("unsupported sqlite driver: %s", name)
	}

	db, err := sql.Open(name, c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent and serializes
	// writers the way SQLite expects.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS blobs (
			path TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Driver{db: db}, nil
}

// Put upserts the blob at path.
func (d *Driver) Put(ctx context.Context, path string, data []byte) error {
	if err := storage.CheckPath(path); err != nil {
		return err
	}
	if data == nil {
		data = []byte{}
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO blobs(path, data, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(path) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP
	`, path, data)
	if err != nil {
		return fmt.Errorf("storing blob %s: %w", path, err)
	}

	return nil
}

// Get retrieves the blob at path.
func (d *Driver) Get(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := d.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE path = ?`, path).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.NotFoundError{Path: path}
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", path, err)
	}

	return data, nil
}

// Has checks if a blob exists at path.
func (d *Driver) Has(ctx context.Context, path string) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM blobs WHERE path = ?`, path).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking blob %s: %w", path, err)
	}

	return n > 0, nil
}

// List returns all paths starting with prefix, sorted.
func (d *Driver) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT path FROM blobs WHERE substr(path, 1, ?) = ? ORDER BY path`,
		len(prefix), prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("listing blobs: %w", err)
	}
	defer rows.Close()

	paths := make([]string, 0)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning blob path: %w", err)
		}
		// substr counts characters; confirm on bytes
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}

	return paths, rows.Err()
}

// Delete removes the blob at path.
func (d *Driver) Delete(ctx context.Context, path string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM blobs WHERE path = ?`, path); err != nil {
		return fmt.Errorf("deleting blob %s: %w", path, err)
	}
	return nil
}

// Close closes the database.
func (d *Driver) Close() error {
	return d.db.Close()
}
