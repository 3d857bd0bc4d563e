// Package storage is the blob store collaborator: a flat, path-keyed byte
// store with prefix listing.
//
// The node tree persists one JSON record per node and one content-addressed
// blob per tier text through a Driver; sessions persist their records the
// same way. Backends are pluggable: in-memory, local disk, SQLite and
// PostgreSQL.
package storage

import (
	"context"
	"strings"
)

// Driver defines the interface for persisting and retrieving blobs.
type Driver interface {
	// Put stores data at path, replacing any existing blob.
	Put(ctx context.Context, path string, data []byte) error

	// Get retrieves the blob at path. Returns NotFoundError when absent.
	Get(ctx context.Context, path string) ([]byte, error)

	// Has reports whether a blob exists at path.
	Has(ctx context.Context, path string) (bool, error)

	// List returns every stored path beginning with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the blob at path. Deleting a missing path is not an error.
	Delete(ctx context.Context, path string) error

	// Close releases any resources held by the driver.
	Close() error
}

// ValidPath rejects empty paths and paths that could escape a backend's
// namespace (absolute paths or ".." segments).
func ValidPath(path string) bool {
	if path == "" || strings.HasPrefix(path, "/") {
		return false
	}

	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}

	return true
}
