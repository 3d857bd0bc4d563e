// Package inmemory provides a map-backed storage.Driver for tests and
// ephemeral databases.
package inmemory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/papercomputeco/strata/pkg/storage"
)

// Driver implements storage.Driver using an in-memory map.
type Driver struct {
	// mu is a read write sync mutex for locking the mapping of blobs
	mu sync.RWMutex

	// blobs is the in memory map of blob bytes keyed by path
	blobs map[string][]byte
}

// NewDriver creates a new in-memory blob store.
func NewDriver() *Driver {
	return &Driver{
		blobs: make(map[string][]byte),
	}
}

// Put stores a copy of data at path.
func (s *Driver) Put(_ context.Context, path string, data []byte) error {
	if err := storage.CheckPath(path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.blobs[path] = slices.Clone(data)
	return nil
}

// Get retrieves a copy of the blob at path.
func (s *Driver) Get(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[path]
	if !ok {
		return nil, storage.NotFoundError{Path: path}
	}

	return slices.Clone(data), nil
}

// Has checks if a blob exists at path.
func (s *Driver) Has(_ context.Context, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.blobs[path]
	return ok, nil
}

// List returns all paths with the given prefix in sorted order.
func (s *Driver) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := make([]string, 0)
	for p := range s.blobs {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}

	slices.Sort(paths)
	return paths, nil
}

// Delete removes the blob at path.
func (s *Driver) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.blobs, path)
	return nil
}

// Count returns the number of blobs in the in-memory store.
func (s *Driver) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// Close is a no-op for the in-memory store.
func (s *Driver) Close() error {
	return nil
}
