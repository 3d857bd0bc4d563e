// Package local provides a storage.Driver that keeps each blob as a file
// under a root directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/papercomputeco/strata/pkg/storage"
)

const tmpSuffix = ".tmp"

// Driver implements storage.Driver on the local filesystem.
type Driver struct {
	root string
}

// NewDriver creates the root directory if needed and returns a driver for it.
func NewDriver(root string) (*Driver, error) {
	if root == "" {
		return nil, errors.New("local blob store root is required")
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob root %s: %w", root, err)
	}

	return &Driver{root: root}, nil
}

// Root returns the directory backing the store.
func (d *Driver) Root() string {
	return d.root
}

func (d *Driver) file(path string) string {
	return filepath.Join(d.root, filepath.FromSlash(path))
}

// Put writes data to a temp file and renames it into place so readers
// never observe a partial blob.
func (d *Driver) Put(ctx context.Context, path string, data []byte) error {
	if err := storage.CheckPath(path); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	target := d.file(path)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".*"+tmpSuffix)
	if err != nil {
		return fmt.Errorf("creating temp blob: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing blob %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing blob %s: %w", path, err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("renaming blob %s: %w", path, err)
	}

	return nil
}

// Get reads the blob at path.
func (d *Driver) Get(ctx context.Context, path string) ([]byte, error) {
	if err := storage.CheckPath(path); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(d.file(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.NotFoundError{Path: path}
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", path, err)
	}

	return data, nil
}

// Has reports whether a file exists for path.
func (d *Driver) Has(_ context.Context, path string) (bool, error) {
	if !storage.ValidPath(path) {
		return false, nil
	}

	info, err := os.Stat(d.file(path))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return info.Mode().IsRegular(), nil
}

// List walks the root and returns every blob path with prefix.
func (d *Driver) List(ctx context.Context, prefix string) ([]string, error) {
	paths := make([]string, 0)

	err := filepath.WalkDir(d.root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || strings.HasSuffix(p, tmpSuffix) {
			return nil
		}

		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}

		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing blobs: %w", err)
	}

	slices.Sort(paths)
	return paths, nil
}

// Delete removes the file for path.
func (d *Driver) Delete(_ context.Context, path string) error {
	if err := storage.CheckPath(path); err != nil {
		return err
	}

	err := os.Remove(d.file(path))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting blob %s: %w", path, err)
	}

	return nil
}

// Close is a no-op for the local store.
func (d *Driver) Close() error {
	return nil
}
