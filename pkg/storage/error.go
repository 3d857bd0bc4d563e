package storage

import (
	"errors"
	"fmt"
)

// ErrInvalidPath is returned when a blob path is empty or escapes the store.
var ErrInvalidPath = errors.New("invalid blob path")

// NotFoundError is returned when a blob doesn't exist in the store.
type NotFoundError struct {
	Path string
}

func (e NotFoundError) Error() string {
	if e.Path == "" {
		return "blob not found"
	}

	return "blob not found: " + e.Path
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

func invalidPath(path string) error {
	return fmt.Errorf("%w: %q", ErrInvalidPath, path)
}

// CheckPath returns ErrInvalidPath when path fails ValidPath.
func CheckPath(path string) error {
	if !ValidPath(path) {
		return invalidPath(path)
	}
	return nil
}
