package vector

import "errors"

var (
	// ErrDimensions is returned when an embedding does not match the store's
	// configured dimensions.
	ErrDimensions = errors.New("embedding dimension mismatch")

	// ErrConnection is returned when the vector store connection fails.
	ErrConnection = errors.New("vector store connection failed")
)
