// Package embeddings defines the embedding collaborator.
package embeddings

import (
	"context"
	"errors"
)

// ErrEmbedding is wrapped by every embedding failure.
var ErrEmbedding = errors.New("embedding failed")

// Embedder provides text embedding capabilities.
type Embedder interface {
	// Embed converts text into a fixed-length vector embedding. Failures are
	// returned as *errs.ProviderError.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Close releases any resources held by the embedder.
	Close() error
}
