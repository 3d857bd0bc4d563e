// Package vector provides interfaces and implementations for vector storage
// of node tier embeddings.
package vector

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"github.com/papercomputeco/strata/pkg/uri"
)

// Level names stored on documents. Tier levels reuse the tree names; Aggregate
// marks a directory's representative centroid.
const (
	LevelL0        = "L0"
	LevelL1        = "L1"
	LevelL2        = "L2"
	LevelAggregate = "agg"
)

// Document represents a stored vector with its payload.
type Document struct {
	// Key is the unique identifier: "{uri}#{level}" or "{uri}#L2/{chunk}".
	Key string

	// URI of the node this vector belongs to.
	URI string

	// Level is one of LevelL0, LevelL1, LevelL2 or LevelAggregate.
	Level string

	// Chunk is the L2 chunk index, zero for other levels.
	Chunk int

	// Hash is the content hash of the embedded text. Re-embedding is skipped
	// while it matches the current tier hash.
	Hash string

	// Embedding is the vector representation of the text.
	Embedding []float32

	// Ancestors holds every ancestor URI of URI, root first. Scope filters
	// match against it.
	Ancestors []string
}

// Key builds the vector key of a node tier.
func Key(u, level string) string {
	return u + "#" + level
}

// ChunkKey builds the vector key of an L2 chunk.
func ChunkKey(u string, chunk int) string {
	return u + "#" + LevelL2 + "/" + strconv.Itoa(chunk)
}

// SplitKey returns the URI and level part of a key.
func SplitKey(key string) (string, string) {
	idx := strings.LastIndex(key, "#")
	if idx < 0 {
		return key, ""
	}
	return key[:idx], key[idx+1:]
}

// NewDocument fills in Key and Ancestors for a node vector.
func NewDocument(u, level string, chunk int, hash string, emb []float32) Document {
	key := Key(u, level)
	if level == LevelL2 {
		key = ChunkKey(u, chunk)
	}
	return Document{
		Key:       key,
		URI:       u,
		Level:     level,
		Chunk:     chunk,
		Hash:      hash,
		Embedding: emb,
		Ancestors: uri.Ancestors(u),
	}
}

// Filter narrows a query. Empty fields do not constrain.
type Filter struct {
	// URIs restricts results to these exact node URIs.
	URIs []string

	// Scope restricts results to URIs equal to or beneath it.
	Scope string

	// Levels restricts results to these levels.
	Levels []string
}

// Empty reports whether f constrains nothing.
func (f *Filter) Empty() bool {
	return f == nil || (len(f.URIs) == 0 && (f.Scope == "" || f.Scope == uri.Root) && len(f.Levels) == 0)
}

// Match reports whether doc satisfies f.
func (f *Filter) Match(doc Document) bool {
	if f == nil {
		return true
	}
	if len(f.URIs) > 0 && !slices.Contains(f.URIs, doc.URI) {
		return false
	}
	if len(f.Levels) > 0 && !slices.Contains(f.Levels, doc.Level) {
		return false
	}
	if f.Scope != "" && !uri.Within(doc.URI, f.Scope) {
		return false
	}
	return true
}

// QueryResult represents a search result with similarity score.
type QueryResult struct {
	Document

	// Score is the cosine similarity to the query, in [-1, 1].
	Score float32
}

// VectorDriver handles storage and retrieval of vector embeddings.
type VectorDriver interface {
	// Upsert stores documents. A document with an existing key is replaced.
	Upsert(ctx context.Context, docs []Document) error

	// Query finds the topK most similar documents matching filter.
	// A nil filter matches everything.
	Query(ctx context.Context, embedding []float32, topK int, filter *Filter) ([]QueryResult, error)

	// Get retrieves documents by key. Missing keys are omitted.
	Get(ctx context.Context, keys []string) ([]Document, error)

	// Delete removes documents by key. Missing keys are ignored.
	Delete(ctx context.Context, keys []string) error

	// DeleteByURI removes every document belonging to the given node URIs.
	DeleteByURI(ctx context.Context, uris []string) error

	// Close releases any resources held by the driver.
	Close() error
}
