// Package inmemory provides a brute-force in-process vector driver.
package inmemory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/papercomputeco/strata/pkg/vector"
)

// Driver implements vector.VectorDriver over a map, scoring every stored
// document on each query.
type Driver struct {
	mu   sync.RWMutex
	docs map[string]vector.Document
}

// NewDriver creates an empty in-memory vector driver.
func NewDriver() *Driver {
	return &Driver{docs: make(map[string]vector.Document)}
}

func (d *Driver) Upsert(_ context.Context, docs []vector.Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, doc := range docs {
		doc.Embedding = slices.Clone(doc.Embedding)
		doc.Ancestors = slices.Clone(doc.Ancestors)
		d.docs[doc.Key] = doc
	}
	return nil
}

func (d *Driver) Query(ctx context.Context, embedding []float32, topK int, filter *vector.Filter) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	d.mu.RLock()
	results := make([]vector.QueryResult, 0, len(d.docs))
	for _, doc := range d.docs {
		if !filter.Match(doc) {
			continue
		}
		results = append(results, vector.QueryResult{
			Document: doc,
			Score:    vector.Cosine(embedding, doc.Embedding),
		})
	}
	d.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Key < results[j].Key
	})
	if len(results) > topK {
		results = results[:topK]
	}

	return results, nil
}

func (d *Driver) Get(_ context.Context, keys []string) ([]vector.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]vector.Document, 0, len(keys))
	for _, k := range keys {
		if doc, ok := d.docs[k]; ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (d *Driver) Delete(_ context.Context, keys []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, k := range keys {
		delete(d.docs, k)
	}
	return nil
}

func (d *Driver) DeleteByURI(_ context.Context, uris []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for k, doc := range d.docs {
		if slices.Contains(uris, doc.URI) {
			delete(d.docs, k)
		}
	}
	return nil
}

// Len returns the number of stored documents.
func (d *Driver) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.docs)
}

func (d *Driver) Close() error {
	return nil
}
