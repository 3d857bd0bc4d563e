// Package index embeds ready node tiers into the vector store and keeps
// directory aggregate vectors up to date.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/papercomputeco/strata/pkg/embeddings"
	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/logger"
	"github.com/papercomputeco/strata/pkg/merkle"
	"github.com/papercomputeco/strata/pkg/tree"
	"github.com/papercomputeco/strata/pkg/vector"
)

const (
	defaultChunkSize = 2000
	probeBatch       = 16
	conflictRetries  = 5
)

// Config tunes indexing.
type Config struct {
	// ChunkSize bounds L2 chunks in bytes. Defaults to 2000.
	ChunkSize int
}

// Indexer maintains tier and aggregate vectors.
type Indexer struct {
	tree     *tree.Tree
	embedder embeddings.Embedder
	vectors  vector.VectorDriver
	cfg      Config
	logger   *slog.Logger
}

// New creates an Indexer.
func New(t *tree.Tree, e embeddings.Embedder, v vector.VectorDriver, cfg Config, log *slog.Logger) *Indexer {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	return &Indexer{
		tree:     t,
		embedder: e,
		vectors:  v,
		cfg:      cfg,
		logger:   logger.Component(log, "index"),
	}
}

// Vectors is the underlying vector store.
func (ix *Indexer) Vectors() vector.VectorDriver {
	return ix.vectors
}

// Embedder is the embedding provider used for tiers and queries.
func (ix *Indexer) Embedder() embeddings.Embedder {
	return ix.embedder
}

type pending struct {
	doc  vector.Document
	text string
}

// Index embeds every usable tier of u: the overview and abstract and, for
// leaves, each detail chunk. Tiers whose stored hash is current are skipped.
// It reports the number of vectors written.
func (ix *Indexer) Index(ctx context.Context, u string) (int, error) {
	n, err := ix.tree.Resolve(u)
	if err != nil {
		return 0, err
	}

	var want []pending
	for _, level := range []tree.Level{tree.L1, tree.L0} {
		ts := n.Tier(level)
		if !ts.Status.Usable() {
			continue
		}
		text, err := ix.tree.ReadTier(ctx, n, level)
		if err != nil {
			return 0, err
		}
		want = append(want, pending{
			doc:  vector.NewDocument(n.URI, string(level), 0, ts.Hash, nil),
			text: text,
		})
	}

	chunks := 0
	if !n.IsDir() && n.Detail.Status.Usable() {
		text, err := ix.tree.ReadTier(ctx, n, tree.L2)
		if err != nil {
			return 0, err
		}
		parts := Chunks(text, ix.cfg.ChunkSize)
		chunks = len(parts)
		for i, part := range parts {
			want = append(want, pending{
				doc:  vector.NewDocument(n.URI, vector.LevelL2, i, chunkHash(n.Detail.Hash, i), nil),
				text: part,
			})
		}
	}

	keys := make([]string, len(want))
	for i, p := range want {
		keys[i] = p.doc.Key
	}
	existing, err := ix.vectors.Get(ctx, keys)
	if err != nil {
		return 0, errs.Provider("vector", "get", err)
	}
	current := make(map[string]string, len(existing))
	for _, doc := range existing {
		current[doc.Key] = doc.Hash
	}

	var (
		docs  []vector.Document
		empty []string
	)
	for _, p := range want {
		if current[p.doc.Key] == p.doc.Hash {
			continue
		}
		if p.text == "" {
			empty = append(empty, p.doc.Key)
			continue
		}
		emb, err := ix.embedder.Embed(ctx, p.text)
		if err != nil {
			if !errs.IsProvider(err) && ctx.Err() == nil {
				err = errs.Provider("embedding", "embed", err)
			}
			return 0, err
		}
		p.doc.Embedding = emb
		docs = append(docs, p.doc)
	}

	var stale []string
	if !n.IsDir() {
		if stale, err = ix.staleChunks(ctx, n.URI, chunks); err != nil {
			return 0, err
		}
	}
	if drop := append(stale, empty...); len(drop) > 0 {
		if err := ix.vectors.Delete(ctx, drop); err != nil {
			return 0, errs.Provider("vector", "delete", err)
		}
	}

	if len(docs) > 0 {
		if err := ix.vectors.Upsert(ctx, docs); err != nil {
			return 0, errs.Provider("vector", "upsert", err)
		}
	}

	if err := ix.setRef(ctx, n); err != nil {
		return len(docs), err
	}
	if len(docs) > 0 || len(stale) > 0 {
		if n.Parent != "" {
			ix.tree.MarkVectorDirty(n.Parent)
		}
		ix.logger.Debug("node indexed", "uri", n.URI, "vectors", len(docs), "dropped", len(stale))
	}

	return len(docs), nil
}

// staleChunks finds chunk keys at index from and beyond.
func (ix *Indexer) staleChunks(ctx context.Context, u string, from int) ([]string, error) {
	var stale []string
	for {
		keys := make([]string, probeBatch)
		for i := range keys {
			keys[i] = vector.ChunkKey(u, from+i)
		}
		found, err := ix.vectors.Get(ctx, keys)
		if err != nil {
			return nil, errs.Provider("vector", "get", err)
		}
		for _, doc := range found {
			stale = append(stale, doc.Key)
		}
		if len(found) < probeBatch {
			return stale, nil
		}
		from += probeBatch
	}
}

// setRef points the node at its preferred vector key.
func (ix *Indexer) setRef(ctx context.Context, n *tree.Node) error {
	ref := ""
	switch {
	case n.Overview.Status.Usable():
		ref = vector.Key(n.URI, vector.LevelL1)
	case n.Abstract.Status.Usable():
		ref = vector.Key(n.URI, vector.LevelL0)
	}
	if ref == "" || ref == n.EmbeddingRef {
		return nil
	}

	return tree.RetryOnConflict(ctx, conflictRetries, func() error {
		cur, err := ix.tree.Resolve(n.URI)
		if err != nil {
			return err
		}
		if cur.EmbeddingRef == ref {
			return nil
		}
		_, err = ix.tree.Update(ctx, n.URI, cur.Version, func(n *tree.Node) error {
			n.EmbeddingRef = ref
			return nil
		})
		return err
	})
}

// Representative returns the vector that stands for u when its parent is
// compared or aggregated: the overview, else the abstract, else, for
// directories, the aggregate.
func (ix *Indexer) Representative(ctx context.Context, u string) ([]float32, error) {
	docs, err := ix.vectors.Get(ctx, []string{vector.Key(u, vector.LevelL1), vector.Key(u, vector.LevelL0)})
	if err != nil {
		return nil, errs.Provider("vector", "get", err)
	}
	for _, level := range []string{vector.LevelL1, vector.LevelL0} {
		for _, doc := range docs {
			if doc.Level == level {
				return doc.Embedding, nil
			}
		}
	}

	n, err := ix.tree.Resolve(u)
	if err != nil {
		return nil, err
	}
	if !n.IsDir() {
		return nil, nil
	}
	return ix.Aggregate(ctx, u)
}

// Aggregate returns the directory's centroid vector, recomputing it only
// when a child write flagged it dirty or it was never stored. A directory
// without any indexed descendants has no aggregate.
func (ix *Indexer) Aggregate(ctx context.Context, u string) ([]float32, error) {
	key := vector.Key(u, vector.LevelAggregate)

	dirty := ix.tree.TakeDirtyVector(u)
	if !dirty {
		docs, err := ix.vectors.Get(ctx, []string{key})
		if err != nil {
			return nil, errs.Provider("vector", "get", err)
		}
		if len(docs) == 1 {
			return docs[0].Embedding, nil
		}
	}

	emb, err := ix.aggregate(ctx, u)
	if err != nil {
		ix.tree.MarkVectorDirty(u)
		return nil, fmt.Errorf("aggregating %s: %w", u, err)
	}
	return emb, nil
}

func (ix *Indexer) aggregate(ctx context.Context, u string) ([]float32, error) {
	children, err := ix.tree.List(u, false)
	if err != nil {
		return nil, err
	}

	var (
		vs      [][]float32
		members []string
	)
	for _, c := range children {
		emb, err := ix.Representative(ctx, c.URI)
		if err != nil {
			return nil, err
		}
		if emb == nil {
			continue
		}
		vs = append(vs, emb)
		members = append(members, c.URI)
	}

	key := vector.Key(u, vector.LevelAggregate)
	centroid := vector.Centroid(vs)
	if centroid == nil {
		if err := ix.vectors.Delete(ctx, []string{key}); err != nil {
			return nil, errs.Provider("vector", "delete", err)
		}
		return nil, nil
	}

	doc := vector.NewDocument(u, vector.LevelAggregate, 0, merkle.Digest(members...), centroid)
	if err := ix.vectors.Upsert(ctx, []vector.Document{doc}); err != nil {
		return nil, errs.Provider("vector", "upsert", err)
	}

	ix.logger.Debug("aggregate recomputed", "uri", u, "children", len(vs))
	return centroid, nil
}

// Remove drops every vector of the given nodes and flags their parents.
func (ix *Indexer) Remove(ctx context.Context, uris []string, parents ...string) error {
	if len(uris) == 0 {
		return nil
	}
	if err := ix.vectors.DeleteByURI(ctx, uris); err != nil {
		return errs.Provider("vector", "delete", err)
	}
	for _, p := range parents {
		ix.tree.MarkVectorDirty(p)
	}
	return nil
}

// Current reports whether doc still describes n: its tier is usable and was
// embedded from the text the node holds now.
func Current(n *tree.Node, doc vector.Document) bool {
	switch doc.Level {
	case vector.LevelL0, vector.LevelL1:
		ts := n.Tier(tree.Level(doc.Level))
		return ts.Status.Usable() && ts.Hash == doc.Hash
	case vector.LevelL2:
		return n.Detail.Status.Usable() && chunkHash(n.Detail.Hash, doc.Chunk) == doc.Hash
	case vector.LevelAggregate:
		return n.IsDir()
	}
	return false
}

func chunkHash(detailHash string, i int) string {
	return merkle.Digest(detailHash, strconv.Itoa(i))
}
