package contextdb

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/ingest"
	"github.com/papercomputeco/strata/pkg/retrieve"
	"github.com/papercomputeco/strata/pkg/tree"
	"github.com/papercomputeco/strata/pkg/uri"
)

// Entry is a listing row for one node.
type Entry struct {
	URI      string      `json:"uri"`
	Name     string      `json:"name"`
	Kind     tree.Kind   `json:"kind"`
	Depth    int         `json:"depth"`
	Children int         `json:"children,omitempty"`
	Abstract string      `json:"abstract,omitempty"`
	Status   tree.Status `json:"status,omitempty"`
	ReadOnly bool        `json:"read_only,omitempty"`
	Demoted  bool        `json:"demoted,omitempty"`
}

// AddResource imports src and returns the resource root URI. Parsing, tier
// generation and indexing continue in the background.
func (db *DB) AddResource(ctx context.Context, src ingest.Source) (string, error) {
	if err := db.checkOpen(); err != nil {
		return "", err
	}
	return db.pipeline.AddResource(ctx, src)
}

// WaitProcessed blocks until every job under scope has finished.
func (db *DB) WaitProcessed(ctx context.Context, scope string, timeout time.Duration) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.pipeline.WaitProcessed(ctx, scope, timeout)
}

// Status reports tier states and job failures for u.
func (db *DB) Status(u string) (*ingest.Status, error) {
	return db.pipeline.Status(u)
}

// Reprocess regenerates tiers and vectors for u and its descendants.
func (db *DB) Reprocess(ctx context.Context, u string) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.pipeline.Reprocess(ctx, u)
}

// Node resolves u.
func (db *DB) Node(u string) (*tree.Node, error) {
	return db.tree.Resolve(u)
}

// Mkdir creates u and any missing ancestors as directories.
func (db *DB) Mkdir(ctx context.Context, u string) (*tree.Node, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	return db.tree.EnsureDir(ctx, u, tree.Provenance{Origin: tree.OriginResource, Source: "mkdir"})
}

// Remove deletes u and its subtree with their vectors. It returns every
// removed URI.
func (db *DB) Remove(ctx context.Context, u string) ([]string, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	return db.pipeline.Remove(ctx, u)
}

// Move re-parents src under dstParent, optionally renaming it, and
// re-indexes the moved subtree under its new URIs. It returns the new URI.
func (db *DB) Move(ctx context.Context, src, dstParent, name string) (string, error) {
	if err := db.checkOpen(); err != nil {
		return "", err
	}

	var (
		res       *tree.MoveResult
		oldParent string
	)
	err := tree.RetryOnConflict(ctx, 3, func() error {
		n, err := db.tree.Resolve(src)
		if err != nil {
			return err
		}
		oldParent = n.Parent
		res, err = db.tree.Move(ctx, n.URI, dstParent, name, n.Version)
		return err
	})
	if err != nil {
		return "", err
	}

	old := slices.Sorted(maps.Keys(res.Renamed))
	if err := db.index.Remove(ctx, old, oldParent, res.Node.Parent); err != nil {
		db.logger.Warn("dropping moved vectors failed", "uri", src, "err", err)
	}
	if err := db.pipeline.Reprocess(ctx, res.Node.URI); err != nil {
		return "", err
	}

	db.logger.Info("node moved", "from", src, "to", res.Node.URI)
	return res.Node.URI, nil
}

// Ls lists the children of u, or every descendant when recursive.
func (db *DB) Ls(ctx context.Context, u string, recursive bool) ([]Entry, error) {
	nodes, err := db.tree.List(u, recursive)
	if err != nil {
		return nil, err
	}
	base := uri.Depth(u)
	if n, err := db.tree.Resolve(u); err == nil {
		base = n.Depth()
	}
	return db.entries(ctx, nodes, base), nil
}

// TreeView lists u and its descendants down to maxDepth levels below u
// (unbounded when maxDepth <= 0) in pre-order.
func (db *DB) TreeView(ctx context.Context, u string, maxDepth int) ([]Entry, error) {
	nodes, err := db.tree.Subtree(u)
	if err != nil {
		return nil, err
	}
	base := nodes[0].Depth()
	if maxDepth > 0 {
		nodes = slices.DeleteFunc(nodes, func(n *tree.Node) bool { return n.Depth()-base > maxDepth })
	}
	return db.entries(ctx, nodes, base), nil
}

func (db *DB) entries(ctx context.Context, nodes []*tree.Node, base int) []Entry {
	out := make([]Entry, 0, len(nodes))
	for _, n := range nodes {
		e := Entry{
			URI:      n.URI,
			Name:     n.Name(),
			Kind:     n.Kind,
			Depth:    n.Depth() - base,
			Children: len(n.Children),
			Status:   n.Abstract.Status,
			ReadOnly: n.ReadOnly,
			Demoted:  n.Demoted,
		}
		if n.Abstract.Status.Usable() {
			if text, err := db.tree.ReadTier(ctx, n, tree.L0); err == nil {
				e.Abstract = text
			}
		}
		out = append(out, e)
	}
	return out
}

// Glob returns the leaf URIs below scope matching pattern.
func (db *DB) Glob(pattern, scope string) ([]string, error) {
	nodes, err := db.tree.Glob(pattern, scope)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.URI
	}
	return out, nil
}

// Grep scans leaf content below scope.
func (db *DB) Grep(ctx context.Context, pattern, scope string, opts tree.GrepOptions) ([]tree.GrepMatch, error) {
	return db.tree.Grep(ctx, pattern, scope, opts)
}

// Find runs q with the query itself as the only search condition.
func (db *DB) Find(ctx context.Context, q retrieve.Query) (*retrieve.Trajectory, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	return db.engine.Find(ctx, q)
}

// Search expands q into model-generated sub-queries before retrieving.
func (db *DB) Search(ctx context.Context, q retrieve.Query) (*retrieve.Trajectory, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	return db.engine.Search(ctx, q)
}

// Read returns the text of one tier of u. Abstracts and overviews of
// directories flagged dirty are regenerated first.
func (db *DB) Read(ctx context.Context, u string, level tree.Level) (string, error) {
	if err := db.checkOpen(); err != nil {
		return "", err
	}
	if level == tree.L2 {
		return db.tree.Content(ctx, u)
	}

	n, err := db.tree.Resolve(u)
	if err != nil {
		return "", err
	}
	if n.IsDir() {
		if err := db.tiers.Refresh(ctx, n.URI); err != nil {
			if ctx.Err() != nil {
				return "", err
			}
			db.logger.Warn("directory refresh failed", "uri", n.URI, "err", err)
		}
		if n, err = db.tree.Resolve(n.URI); err != nil {
			return "", err
		}
	}

	ts := n.Tier(level)
	if !ts.Status.Usable() {
		status := ts.Status
		if status == tree.StatusNone {
			status = tree.StatusPending
		}
		return "", fmt.Errorf("%w: %s %s is %s", ErrNotReady, n.URI, level, status)
	}
	return db.tree.ReadTier(ctx, n, level)
}

// Abstract returns the L0 text of u.
func (db *DB) Abstract(ctx context.Context, u string) (string, error) {
	return db.Read(ctx, u, tree.L0)
}

// Overview returns the L1 text of u.
func (db *DB) Overview(ctx context.Context, u string) (string, error) {
	return db.Read(ctx, u, tree.L1)
}

// ParseLevel maps a user supplied level name to a tree.Level.
func ParseLevel(s string) (tree.Level, error) {
	level, ok := tree.ParseLevel(s)
	if !ok {
		return "", errs.Invalid("level", s, "must be one of abstract, overview, detail")
	}
	return level, nil
}
