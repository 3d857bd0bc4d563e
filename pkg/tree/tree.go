package tree

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/logger"
	"github.com/papercomputeco/strata/pkg/storage"
	"github.com/papercomputeco/strata/pkg/uri"
)

// Tree is the virtual filesystem. It is safe for concurrent use.
type Tree struct {
	mu      sync.RWMutex
	entries map[string]*entry

	blobs storage.Driver
	log   *slog.Logger
	now   func() time.Time
}

type entry struct {
	// node is guarded by Tree.mu.
	node *Node

	// removed is guarded by Tree.mu.
	removed bool

	// persistMu serializes record writes for this entry; storedPath is the
	// blob path of the last successful write and is guarded by persistMu.
	persistMu  sync.Mutex
	storedPath string

	dirtyTiers  atomic.Bool
	dirtyVector atomic.Bool
	referenced  atomic.Int64
}

// Option configures a Tree.
type Option func(*Tree)

// WithLogger sets the tree's logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tree) {
		t.log = logger.Component(l, "tree")
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tree) {
		t.now = now
	}
}

// Open loads every node record from blobs and ensures the root and the fixed
// top-level spaces exist.
func Open(ctx context.Context, blobs storage.Driver, opts ...Option) (*Tree, error) {
	t := &Tree{
		entries: make(map[string]*entry),
		blobs:   blobs,
		log:     logger.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	if err := t.load(ctx); err != nil {
		return nil, err
	}

	if _, ok := t.entries[uri.Root]; !ok {
		root := &entry{node: t.newNode(uri.Root, "", KindDirectory, Provenance{Origin: OriginSystem})}
		t.entries[uri.Root] = root
		if err := t.persist(ctx, root); err != nil {
			return nil, err
		}
	}

	for _, space := range uri.Spaces {
		if t.Exists(space) {
			continue
		}
		if _, err := t.Create(ctx, CreateRequest{
			Parent:     uri.Root,
			Name:       uri.Base(space),
			Kind:       KindDirectory,
			Provenance: Provenance{Origin: OriginSystem},
		}); err != nil {
			return nil, fmt.Errorf("creating space %s: %w", space, err)
		}
	}

	t.log.Debug("tree opened", "nodes", t.Count())
	return t, nil
}

func (t *Tree) newNode(u, parent string, kind Kind, prov Provenance) *Node {
	now := t.now().UTC()
	if prov.CreatedAt.IsZero() {
		prov.CreatedAt = now
	}

	n := &Node{
		URI:        u,
		Kind:       kind,
		Parent:     parent,
		Provenance: prov,
		Version:    1,
		Abstract:   TierState{Status: StatusPending, UpdatedAt: now},
		Overview:   TierState{Status: StatusPending, UpdatedAt: now},
	}
	if kind != KindDirectory {
		n.Detail = TierState{Status: StatusPending, UpdatedAt: now}
	}

	return n
}

// CreateRequest describes a node to create.
type CreateRequest struct {
	Parent     string
	Name       string
	Kind       Kind
	Provenance Provenance

	// Content, when non-nil, becomes the leaf's L2 tier immediately.
	Content []byte

	MediaRef string
	Labels   map[string]string
	ReadOnly bool
}

// Create adds a node under an existing directory. Creating a URI that
// already exists fails with ConflictError (expected version 0).
func (t *Tree) Create(ctx context.Context, req CreateRequest) (*Node, error) {
	parentURI, err := uri.Parse(req.Parent)
	if err != nil {
		return nil, err
	}
	if err := uri.ValidSegment(req.Name); err != nil {
		return nil, err
	}
	if !req.Kind.Valid() {
		return nil, errs.Invalid("kind", string(req.Kind), "unknown node kind")
	}
	if req.Kind == KindDirectory && req.Content != nil {
		return nil, errs.Invalid("content", req.Name, "directories have no detail content")
	}

	var detailHash string
	if req.Content != nil {
		detailHash, err = t.putTier(ctx, req.Content)
		if err != nil {
			return nil, err
		}
	}

	u := uri.Join(parentURI, req.Name)

	t.mu.Lock()
	parent, ok := t.entries[parentURI]
	if !ok {
		t.mu.Unlock()
		return nil, errs.NotFoundError{URI: parentURI}
	}
	if !parent.node.IsDir() {
		t.mu.Unlock()
		return nil, errs.Invalid("parent", parentURI, "not a directory")
	}
	if existing, ok := t.entries[u]; ok {
		t.mu.Unlock()
		return nil, errs.ConflictError{URI: u, Expected: 0, Actual: existing.node.Version}
	}

	n := t.newNode(u, parentURI, req.Kind, req.Provenance)
	n.MediaRef = req.MediaRef
	n.ReadOnly = req.ReadOnly
	if len(req.Labels) > 0 {
		n.Labels = make(map[string]string, len(req.Labels))
		for k, v := range req.Labels {
			n.Labels[k] = v
		}
	}
	if req.Content != nil {
		n.Detail = TierState{Status: StatusReady, Hash: detailHash, UpdatedAt: n.Provenance.CreatedAt}
		n.ContentHash = detailHash
	}

	e := &entry{node: n}
	e.dirtyTiers.Store(n.IsDir())
	e.dirtyVector.Store(true)
	t.entries[u] = e

	addChild(parent.node, req.Name)
	parent.node.Version++
	out := n.clone()
	t.mu.Unlock()

	t.markDirty(parentURI)

	if err := t.persist(ctx, e); err != nil {
		return nil, err
	}
	if err := t.persist(ctx, parent); err != nil {
		return nil, err
	}

	t.log.Debug("node created", "uri", u, "kind", req.Kind)
	return out, nil
}

func addChild(n *Node, name string) {
	idx, found := slices.BinarySearch(n.Children, name)
	if !found {
		n.Children = slices.Insert(n.Children, idx, name)
	}
}

func removeChild(n *Node, name string) {
	if idx, found := slices.BinarySearch(n.Children, name); found {
		n.Children = slices.Delete(n.Children, idx, idx+1)
	}
}

// Resolve returns a snapshot of the node at u.
func (t *Tree) Resolve(u string) (*Node, error) {
	canonical, err := uri.Parse(u)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[canonical]
	if !ok {
		return nil, errs.NotFoundError{URI: canonical}
	}

	return e.snapshot(), nil
}

// snapshot copies the node and folds in the atomic reference mark.
// Callers hold Tree.mu.
func (e *entry) snapshot() *Node {
	n := e.node.clone()
	if ref := e.referenced.Load(); ref != 0 {
		n.ReferencedAt = time.Unix(0, ref).UTC()
	}
	return n
}

// Exists reports whether u resolves.
func (t *Tree) Exists(u string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.entries[u]
	return ok
}

// Count returns the number of nodes, root included.
func (t *Tree) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Children returns a lazy sequence over the children of u, in name order.
// With recursive set the walk is depth-first pre-order over all descendants.
// Each step reads the current state of the tree, so the sequence is
// restartable and reflects writes made between iterations.
func (t *Tree) Children(u string, recursive bool) (iter.Seq[*Node], error) {
	n, err := t.Resolve(u)
	if err != nil {
		return nil, err
	}

	root := n.URI
	return func(yield func(*Node) bool) {
		t.walk(root, recursive, yield)
	}, nil
}

func (t *Tree) walk(u string, recursive bool, yield func(*Node) bool) bool {
	t.mu.RLock()
	e, ok := t.entries[u]
	if !ok {
		t.mu.RUnlock()
		return true
	}
	names := slices.Clone(e.node.Children)
	t.mu.RUnlock()

	for _, name := range names {
		child := uri.Join(u, name)

		t.mu.RLock()
		ce, ok := t.entries[child]
		var snap *Node
		if ok {
			snap = ce.snapshot()
		}
		t.mu.RUnlock()

		if !ok {
			continue
		}
		if !yield(snap) {
			return false
		}
		if recursive && snap.IsDir() {
			if !t.walk(child, true, yield) {
				return false
			}
		}
	}

	return true
}

// List collects Children into a slice.
func (t *Tree) List(u string, recursive bool) ([]*Node, error) {
	seq, err := t.Children(u, recursive)
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}

// Subtree returns u followed by all of its descendants.
func (t *Tree) Subtree(u string) ([]*Node, error) {
	n, err := t.Resolve(u)
	if err != nil {
		return nil, err
	}

	out := []*Node{n}
	if n.IsDir() {
		rest, err := t.List(n.URI, true)
		if err != nil {
			return nil, err
		}
		out = append(out, rest...)
	}

	return out, nil
}
