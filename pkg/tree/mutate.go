package tree

import (
	"context"
	"slices"
	"strings"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/uri"
)

// mutate applies fn to the live node at u when expected matches its version,
// then bumps the version, marks ancestors dirty and persists the record.
// fn runs under the tree's write lock and must not call back into the Tree.
func (t *Tree) mutate(ctx context.Context, u string, expected uint64, fn func(n *Node) error) (*Node, error) {
	canonical, err := uri.Parse(u)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	e, ok := t.entries[canonical]
	if !ok {
		t.mu.Unlock()
		return nil, errs.NotFoundError{URI: canonical}
	}
	if e.node.Version != expected {
		actual := e.node.Version
		t.mu.Unlock()
		return nil, errs.ConflictError{URI: canonical, Expected: expected, Actual: actual}
	}

	work := e.node.clone()
	if err := fn(work); err != nil {
		t.mu.Unlock()
		return nil, err
	}

	// identity and structure are owned by the tree
	work.URI = e.node.URI
	work.Parent = e.node.Parent
	work.Kind = e.node.Kind
	work.Children = e.node.Children
	work.Provenance = e.node.Provenance
	work.Version = e.node.Version + 1

	e.node = work
	out := e.snapshot()
	parent := work.Parent
	t.mu.Unlock()

	if parent != "" {
		t.markDirty(parent)
	}

	if err := t.persist(ctx, e); err != nil {
		return nil, err
	}

	return out, nil
}

// Update applies fn to a copy of the node and stores the result when
// expected is still the current version. URI, parent, kind, children,
// provenance and version cannot be changed through Update.
func (t *Tree) Update(ctx context.Context, u string, expected uint64, fn func(n *Node) error) (*Node, error) {
	return t.mutate(ctx, u, expected, fn)
}

// WriteContent replaces a leaf's L2 content. The abstract and overview drop
// back to pending while keeping their previous text addressable, so that a
// failed regeneration can fall back to it.
func (t *Tree) WriteContent(ctx context.Context, u string, expected uint64, content []byte) (*Node, error) {
	hash, err := t.putTier(ctx, content)
	if err != nil {
		return nil, err
	}

	return t.mutate(ctx, u, expected, func(n *Node) error {
		if n.IsDir() {
			return errs.Invalid("uri", n.URI, "directories have no detail content")
		}
		if n.ReadOnly {
			return errs.ErrReadOnly
		}

		now := t.now().UTC()
		n.Detail = TierState{Status: StatusReady, Hash: hash, UpdatedAt: now}
		n.ContentHash = hash
		for _, lvl := range []Level{L0, L1} {
			ts := n.tierPtr(lvl)
			ts.Status = StatusPending
			ts.Attempts = 0
			ts.LastError = ""
			ts.UpdatedAt = now
		}
		n.Demoted = false
		return nil
	})
}

// WriteTier stores text as the ready value of an abstract or overview tier.
// inputKey records what the text was generated from. A directory tier cannot
// become ready while any child's abstract is still pending.
func (t *Tree) WriteTier(ctx context.Context, u string, expected uint64, level Level, text, inputKey string) (*Node, error) {
	if level == L2 {
		return nil, errs.Invalid("level", string(level), "use WriteContent for detail content")
	}

	hash, err := t.putTier(ctx, []byte(text))
	if err != nil {
		return nil, err
	}

	return t.mutate(ctx, u, expected, func(n *Node) error {
		if err := t.checkChildrenSettled(n); err != nil {
			return err
		}

		ts := n.tierPtr(level)
		*ts = TierState{
			Status:    StatusReady,
			Hash:      hash,
			InputKey:  inputKey,
			UpdatedAt: t.now().UTC(),
		}
		return nil
	})
}

// SetTierStatus records a status transition without new text. Moving to
// ready requires existing text and, for directories, settled children.
func (t *Tree) SetTierStatus(ctx context.Context, u string, expected uint64, level Level, status Status, cause error) (*Node, error) {
	return t.mutate(ctx, u, expected, func(n *Node) error {
		ts := n.tierPtr(level)
		if status == StatusReady {
			if ts.Hash == "" {
				return errs.Invalid("status", string(status), "tier has no text")
			}
			if err := t.checkChildrenSettled(n); err != nil {
				return err
			}
		}

		if status == StatusFailed || status == StatusStale {
			ts.Attempts++
		}
		if cause != nil {
			ts.LastError = cause.Error()
		} else if status == StatusReady || status == StatusPending {
			ts.LastError = ""
		}

		ts.Status = status
		ts.UpdatedAt = t.now().UTC()
		return nil
	})
}

// checkChildrenSettled runs under t.mu.
func (t *Tree) checkChildrenSettled(n *Node) error {
	if !n.IsDir() {
		return nil
	}

	for _, name := range n.Children {
		child, ok := t.entries[uri.Join(n.URI, name)]
		if !ok {
			continue
		}
		if child.node.Abstract.Status == StatusPending {
			return errs.Invalid("tier", n.URI, "child "+name+" is still pending")
		}
	}

	return nil
}

// Pending reports whether any child of a directory has a pending abstract.
func (t *Tree) Pending(u string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[u]
	if !ok {
		return false
	}
	return t.checkChildrenSettled(e.node) != nil
}

// MoveResult reports the URIs rewritten by Move, old to new.
type MoveResult struct {
	Node    *Node
	Renamed map[string]string
}

// Move re-parents src (and its whole subtree) under dstParent, optionally
// renaming it. expected is src's current version.
func (t *Tree) Move(ctx context.Context, src, dstParent, newName string, expected uint64) (*MoveResult, error) {
	srcURI, err := uri.Parse(src)
	if err != nil {
		return nil, err
	}
	dstURI, err := uri.Parse(dstParent)
	if err != nil {
		return nil, err
	}
	if t.protected(srcURI) {
		return nil, errs.Invalid("uri", srcURI, "cannot move a top-level space")
	}
	if uri.Within(dstURI, srcURI) {
		return nil, errs.Invalid("destination", dstURI, "cannot move a node beneath itself")
	}

	name := newName
	if name == "" {
		name = uri.Base(srcURI)
	}
	if err := uri.ValidSegment(name); err != nil {
		return nil, err
	}
	target := uri.Join(dstURI, name)

	t.mu.Lock()
	e, ok := t.entries[srcURI]
	if !ok {
		t.mu.Unlock()
		return nil, errs.NotFoundError{URI: srcURI}
	}
	if e.node.Version != expected {
		actual := e.node.Version
		t.mu.Unlock()
		return nil, errs.ConflictError{URI: srcURI, Expected: expected, Actual: actual}
	}
	dst, ok := t.entries[dstURI]
	if !ok {
		t.mu.Unlock()
		return nil, errs.NotFoundError{URI: dstURI}
	}
	if !dst.node.IsDir() {
		t.mu.Unlock()
		return nil, errs.Invalid("destination", dstURI, "not a directory")
	}
	if existing, ok := t.entries[target]; ok {
		t.mu.Unlock()
		return nil, errs.ConflictError{URI: target, Expected: 0, Actual: existing.node.Version}
	}

	oldParent := t.entries[e.node.Parent]

	renamed := make(map[string]string)
	var touched []*entry
	for old, ce := range t.entries {
		if !uri.Within(old, srcURI) {
			continue
		}
		nu := target + strings.TrimPrefix(old, srcURI)
		renamed[old] = nu
		touched = append(touched, ce)
	}

	for old, nu := range renamed {
		ce := t.entries[old]
		delete(t.entries, old)
		ce.node.URI = nu
		if old == srcURI {
			ce.node.Parent = dstURI
		} else {
			p, _ := uri.Parent(nu)
			ce.node.Parent = p
		}
		ce.node.Version++
		ce.dirtyVector.Store(true)
		t.entries[nu] = ce
	}

	if oldParent != nil {
		removeChild(oldParent.node, uri.Base(srcURI))
		oldParent.node.Version++
		touched = append(touched, oldParent)
	}
	addChild(dst.node, name)
	dst.node.Version++
	touched = append(touched, dst)

	out := e.snapshot()
	oldParentURI := ""
	if oldParent != nil {
		oldParentURI = oldParent.node.URI
	}
	t.mu.Unlock()

	if oldParentURI != "" {
		t.markDirty(oldParentURI)
	}
	t.markDirty(dstURI)

	for _, ce := range touched {
		if err := t.persist(ctx, ce); err != nil {
			return nil, err
		}
	}

	t.log.Debug("node moved", "from", srcURI, "to", target, "nodes", len(renamed))
	return &MoveResult{Node: out, Renamed: renamed}, nil
}

// Delete removes u and every descendant, returning the removed URIs deepest
// first. The root and the top-level spaces cannot be deleted.
func (t *Tree) Delete(ctx context.Context, u string, expected uint64) ([]string, error) {
	canonical, err := uri.Parse(u)
	if err != nil {
		return nil, err
	}
	if t.protected(canonical) {
		return nil, errs.Invalid("uri", canonical, "cannot delete the root or a top-level space")
	}

	t.mu.Lock()
	e, ok := t.entries[canonical]
	if !ok {
		t.mu.Unlock()
		return nil, errs.NotFoundError{URI: canonical}
	}
	if e.node.Version != expected {
		actual := e.node.Version
		t.mu.Unlock()
		return nil, errs.ConflictError{URI: canonical, Expected: expected, Actual: actual}
	}

	var removed []string
	var gone []*entry
	for cu, ce := range t.entries {
		if uri.Within(cu, canonical) {
			removed = append(removed, cu)
			gone = append(gone, ce)
			ce.removed = true
			delete(t.entries, cu)
		}
	}

	parent := t.entries[e.node.Parent]
	if parent != nil {
		removeChild(parent.node, uri.Base(canonical))
		parent.node.Version++
	}
	t.mu.Unlock()

	slices.SortFunc(removed, func(a, b string) int {
		if d := uri.Depth(b) - uri.Depth(a); d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})

	if parent != nil {
		t.markDirty(e.node.Parent)
		if err := t.persist(ctx, parent); err != nil {
			return nil, err
		}
	}
	for _, ce := range gone {
		if err := t.persist(ctx, ce); err != nil {
			return nil, err
		}
	}

	t.log.Debug("node deleted", "uri", canonical, "nodes", len(removed))
	return removed, nil
}

func (t *Tree) protected(u string) bool {
	return u == uri.Root || slices.Contains(uri.Spaces, u)
}

// EnsureDir resolves u, creating any missing directories along the way.
func (t *Tree) EnsureDir(ctx context.Context, u string, prov Provenance) (*Node, error) {
	canonical, err := uri.Parse(u)
	if err != nil {
		return nil, err
	}

	for _, p := range append(uri.Ancestors(canonical), canonical) {
		n, err := t.Resolve(p)
		if err == nil {
			if !n.IsDir() {
				return nil, errs.Invalid("uri", p, "not a directory")
			}
			continue
		}
		if !errs.IsNotFound(err) {
			return nil, err
		}

		parent, _ := uri.Parent(p)
		if _, err := t.Create(ctx, CreateRequest{
			Parent:     parent,
			Name:       uri.Base(p),
			Kind:       KindDirectory,
			Provenance: prov,
		}); err != nil && !errs.IsConflict(err) {
			return nil, err
		}
	}

	return t.Resolve(canonical)
}
