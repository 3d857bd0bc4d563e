package tree

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/merkle"
	"github.com/papercomputeco/strata/pkg/storage"
	"github.com/papercomputeco/strata/pkg/uri"
)

const (
	nodePrefix = "nodes/"
	tierPrefix = "tiers/"
)

// record is the persisted form of an entry.
type record struct {
	Node        *Node `json:"node"`
	DirtyTiers  bool  `json:"dirty_tiers,omitempty"`
	DirtyVector bool  `json:"dirty_vector,omitempty"`
}

// NodePath returns the blob path of the record for u.
func NodePath(u string) string {
	return nodePrefix + base64.RawURLEncoding.EncodeToString([]byte(u)) + ".json"
}

// TierPath returns the blob path of tier text with the given content hash.
func TierPath(hash string) string {
	return tierPrefix + hash
}

// persist writes the entry's current state, or deletes its record once the
// entry has been removed. Writers for one entry are serialized and always
// write the latest state, so records never regress.
func (t *Tree) persist(ctx context.Context, e *entry) error {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	t.mu.RLock()
	removed := e.removed
	var rec record
	var path string
	if !removed {
		rec = record{
			Node:        e.snapshot(),
			DirtyTiers:  e.dirtyTiers.Load(),
			DirtyVector: e.dirtyVector.Load(),
		}
		path = NodePath(rec.Node.URI)
	}
	t.mu.RUnlock()

	if removed {
		if e.storedPath == "" {
			return nil
		}
		if err := t.blobs.Delete(ctx, e.storedPath); err != nil {
			return errs.Provider("blob", "delete", err)
		}
		e.storedPath = ""
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding node %s: %w", rec.Node.URI, err)
	}

	if err := t.blobs.Put(ctx, path, data); err != nil {
		return errs.Provider("blob", "put", err)
	}

	if e.storedPath != "" && e.storedPath != path {
		if err := t.blobs.Delete(ctx, e.storedPath); err != nil {
			return errs.Provider("blob", "delete", err)
		}
	}
	e.storedPath = path

	return nil
}

func (t *Tree) load(ctx context.Context) error {
	paths, err := t.blobs.List(ctx, nodePrefix)
	if err != nil {
		return errs.Provider("blob", "list", err)
	}

	for _, p := range paths {
		data, err := t.blobs.Get(ctx, p)
		if err != nil {
			return errs.Provider("blob", "get", err)
		}

		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decoding node record %s: %w", p, err)
		}
		if rec.Node == nil {
			continue
		}
		if _, err := uri.Parse(rec.Node.URI); err != nil {
			t.log.Warn("skipping node record with invalid uri", "path", p, "err", err)
			continue
		}

		e := &entry{node: rec.Node, storedPath: p}
		e.dirtyTiers.Store(rec.DirtyTiers)
		e.dirtyVector.Store(rec.DirtyVector)
		if !rec.Node.ReferencedAt.IsZero() {
			e.referenced.Store(rec.Node.ReferencedAt.UnixNano())
		}
		rec.Node.ReferencedAt = rec.Node.ReferencedAt.UTC()
		t.entries[rec.Node.URI] = e
	}

	// Children lists are rebuilt from parent pointers so an interrupted
	// write of a parent record cannot orphan a node.
	for _, e := range t.entries {
		if e.node.IsDir() {
			e.node.Children = e.node.Children[:0]
		}
	}
	for u, e := range t.entries {
		if e.node.Parent == "" {
			continue
		}
		parent, ok := t.entries[e.node.Parent]
		if !ok || !parent.node.IsDir() {
			t.log.Warn("dropping orphaned node", "uri", u, "parent", e.node.Parent)
			delete(t.entries, u)
			continue
		}
		addChild(parent.node, uri.Base(u))
	}

	return nil
}

func (t *Tree) putTier(ctx context.Context, content []byte) (string, error) {
	hash := merkle.HashBytes(content)
	path := TierPath(hash)

	ok, err := t.blobs.Has(ctx, path)
	if err != nil {
		return "", errs.Provider("blob", "has", err)
	}
	if ok {
		return hash, nil
	}

	if err := t.blobs.Put(ctx, path, content); err != nil {
		return "", errs.Provider("blob", "put", err)
	}

	return hash, nil
}

// ReadTier returns the text of a tier regardless of status. Callers that
// need materialized text check Status.Usable first.
func (t *Tree) ReadTier(ctx context.Context, n *Node, level Level) (string, error) {
	ts := n.Tier(level)
	if ts.Hash == "" {
		return "", errs.NotFoundError{URI: n.URI + "#" + string(level)}
	}

	data, err := t.blobs.Get(ctx, TierPath(ts.Hash))
	if storage.IsNotFound(err) {
		return "", errs.NotFoundError{URI: n.URI + "#" + string(level)}
	}
	if err != nil {
		return "", errs.Provider("blob", "get", err)
	}

	return string(data), nil
}

// Content reads a leaf's L2 text.
func (t *Tree) Content(ctx context.Context, u string) (string, error) {
	n, err := t.Resolve(u)
	if err != nil {
		return "", err
	}
	if n.IsDir() {
		return "", errs.Invalid("uri", n.URI, "directories have no detail content")
	}
	return t.ReadTier(ctx, n, L2)
}
