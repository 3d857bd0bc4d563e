package tree

import (
	"context"
	"time"

	"github.com/papercomputeco/strata/pkg/uri"
)

// markDirty sets both flags on u and every ancestor. Setting a flag is an
// idempotent OR, so concurrent writers need no coordination.
func (t *Tree) markDirty(u string) {
	chain := append(uri.Ancestors(u), u)

	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, p := range chain {
		if e, ok := t.entries[p]; ok {
			e.dirtyTiers.Store(true)
			e.dirtyVector.Store(true)
		}
	}
}

// MarkDirty flags u and its ancestors for lazy tier and vector recompute.
func (t *Tree) MarkDirty(u string) {
	t.markDirty(u)
}

// MarkVectorDirty flags u and its ancestors for aggregate vector recompute
// only.
func (t *Tree) MarkVectorDirty(u string) {
	chain := append(uri.Ancestors(u), u)

	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, p := range chain {
		if e, ok := t.entries[p]; ok {
			e.dirtyVector.Store(true)
		}
	}
}

// Dirty reports the flags currently set on u.
func (t *Tree) Dirty(u string) (tiers, vector bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[u]
	if !ok {
		return false, false
	}
	return e.dirtyTiers.Load(), e.dirtyVector.Load()
}

// TakeDirtyTiers clears the tiers flag on u and reports whether it was set.
// Exactly one concurrent caller observes true.
func (t *Tree) TakeDirtyTiers(u string) bool {
	t.mu.RLock()
	e, ok := t.entries[u]
	t.mu.RUnlock()

	return ok && e.dirtyTiers.CompareAndSwap(true, false)
}

// TakeDirtyVector clears the vector flag on u and reports whether it was set.
func (t *Tree) TakeDirtyVector(u string) bool {
	t.mu.RLock()
	e, ok := t.entries[u]
	t.mu.RUnlock()

	return ok && e.dirtyVector.CompareAndSwap(true, false)
}

// MarkReferenced records that retrieval returned the given nodes. Only the
// first reference of a node is persisted.
func (t *Tree) MarkReferenced(ctx context.Context, at time.Time, uris ...string) error {
	var first []*entry

	t.mu.RLock()
	for _, u := range uris {
		e, ok := t.entries[u]
		if !ok {
			continue
		}
		if e.referenced.CompareAndSwap(0, at.UnixNano()) {
			first = append(first, e)
		}
	}
	t.mu.RUnlock()

	for _, e := range first {
		if err := t.persist(ctx, e); err != nil {
			return err
		}
	}

	return nil
}
