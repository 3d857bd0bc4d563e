// Package tree implements the virtual filesystem that addresses every piece
// of context in strata.
//
// Nodes live in an in-memory index backed by a storage.Driver: one JSON
// record per node under nodes/ and one content-addressed blob per tier text
// under tiers/. Writes use optimistic concurrency on a per-node version
// counter. Staleness of directory tiers and aggregate vectors propagates to
// ancestors as atomic OR-flags and is cleared by whoever lazily recomputes.
package tree

import (
	"maps"
	"slices"
	"time"

	"github.com/papercomputeco/strata/pkg/uri"
)

// Kind classifies a node.
type Kind string

const (
	KindDirectory Kind = "directory"
	KindDocument  Kind = "document"
	KindMemory    Kind = "memory"
	KindSkill     Kind = "skill"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindDirectory, KindDocument, KindMemory, KindSkill:
		return true
	}
	return false
}

// Level names a tier.
type Level string

const (
	// L0 is the one-sentence abstract.
	L0 Level = "L0"

	// L1 is the token-budgeted overview.
	L1 Level = "L1"

	// L2 is the verbatim detail content of a leaf.
	L2 Level = "L2"
)

// ParseLevel maps "L0"/"abstract", "L1"/"overview", "L2"/"detail" to a Level.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "L0", "l0", "0", "abstract":
		return L0, true
	case "L1", "l1", "1", "overview":
		return L1, true
	case "L2", "l2", "2", "detail", "":
		return L2, true
	}
	return "", false
}

// Status is the materialization state of a tier.
type Status string

const (
	// StatusNone marks a tier that does not apply (L2 of a directory).
	StatusNone    Status = ""
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusStale   Status = "stale"
	StatusFailed  Status = "failed"
)

// Usable reports whether a tier in this status holds text that may be read.
func (s Status) Usable() bool {
	return s == StatusReady || s == StatusStale
}

// Origin records which path created a node.
type Origin string

const (
	OriginSystem   Origin = "system"
	OriginResource Origin = "resource"
	OriginSession  Origin = "session"
)

// Provenance describes where a node came from.
type Provenance struct {
	Source    string    `json:"source,omitempty"`
	Origin    Origin    `json:"origin"`
	CreatedAt time.Time `json:"created_at"`
}

// TierState tracks one tier of a node.
type TierState struct {
	Status Status `json:"status"`

	// Hash addresses the tier text in the blob store. It survives a
	// transition back to pending so a failed regeneration can degrade to stale.
	Hash string `json:"hash,omitempty"`

	// InputKey is the generation cache key the current text was built from.
	InputKey string `json:"input_key,omitempty"`

	Attempts  int       `json:"attempts,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// Node is a snapshot of one addressable unit of the tree. Values returned by
// the Tree are copies; mutating them has no effect on the tree.
type Node struct {
	URI      string   `json:"uri"`
	Kind     Kind     `json:"kind"`
	Parent   string   `json:"parent,omitempty"`
	Children []string `json:"children,omitempty"`

	Abstract TierState `json:"abstract"`
	Overview TierState `json:"overview"`
	Detail   TierState `json:"detail"`

	ContentHash  string `json:"content_hash,omitempty"`
	EmbeddingRef string `json:"embedding_ref,omitempty"`
	MediaRef     string `json:"media_ref,omitempty"`

	Provenance Provenance        `json:"provenance"`
	Labels     map[string]string `json:"labels,omitempty"`

	Version  uint64 `json:"version"`
	ReadOnly bool   `json:"read_only,omitempty"`
	Demoted  bool   `json:"demoted,omitempty"`

	// ReferencedAt is the first time a retrieval returned this node.
	ReferencedAt time.Time `json:"referenced_at,omitzero"`
}

// Name is the last URI segment.
func (n *Node) Name() string {
	return uri.Base(n.URI)
}

// IsDir reports whether the node can have children.
func (n *Node) IsDir() bool {
	return n.Kind == KindDirectory
}

// Depth is the number of segments below the root.
func (n *Node) Depth() int {
	return uri.Depth(n.URI)
}

// Tier returns the state for level.
func (n *Node) Tier(level Level) TierState {
	switch level {
	case L0:
		return n.Abstract
	case L1:
		return n.Overview
	default:
		return n.Detail
	}
}

func (n *Node) tierPtr(level Level) *TierState {
	switch level {
	case L0:
		return &n.Abstract
	case L1:
		return &n.Overview
	default:
		return &n.Detail
	}
}

// Label returns a label value or "".
func (n *Node) Label(key string) string {
	return n.Labels[key]
}

func (n *Node) clone() *Node {
	c := *n
	c.Children = slices.Clone(n.Children)
	c.Labels = maps.Clone(n.Labels)
	return &c
}
