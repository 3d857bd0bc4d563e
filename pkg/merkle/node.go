// Package merkle computes content addresses for tier blobs and merkle digests
// over directory subtrees.
//
// Leaf content is addressed by the SHA-256 of its bytes. A directory's digest
// is the SHA-256 over its children's (name, digest) pairs in name order, so any
// change below a directory changes every digest on the path to the root.
package merkle

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"slices"
	"strings"
)

// Entry is a named child digest contributing to a directory digest.
type Entry struct {
	Name   string `json:"name"`
	Digest string `json:"digest"`
}

// HashBytes returns the hex-encoded SHA-256 of data.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashString is HashBytes for strings.
func HashString(s string) string {
	return HashBytes([]byte(s))
}

// Digest hashes an ordered list of parts. Each part is length-prefixed so that
// ("ab", "c") and ("a", "bc") produce different digests.
func Digest(parts ...string) string {
	h := sha256.New()
	var size [8]byte

	for _, p := range parts {
		binary.BigEndian.PutUint64(size[:], uint64(len(p)))
		h.Write(size[:])
		h.Write([]byte(p))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// Root computes a directory digest over its children. The input order does not
// matter; entries are sorted by name before hashing.
func Root(entries []Entry) string {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b Entry) int {
		return strings.Compare(a.Name, b.Name)
	})

	parts := make([]string, 0, len(sorted)*2+1)
	parts = append(parts, "dir")
	for _, e := range sorted {
		parts = append(parts, e.Name, e.Digest)
	}

	return Digest(parts...)
}
