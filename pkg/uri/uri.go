// Package uri parses and manipulates strata:// addresses.
//
// Every node in the tree is addressed by a URI of the form
// strata://<space>/<segment>/.../<segment>. The bare scheme "strata://" is the
// root of the tree.
package uri

import (
	"strings"

	"github.com/papercomputeco/strata/pkg/errs"
)

const (
	// Scheme prefixes every URI.
	Scheme = "strata://"

	// Root addresses the tree root.
	Root = Scheme

	maxSegmentLen = 255
)

// Top-level spaces created when a tree is opened.
const (
	Resources = Scheme + "resources"
	User      = Scheme + "user"
	Agent     = Scheme + "agent"
	Session   = Scheme + "session"
)

// Spaces lists the fixed top-level spaces in creation order.
var Spaces = []string{Resources, User, Agent, Session}

// Parse validates s and returns its canonical form (no trailing slash, except
// for the root).
func Parse(s string) (string, error) {
	if !strings.HasPrefix(s, Scheme) {
		return "", errs.Invalid("uri", s, "missing "+Scheme+" scheme")
	}

	rest := strings.Trim(strings.TrimPrefix(s, Scheme), "/")
	if rest == "" {
		return Root, nil
	}

	for _, seg := range strings.Split(rest, "/") {
		if err := ValidSegment(seg); err != nil {
			return "", errs.Invalid("uri", s, err.Error())
		}
	}

	return Scheme + rest, nil
}

// MustParse is Parse for constants and tests. It panics on invalid input.
func MustParse(s string) string {
	u, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

// ValidSegment reports whether name can be used as a single path segment.
func ValidSegment(name string) error {
	switch {
	case name == "":
		return errs.Invalid("segment", name, "empty path segment")
	case name == "." || name == "..":
		return errs.Invalid("segment", name, "relative path segment")
	case strings.ContainsAny(name, "/\x00"):
		return errs.Invalid("segment", name, "segment contains a separator")
	case len(name) > maxSegmentLen:
		return errs.Invalid("segment", name, "segment too long")
	}

	return nil
}

// Path returns the URI without its scheme ("" for the root).
func Path(u string) string {
	return strings.TrimPrefix(u, Scheme)
}

// Segments splits a canonical URI into its path segments.
func Segments(u string) []string {
	p := Path(u)
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// Depth is the number of segments below the root.
func Depth(u string) int {
	return len(Segments(u))
}

// Join appends a child segment to a canonical parent URI.
func Join(parent, name string) string {
	if parent == Root {
		return Scheme + name
	}
	return parent + "/" + name
}

// Parent returns the parent URI and false for the root.
func Parent(u string) (string, bool) {
	if u == Root {
		return "", false
	}

	p := Path(u)
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return Root, true
	}

	return Scheme + p[:idx], true
}

// Base returns the last segment ("" for the root).
func Base(u string) string {
	p := Path(u)
	if idx := strings.LastIndex(p, "/"); idx >= 0 {
		return p[idx+1:]
	}
	return p
}

// Within reports whether u equals scope or lies beneath it.
func Within(u, scope string) bool {
	if scope == Root || u == scope {
		return true
	}
	return strings.HasPrefix(u, scope+"/")
}

// Ancestors returns every ancestor of u from the root down to its parent.
func Ancestors(u string) []string {
	var out []string
	for p, ok := Parent(u); ok; p, ok = Parent(p) {
		out = append(out, p)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	return out
}

// Relative returns the path of u below scope ("" when equal).
func Relative(u, scope string) string {
	if u == scope {
		return ""
	}
	if scope == Root {
		return Path(u)
	}
	return strings.TrimPrefix(u, scope+"/")
}
