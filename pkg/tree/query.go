package tree

import (
	"bufio"
	"context"
	"regexp"
	"slices"
	"strings"

	"github.com/gobwas/glob"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/uri"
)

// CompileGlob compiles a path pattern in which '*' matches within one
// segment and '**' matches across any number of segments, including none.
func CompileGlob(pattern string) (glob.Glob, error) {
	if pattern == "" {
		return nil, errs.Invalid("pattern", pattern, "empty glob pattern")
	}

	expanded := strings.TrimPrefix(pattern, "/")
	if !strings.ContainsAny(expanded, "{}") {
		expanded = strings.ReplaceAll(expanded, "**/", "{**/,}")
	}

	g, err := glob.Compile(expanded, '/')
	if err != nil {
		return nil, errs.Invalid("pattern", pattern, err.Error())
	}
	return g, nil
}

// Glob returns every leaf below scope whose scope-relative path matches
// pattern, in URI order. Directories never match.
func (t *Tree) Glob(pattern, scope string) ([]*Node, error) {
	g, err := CompileGlob(pattern)
	if err != nil {
		return nil, err
	}

	seq, err := t.Children(scope, true)
	if err != nil {
		return nil, err
	}

	root, _ := uri.Parse(scope)
	var out []*Node
	for n := range seq {
		if !n.IsDir() && g.Match(uri.Relative(n.URI, root)) {
			out = append(out, n)
		}
	}

	slices.SortFunc(out, func(a, b *Node) int { return strings.Compare(a.URI, b.URI) })
	return out, nil
}

// GrepOptions controls Grep matching.
type GrepOptions struct {
	// Regex treats the pattern as a regular expression instead of a literal.
	Regex bool

	IgnoreCase bool

	// Limit caps the number of matches; zero means unlimited.
	Limit int
}

// GrepMatch is one matching line of a leaf's detail content.
type GrepMatch struct {
	URI  string `json:"uri"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// Grep scans the L2 content of every leaf below scope, line by line.
func (t *Tree) Grep(ctx context.Context, pattern, scope string, opts GrepOptions) ([]GrepMatch, error) {
	if pattern == "" {
		return nil, errs.Invalid("pattern", pattern, "empty grep pattern")
	}

	match, err := lineMatcher(pattern, opts)
	if err != nil {
		return nil, err
	}

	nodes, err := t.Subtree(scope)
	if err != nil {
		return nil, err
	}

	var out []GrepMatch
	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if n.IsDir() || !n.Detail.Status.Usable() {
			continue
		}

		text, err := t.ReadTier(ctx, n, L2)
		if err != nil {
			if errs.IsNotFound(err) {
				continue
			}
			return nil, err
		}

		sc := bufio.NewScanner(strings.NewReader(text))
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		line := 0
		for sc.Scan() {
			line++
			if match(sc.Text()) {
				out = append(out, GrepMatch{URI: n.URI, Line: line, Text: sc.Text()})
				if opts.Limit > 0 && len(out) >= opts.Limit {
					return out, nil
				}
			}
		}
	}

	return out, nil
}

func lineMatcher(pattern string, opts GrepOptions) (func(string) bool, error) {
	if opts.Regex {
		expr := pattern
		if opts.IgnoreCase {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, errs.Invalid("pattern", pattern, err.Error())
		}
		return re.MatchString, nil
	}

	if opts.IgnoreCase {
		lower := strings.ToLower(pattern)
		return func(s string) bool { return strings.Contains(strings.ToLower(s), lower) }, nil
	}

	return func(s string) bool { return strings.Contains(s, pattern) }, nil
}
