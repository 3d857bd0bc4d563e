// Package parser defines the Parser collaborator: it turns raw bytes into an
// ordered tree of sections that ingestion mirrors into nodes.
package parser

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/papercomputeco/strata/pkg/errs"
)

// Type hints understood by the default registry.
const (
	TypeMarkdown = "markdown"
	TypeHTML     = "html"
	TypeText     = "text"
)

// Section is one node of a parsed document.
type Section struct {
	// Title names the section; ingestion slugifies it into a URI segment.
	Title string

	// Text is the section's own content, excluding subsections.
	Text string

	// Media lists references (image sources, links to binaries) found in Text.
	Media []string

	// Start and End are byte offsets of the section in the source,
	// End exclusive. Both are zero when the format has no stable offsets.
	Start int
	End   int

	Children []*Section
}

// IsLeaf reports whether s has no subsections.
func (s *Section) IsLeaf() bool {
	return len(s.Children) == 0
}

// Document is a parsed resource. Root.Text holds any content that precedes
// the first section.
type Document struct {
	Title string
	Type  string
	Root  *Section
}

// Parser extracts a section tree from raw bytes.
type Parser interface {
	Parse(ctx context.Context, data []byte, hint string) (*Document, error)
}

// Registry dispatches to a Parser by type hint.
type Registry struct {
	parsers  map[string]Parser
	fallback string
}

// NewRegistry returns an empty registry that falls back to the parser
// registered for fallback when a hint is unknown.
func NewRegistry(fallback string) *Registry {
	return &Registry{
		parsers:  make(map[string]Parser),
		fallback: fallback,
	}
}

// Register installs p for hint.
func (r *Registry) Register(hint string, p Parser) {
	r.parsers[hint] = p
}

// Types lists the registered hints.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.parsers))
	for k := range r.parsers {
		out = append(out, k)
	}
	return out
}

// Parse detects a type when hint is empty, then runs the matching parser.
func (r *Registry) Parse(ctx context.Context, data []byte, hint string) (*Document, error) {
	if hint == "" {
		hint = Detect("", data)
	}

	p, ok := r.parsers[hint]
	if !ok {
		p, ok = r.parsers[r.fallback]
		if !ok {
			return nil, errs.Invalid("type", hint, "no parser registered")
		}
	}

	doc, err := p.Parse(ctx, data, hint)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", hint, err)
	}

	Normalize(doc)
	return doc, nil
}

// Detect guesses a type hint from a file name and content sniffing.
func Detect(name string, data []byte) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".md", ".markdown", ".mdx":
		return TypeMarkdown
	case ".html", ".htm", ".xhtml":
		return TypeHTML
	case ".txt", ".text", ".log", ".csv":
		return TypeText
	}

	sniff := data
	if len(sniff) > 512 {
		sniff = sniff[:512]
	}
	ct := http.DetectContentType(sniff)
	switch {
	case strings.HasPrefix(ct, "text/html"):
		return TypeHTML
	case strings.HasPrefix(ct, "text/"):
		if looksLikeMarkdown(data) {
			return TypeMarkdown
		}
		return TypeText
	}

	return ""
}

// FromContentType maps an HTTP Content-Type to a type hint.
func FromContentType(ct string) string {
	ct = strings.ToLower(ct)
	switch {
	case strings.Contains(ct, "markdown"):
		return TypeMarkdown
	case strings.Contains(ct, "html"):
		return TypeHTML
	case strings.HasPrefix(ct, "text/"):
		return TypeText
	}
	return ""
}

func looksLikeMarkdown(data []byte) bool {
	for _, line := range strings.SplitN(string(data), "\n", 64) {
		if strings.HasPrefix(line, "# ") || strings.HasPrefix(line, "## ") || strings.HasPrefix(line, "```") {
			return true
		}
	}
	return false
}

// CheckText rejects binary input that no text parser can handle.
func CheckText(data []byte) error {
	if !utf8.Valid(data) {
		return errs.Invalid("content", "", "content is not valid UTF-8 text")
	}
	return nil
}

// Normalize trims section text, drops empty leaf sections and hoists the
// children of a lone top-level section that wraps the whole document.
func Normalize(doc *Document) {
	if doc == nil || doc.Root == nil {
		return
	}

	var clean func(s *Section)
	clean = func(s *Section) {
		s.Text = strings.TrimSpace(s.Text)
		s.Title = strings.TrimSpace(s.Title)
		kept := s.Children[:0]
		for _, c := range s.Children {
			clean(c)
			if c.Text == "" && c.IsLeaf() && len(c.Media) == 0 {
				continue
			}
			kept = append(kept, c)
		}
		s.Children = kept
	}
	clean(doc.Root)

	root := doc.Root
	if root.Text == "" && len(root.Children) == 1 && !root.Children[0].IsLeaf() {
		only := root.Children[0]
		if doc.Title == "" {
			doc.Title = only.Title
		}
		root.Text = only.Text
		root.Media = append(root.Media, only.Media...)
		root.Children = only.Children
	}
}

// Walk visits every section in document order with its depth (root = 0).
func Walk(s *Section, fn func(s *Section, depth int)) {
	var walk func(s *Section, depth int)
	walk = func(s *Section, depth int) {
		fn(s, depth)
		for _, c := range s.Children {
			walk(c, depth+1)
		}
	}
	walk(s, 0)
}
