// Package html extracts heading-sectioned text from HTML documents.
package html

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/papercomputeco/strata/pkg/parser"
)

// Parser implements parser.Parser for HTML.
type Parser struct{}

// New creates an HTML parser.
func New() *Parser {
	return &Parser{}
}

type builder struct {
	doc   *parser.Document
	stack []*level
}

type level struct {
	rank    int
	section *parser.Section
	text    strings.Builder
}

// Parse walks the DOM, opening a section at every h1-h6 element.
func (p *Parser) Parse(ctx context.Context, data []byte, _ string) (*parser.Document, error) {
	if err := parser.CheckText(data); err != nil {
		return nil, err
	}

	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := &builder{
		doc: &parser.Document{Type: parser.TypeHTML, Root: &parser.Section{}},
	}
	b.stack = []*level{{rank: 0, section: b.doc.Root}}
	b.doc.Title = title(root)

	b.walk(root)
	for len(b.stack) > 0 {
		b.pop()
	}

	return b.doc, nil
}

func (b *builder) current() *level {
	return b.stack[len(b.stack)-1]
}

func (b *builder) pop() {
	top := b.stack[len(b.stack)-1]
	top.section.Text = collapse(top.text.String())
	b.stack = b.stack[:len(b.stack)-1]
}

func (b *builder) open(rank int, heading string) {
	for len(b.stack) > 1 && b.current().rank >= rank {
		b.pop()
	}

	s := &parser.Section{Title: heading}
	parent := b.current().section
	parent.Children = append(parent.Children, s)
	b.stack = append(b.stack, &level{rank: rank, section: s})
}

func (b *builder) walk(n *html.Node) {
	switch n.Type {
	case html.CommentNode, html.DoctypeNode:
		return
	case html.TextNode:
		if t := strings.TrimSpace(n.Data); t != "" {
			w := &b.current().text
			if w.Len() > 0 {
				w.WriteByte(' ')
			}
			w.WriteString(t)
		}
		return
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if skipped(tag) {
			return
		}
		if rank := headingRank(tag); rank > 0 {
			b.open(rank, collapse(textOf(n)))
			return
		}
		if tag == "img" {
			if src := attr(n, "src"); src != "" {
				cur := b.current().section
				cur.Media = append(cur.Media, src)
			}
		}
		if block(tag) {
			b.current().text.WriteString("\n")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			b.walk(c)
		}
		if block(tag) {
			b.current().text.WriteString("\n")
		}
		return
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.walk(c)
	}
}

func title(n *html.Node) string {
	if n.Type == html.ElementNode && strings.EqualFold(n.Data, "title") {
		return collapse(textOf(n))
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := title(c); t != "" {
			return t
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// collapse squeezes runs of spaces and blank lines left by the DOM walk.
func collapse(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func headingRank(tag string) int {
	if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6' {
		return int(tag[1] - '0')
	}
	return 0
}

func skipped(tag string) bool {
	switch tag {
	case "script", "style", "noscript", "iframe", "embed", "object", "svg", "head", "template":
		return true
	}
	return false
}

func block(tag string) bool {
	switch tag {
	case "div", "p", "section", "article", "header", "footer", "nav", "main", "aside",
		"ul", "ol", "li", "table", "tr", "td", "th", "form", "fieldset", "blockquote", "pre", "br":
		return true
	}
	return false
}
