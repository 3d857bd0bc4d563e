// Package markdown splits markdown documents into heading-delimited sections
// using the goldmark AST, so headings inside code blocks are not mistaken for
// section boundaries.
package markdown

import (
	"bytes"
	"context"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/papercomputeco/strata/pkg/parser"
)

// Parser implements parser.Parser for markdown.
type Parser struct {
	md goldmark.Markdown
}

// New creates a markdown parser.
func New() *Parser {
	return &Parser{md: goldmark.New()}
}

type heading struct {
	level     int
	title     string
	lineStart int
	bodyStart int
}

// Parse builds the section tree from the document's headings.
func (p *Parser) Parse(ctx context.Context, data []byte, _ string) (*parser.Document, error) {
	if err := parser.CheckText(data); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root := p.md.Parser().Parse(text.NewReader(data))

	var headings []heading
	var images []imageRef
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			if h, ok := headingOf(node, data); ok {
				headings = append(headings, h)
			}
			return ast.WalkSkipChildren, nil
		case *ast.Image:
			images = append(images, imageRef{dest: string(node.Destination), offset: imageOffset(node)})
		}
		return ast.WalkContinue, nil
	})

	doc := &parser.Document{
		Type: parser.TypeMarkdown,
		Root: &parser.Section{Start: 0, End: len(data)},
	}

	firstStart := len(data)
	if len(headings) > 0 {
		firstStart = headings[0].lineStart
	}
	doc.Root.Text = string(data[:firstStart])

	stack := []*stackEntry{{level: 0, section: doc.Root}}
	for i, h := range headings {
		end := len(data)
		if i+1 < len(headings) {
			end = headings[i+1].lineStart
		}

		s := &parser.Section{
			Title: h.title,
			Text:  string(data[min(h.bodyStart, end):end]),
			Start: h.lineStart,
		}

		for len(stack) > 1 && stack[len(stack)-1].level >= h.level {
			stack = stack[:len(stack)-1]
		}
		parent := stack[len(stack)-1].section
		parent.Children = append(parent.Children, s)
		stack = append(stack, &stackEntry{level: h.level, section: s})
	}

	// a section ends where the next heading of equal or higher rank begins
	closeSections(doc.Root, len(data))

	for _, img := range images {
		attachMedia(doc.Root, img)
	}

	return doc, nil
}

type stackEntry struct {
	level   int
	section *parser.Section
}

type imageRef struct {
	dest   string
	offset int
}

func closeSections(s *parser.Section, end int) {
	s.End = end
	for i, c := range s.Children {
		childEnd := end
		if i+1 < len(s.Children) {
			childEnd = s.Children[i+1].Start
		}
		closeSections(c, childEnd)
	}
}

// attachMedia assigns an image to the innermost section containing it.
func attachMedia(s *parser.Section, img imageRef) {
	if img.dest == "" {
		return
	}
	for _, c := range s.Children {
		if img.offset >= c.Start && img.offset < c.End {
			attachMedia(c, img)
			return
		}
	}
	s.Media = append(s.Media, img.dest)
}

func headingOf(h *ast.Heading, src []byte) (heading, bool) {
	lines := h.Lines()
	if lines.Len() == 0 {
		return heading{}, false
	}

	first := lines.At(0)
	last := lines.At(lines.Len() - 1)

	lineStart := bytes.LastIndexByte(src[:first.Start], '\n') + 1

	bodyStart := last.Stop
	if bodyStart == 0 || src[bodyStart-1] != '\n' {
		bodyStart = nextLine(src, bodyStart)
	}
	// setext headings are followed by an underline of '=' or '-'
	atx := strings.HasPrefix(strings.TrimLeft(string(src[lineStart:first.Start]), " "), "#")
	if !atx {
		bodyStart = nextLine(src, bodyStart)
	}

	var title strings.Builder
	for i := range lines.Len() {
		seg := lines.At(i)
		if i > 0 {
			title.WriteByte(' ')
		}
		title.Write(seg.Value(src))
	}

	t := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(title.String()), "#"))
	return heading{
		level:     h.Level,
		title:     t,
		lineStart: lineStart,
		bodyStart: bodyStart,
	}, true
}

func nextLine(src []byte, pos int) int {
	if pos >= len(src) {
		return len(src)
	}
	if idx := bytes.IndexByte(src[pos:], '\n'); idx >= 0 {
		return pos + idx + 1
	}
	return len(src)
}

func imageOffset(img *ast.Image) int {
	for c := img.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			return t.Segment.Start
		}
	}
	for p := img.Parent(); p != nil; p = p.Parent() {
		if p.Type() == ast.TypeBlock && p.Lines().Len() > 0 {
			return p.Lines().At(0).Start
		}
	}
	return 0
}
