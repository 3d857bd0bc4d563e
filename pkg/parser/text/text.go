// Package text splits plain text into paragraph-aligned parts.
package text

import (
	"context"
	"fmt"
	"strings"

	"github.com/papercomputeco/strata/pkg/parser"
)

// DefaultMaxPartBytes bounds the size of a single part.
const DefaultMaxPartBytes = 8000

// Parser implements parser.Parser for plain text.
type Parser struct {
	maxPart int
}

// New creates a text parser. maxPart <= 0 uses DefaultMaxPartBytes.
func New(maxPart int) *Parser {
	if maxPart <= 0 {
		maxPart = DefaultMaxPartBytes
	}
	return &Parser{maxPart: maxPart}
}

// Parse returns a single-section document for short text, or a flat list of
// parts split on paragraph boundaries for long text.
func (p *Parser) Parse(ctx context.Context, data []byte, _ string) (*parser.Document, error) {
	if err := parser.CheckText(data); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc := &parser.Document{Type: parser.TypeText, Root: &parser.Section{End: len(data)}}
	src := string(data)
	if len(src) <= p.maxPart {
		doc.Root.Text = src
		return doc, nil
	}

	start := 0
	for start < len(src) {
		end := min(start+p.maxPart, len(src))
		if end < len(src) {
			if cut := strings.LastIndex(src[start:end], "\n\n"); cut > 0 {
				end = start + cut + 2
			} else if cut := strings.LastIndexByte(src[start:end], '\n'); cut > 0 {
				end = start + cut + 1
			}
		}

		doc.Root.Children = append(doc.Root.Children, &parser.Section{
			Title: fmt.Sprintf("part-%d", len(doc.Root.Children)+1),
			Text:  src[start:end],
			Start: start,
			End:   end,
		})
		start = end
	}

	return doc, nil
}
