package parserutils

import (
	"github.com/papercomputeco/strata/pkg/parser"
	"github.com/papercomputeco/strata/pkg/parser/html"
	"github.com/papercomputeco/strata/pkg/parser/markdown"
	"github.com/papercomputeco/strata/pkg/parser/text"
)

// NewRegistry returns a registry with the markdown, HTML and text parsers,
// falling back to text for unknown hints.
func NewRegistry(maxTextPart int) *parser.Registry {
	r := parser.NewRegistry(parser.TypeText)
	r.Register(parser.TypeMarkdown, markdown.New())
	r.Register(parser.TypeHTML, html.New())
	r.Register(parser.TypeText, text.New(maxTextPart))
	return r
}
