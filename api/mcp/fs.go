package mcp

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/strata/pkg/contextdb"
	"github.com/papercomputeco/strata/pkg/tree"
	"github.com/papercomputeco/strata/pkg/uri"
)

var (
	readToolName    = "read"
	readDescription = "Read a node at one of three levels: abstract (one sentence), overview (a summary of a few paragraphs) or detail (the full content). Start with abstract or overview and read detail only when needed."

	lsToolName    = "ls"
	lsDescription = "List the children of a strata:// directory with their abstracts."

	globToolName    = "glob"
	globDescription = "Match leaf URIs (documents, memories, skills) against a glob pattern. * matches within one path segment and ** matches any depth."

	grepToolName    = "grep"
	grepDescription = "Search the full content of documents line by line for a literal string or regular expression."
)

// ReadInput represents the input arguments for the read tool.
type ReadInput struct {
	URI   string `json:"uri" jsonschema:"the strata:// URI to read"`
	Level string `json:"level,omitempty" jsonschema:"abstract, overview or detail (default: detail)"`
}

// ReadOutput represents the output of the read tool.
type ReadOutput struct {
	URI     string `json:"uri"`
	Level   string `json:"level"`
	Content string `json:"content"`
}

// LsInput represents the input arguments for the ls tool.
type LsInput struct {
	URI       string `json:"uri,omitempty" jsonschema:"the directory to list (default: strata://)"`
	Recursive bool   `json:"recursive,omitempty" jsonschema:"list every descendant instead of direct children"`
}

// LsOutput represents the output of the ls tool.
type LsOutput struct {
	Entries []contextdb.Entry `json:"entries"`
	Count   int               `json:"count"`
}

// GlobInput represents the input arguments for the glob tool.
type GlobInput struct {
	Pattern string `json:"pattern" jsonschema:"the glob pattern, relative to scope"`
	Scope   string `json:"scope,omitempty" jsonschema:"the directory to match under (default: strata://)"`
}

// GlobOutput represents the output of the glob tool.
type GlobOutput struct {
	Matches []string `json:"matches"`
	Count   int      `json:"count"`
}

// GrepInput represents the input arguments for the grep tool.
type GrepInput struct {
	Pattern    string `json:"pattern" jsonschema:"the text or regular expression to search for"`
	Scope      string `json:"scope,omitempty" jsonschema:"the directory to search under (default: strata://)"`
	Regex      bool   `json:"regex,omitempty" jsonschema:"treat pattern as a regular expression"`
	IgnoreCase bool   `json:"ignore_case,omitempty" jsonschema:"match case insensitively"`
	Limit      int    `json:"limit,omitempty" jsonschema:"maximum number of matching lines"`
}

// GrepOutput represents the output of the grep tool.
type GrepOutput struct {
	Matches []tree.GrepMatch `json:"matches"`
	Count   int              `json:"count"`
}

func (s *Server) handleRead(ctx context.Context, _ *mcp.CallToolRequest, input ReadInput) (*mcp.CallToolResult, ReadOutput, error) {
	if input.URI == "" {
		return toolError("uri is required"), ReadOutput{}, nil
	}
	level, err := contextdb.ParseLevel(input.Level)
	if err != nil {
		return toolError("%v", err), ReadOutput{}, nil
	}

	text, err := s.config.DB.Read(ctx, input.URI, level)
	if errors.Is(err, contextdb.ErrNotReady) {
		return toolError("The %s of %s is still being generated; try detail or retry shortly", level, input.URI), ReadOutput{}, nil
	}
	if err != nil {
		return toolError("Read failed: %v", err), ReadOutput{}, nil
	}

	return jsonResult(ReadOutput{URI: input.URI, Level: string(level), Content: text})
}

func (s *Server) handleLs(ctx context.Context, _ *mcp.CallToolRequest, input LsInput) (*mcp.CallToolResult, LsOutput, error) {
	u := input.URI
	if u == "" {
		u = uri.Root
	}
	entries, err := s.config.DB.Ls(ctx, u, input.Recursive)
	if err != nil {
		return toolError("Listing failed: %v", err), LsOutput{}, nil
	}
	if entries == nil {
		entries = []contextdb.Entry{}
	}
	return jsonResult(LsOutput{Entries: entries, Count: len(entries)})
}

func (s *Server) handleGlob(_ context.Context, _ *mcp.CallToolRequest, input GlobInput) (*mcp.CallToolResult, GlobOutput, error) {
	if input.Pattern == "" {
		return toolError("pattern is required"), GlobOutput{}, nil
	}
	scope := input.Scope
	if scope == "" {
		scope = uri.Root
	}
	matches, err := s.config.DB.Glob(input.Pattern, scope)
	if err != nil {
		return toolError("Glob failed: %v", err), GlobOutput{}, nil
	}
	if matches == nil {
		matches = []string{}
	}
	return jsonResult(GlobOutput{Matches: matches, Count: len(matches)})
}

func (s *Server) handleGrep(ctx context.Context, _ *mcp.CallToolRequest, input GrepInput) (*mcp.CallToolResult, GrepOutput, error) {
	if input.Pattern == "" {
		return toolError("pattern is required"), GrepOutput{}, nil
	}
	scope := input.Scope
	if scope == "" {
		scope = uri.Root
	}
	matches, err := s.config.DB.Grep(ctx, input.Pattern, scope, tree.GrepOptions{
		Regex:      input.Regex,
		IgnoreCase: input.IgnoreCase,
		Limit:      input.Limit,
	})
	if err != nil {
		return toolError("Grep failed: %v", err), GrepOutput{}, nil
	}
	if matches == nil {
		matches = []tree.GrepMatch{}
	}
	return jsonResult(GrepOutput{Matches: matches, Count: len(matches)})
}
