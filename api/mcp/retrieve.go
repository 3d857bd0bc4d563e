package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/strata/pkg/retrieve"
)

var (
	findToolName    = "find"
	findDescription = "Find context relevant to a query. Walks the context tree directory by directory, starting from the best matching directories, and returns the most relevant nodes with their abstracts and the path that led to them."

	searchToolName    = "search"
	searchDescription = "Search context with query planning. The query is first rewritten into several focused conditions, each condition is resolved like find, and the results are merged. Prefer this for broad or multi-part questions."
)

// QueryInput represents the input arguments for the find and search tools.
type QueryInput struct {
	Query string `json:"query" jsonschema:"the natural language query"`
	Scope string `json:"scope,omitempty" jsonschema:"restrict retrieval to this strata:// URI subtree"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results (default: 10)"`
}

// QueryOutput represents the output of the find and search tools.
type QueryOutput struct {
	Query         string            `json:"query"`
	Conditions    []string          `json:"conditions,omitempty"`
	Results       []retrieve.Result `json:"results"`
	Count         int               `json:"count"`
	LowConfidence bool              `json:"low_confidence,omitempty"`
}

func (s *Server) handleFind(ctx context.Context, _ *mcp.CallToolRequest, input QueryInput) (*mcp.CallToolResult, QueryOutput, error) {
	return s.query(ctx, input, s.config.DB.Find)
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input QueryInput) (*mcp.CallToolResult, QueryOutput, error) {
	return s.query(ctx, input, s.config.DB.Search)
}

func (s *Server) query(
	ctx context.Context,
	input QueryInput,
	run func(context.Context, retrieve.Query) (*retrieve.Trajectory, error),
) (*mcp.CallToolResult, QueryOutput, error) {
	if input.Query == "" {
		return toolError("query is required"), QueryOutput{}, nil
	}

	s.config.Logger.Debug("MCP retrieval request",
		"query", input.Query,
		"scope", input.Scope,
		"limit", input.Limit,
	)

	traj, err := run(ctx, retrieve.Query{
		Text:  input.Query,
		Scope: input.Scope,
		Limit: input.Limit,
	})
	if err != nil {
		s.config.Logger.Error("retrieval failed", "query", input.Query, "err", err)
		return toolError("Retrieval failed: %v", err), QueryOutput{}, nil
	}

	results := traj.Results
	if results == nil {
		results = []retrieve.Result{}
	}
	return jsonResult(QueryOutput{
		Query:         traj.Query,
		Conditions:    traj.Conditions,
		Results:       results,
		Count:         len(results),
		LowConfidence: traj.LowConfidence,
	})
}
