package retrieve

import (
	"context"
	"log/slog"
	"strings"

	"github.com/papercomputeco/strata/pkg/llm"
	"github.com/papercomputeco/strata/pkg/logger"
)

// ConditionGenerator derives the search conditions of a query.
type ConditionGenerator interface {
	Conditions(ctx context.Context, query string) ([]string, error)
}

// Identity uses the raw query as the only condition.
type Identity struct{}

func (Identity) Conditions(_ context.Context, query string) ([]string, error) {
	return []string{query}, nil
}

// Static returns a fixed condition list regardless of the query.
type Static []string

func (s Static) Conditions(context.Context, string) ([]string, error) {
	return append([]string(nil), s...), nil
}

const conditionsSystem = `You plan searches over a hierarchical knowledge base.
Rewrite the user's request into a small set of focused search queries, each
covering one distinct aspect of what the user needs. Respond with a JSON object
{"queries": ["...", "..."]} and nothing else.`

// LLMConditions asks a language model to split a query into focused
// sub-queries. The raw query always comes first; provider failures fall
// back to it alone.
type LLMConditions struct {
	llm    llm.Completer
	max    int
	logger *slog.Logger
}

// NewLLMConditions creates a generator returning at most max conditions
// (default 4).
func NewLLMConditions(c llm.Completer, max int, log *slog.Logger) *LLMConditions {
	if max <= 0 {
		max = 4
	}
	return &LLMConditions{llm: c, max: max, logger: logger.Component(log, "conditions")}
}

func (g *LLMConditions) Conditions(ctx context.Context, query string) ([]string, error) {
	out := []string{query}

	resp, err := g.llm.Complete(ctx, llm.Request{
		System:    conditionsSystem,
		Prompt:    query,
		MaxTokens: 256,
		JSON:      true,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.logger.Warn("condition generation failed, using the raw query", "err", err)
		return out, nil
	}

	var parsed struct {
		Queries []string `json:"queries"`
	}
	if err := llm.DecodeJSON(resp, &parsed); err != nil {
		// some models answer with a bare array
		if err := llm.DecodeJSON(resp, &parsed.Queries); err != nil {
			g.logger.Warn("unparseable conditions, using the raw query", "err", err)
			return out, nil
		}
	}

	seen := map[string]bool{strings.ToLower(strings.TrimSpace(query)): true}
	for _, q := range parsed.Queries {
		key := strings.ToLower(strings.TrimSpace(q))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, strings.TrimSpace(q))
		if len(out) == g.max {
			break
		}
	}
	return out, nil
}
