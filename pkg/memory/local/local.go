// Package local provides a rule-based memory.Extractor that needs no
// language model.
//
// Every user turn becomes one candidate: a preference when it contains a
// preference cue ("I prefer", "I like", ...), a fact otherwise. This is the
// local-dev story; the model-backed extractor distills far better
// statements.
package local

import (
	"context"
	"strings"

	"github.com/papercomputeco/strata/pkg/memory"
)

// Config holds configuration for the local extractor.
type Config struct {
	// Enabled controls whether the extractor proposes candidates. When
	// false, Extract returns nil.
	Enabled bool

	// MinWords skips user turns shorter than this. Defaults to 3.
	MinWords int
}

var preferenceCues = []string{
	"i prefer", "i like", "i love", "i hate", "i dislike",
	"i always", "i never", "i want", "please always", "please never",
}

// Extractor implements memory.Extractor with string heuristics.
type Extractor struct {
	config Config
}

// NewExtractor creates a local extractor.
func NewExtractor(config Config) *Extractor {
	if config.MinWords <= 0 {
		config.MinWords = 3
	}
	return &Extractor{config: config}
}

// Extract turns each sufficiently long user turn into a candidate.
func (e *Extractor) Extract(_ context.Context, turns []memory.Turn) ([]memory.Candidate, error) {
	if !e.config.Enabled {
		return nil, nil
	}

	var out []memory.Candidate
	seen := map[string]bool{}
	for _, t := range turns {
		if t.Role != "user" {
			continue
		}
		text := strings.TrimSpace(t.Text)
		if len(strings.Fields(text)) < e.config.MinWords {
			continue
		}
		key := memory.Normalize(text)
		if seen[key] {
			continue
		}
		seen[key] = true

		typ := memory.TypeFact
		for _, cue := range preferenceCues {
			if strings.Contains(key, cue) {
				typ = memory.TypePreference
				break
			}
		}
		out = append(out, memory.Candidate{Type: typ, Content: text})
	}
	return out, nil
}

// Close is a no-op for the local extractor.
func (e *Extractor) Close() error {
	return nil
}
