// Package memory defines how long-term memories are distilled from a
// conversation.
//
// An [Extractor] turns the turns of a session into typed candidate
// statements. Session consolidation decides where each candidate lives in
// the node tree ([Parent]) and whether it merges into an existing memory.
//
// Extractors are pluggable via configuration:
//
//	[session]
//	extractor = "llm"   # or "local"
package memory

import (
	"context"
	"strings"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/uri"
)

// Type classifies a memory statement.
type Type string

const (
	TypePreference  Type = "preference"
	TypeFact        Type = "fact"
	TypeTaskOutcome Type = "task_outcome"
)

// ParseType accepts the canonical names plus the hyphenated task-outcome
// spelling.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")); t {
	case TypePreference, TypeFact, TypeTaskOutcome:
		return t, nil
	}
	return "", errs.Invalid("type", s, "unknown memory type")
}

// Turn is one conversation message rendered as plain text.
type Turn struct {
	Role string
	Text string
}

// Candidate is a memory statement proposed by an extractor.
type Candidate struct {
	Type    Type   `json:"type"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Extractor distills candidate memories from a conversation.
type Extractor interface {
	// Extract returns the candidates found in turns. It performs no writes.
	Extract(ctx context.Context, turns []Turn) ([]Candidate, error)

	// Close releases extractor resources.
	Close() error
}

// Parent returns the directory a candidate belongs in: preferences and
// facts are kept per user, task outcomes per agent.
func Parent(user, agent string, t Type) string {
	if t == TypeTaskOutcome {
		return join("agent", agent, "memories", "task_outcomes")
	}
	return join("user", user, "memories", string(t)+"s")
}

func join(segs ...string) string {
	u := uri.Root
	for _, s := range segs {
		u = uri.Join(u, s)
	}
	return u
}

// Name derives the node name of a candidate.
func Name(c Candidate) string {
	title := c.Title
	if strings.TrimSpace(title) == "" {
		title = firstWords(c.Content, 6)
	}
	return uri.Slug(title, "memory")
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

// Normalize folds a statement for exact-duplicate comparison.
func Normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
