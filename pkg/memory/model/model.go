// Package model provides a memory.Extractor backed by a language model.
package model

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/llm"
	"github.com/papercomputeco/strata/pkg/logger"
	"github.com/papercomputeco/strata/pkg/memory"
)

// PromptVersion changes whenever extractPrompt changes meaning.
const PromptVersion = "memory-v1"

const extractSystem = `You maintain the long-term memory of an AI agent.
Read the conversation and extract durable statements worth remembering in
future conversations. Use these types:
- preference: how the user likes things done
- fact: stable facts about the user, their work or environment
- task_outcome: what the agent attempted and how it turned out
Skip greetings, transient details and anything already implied by another
statement. Respond with a JSON object
{"memories": [{"type": "...", "title": "...", "content": "..."}]}
where title is at most six words and content is one self-contained sentence.`

// Config holds configuration for the model-backed extractor.
type Config struct {
	// MaxTranscriptBytes bounds the conversation text sent to the model;
	// the oldest turns are dropped first. Defaults to 48000.
	MaxTranscriptBytes int

	// MaxTokens caps the model response. Defaults to 1024.
	MaxTokens int
}

// Extractor implements memory.Extractor over an llm.Completer.
type Extractor struct {
	llm    llm.Completer
	config Config
	logger *slog.Logger
}

// NewExtractor creates a model-backed extractor.
func NewExtractor(c llm.Completer, config Config, log *slog.Logger) *Extractor {
	if config.MaxTranscriptBytes <= 0 {
		config.MaxTranscriptBytes = 48000
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 1024
	}
	return &Extractor{llm: c, config: config, logger: logger.Component(log, "memory")}
}

// Extract asks the model for candidates. Unknown types and empty
// statements are dropped; an unparseable answer is a provider error.
func (e *Extractor) Extract(ctx context.Context, turns []memory.Turn) ([]memory.Candidate, error) {
	transcript := Transcript(turns, e.config.MaxTranscriptBytes)
	if transcript == "" {
		return nil, nil
	}

	resp, err := e.llm.Complete(ctx, llm.Request{
		System:    extractSystem,
		Prompt:    "Conversation:",
		Context:   transcript,
		MaxTokens: e.config.MaxTokens,
		JSON:      true,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Memories []memory.Candidate `json:"memories"`
	}
	if err := llm.DecodeJSON(resp, &parsed); err != nil {
		return nil, errs.Provider("llm", "extract memories", err)
	}

	out := make([]memory.Candidate, 0, len(parsed.Memories))
	for _, c := range parsed.Memories {
		t, err := memory.ParseType(string(c.Type))
		if err != nil {
			e.logger.Debug("dropping memory of unknown type", "type", c.Type)
			continue
		}
		c.Type = t
		c.Title = strings.TrimSpace(c.Title)
		c.Content = strings.TrimSpace(c.Content)
		if c.Content == "" {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Close closes the underlying completer.
func (e *Extractor) Close() error {
	return e.llm.Close()
}

// Transcript renders turns as "role: text" blocks, keeping the most recent
// turns that fit in max bytes.
func Transcript(turns []memory.Turn, max int) string {
	var blocks []string
	size := 0
	for i := len(turns) - 1; i >= 0; i-- {
		text := strings.TrimSpace(turns[i].Text)
		if text == "" {
			continue
		}
		block := fmt.Sprintf("%s: %s", turns[i].Role, text)
		if max > 0 && size+len(block) > max && len(blocks) > 0 {
			break
		}
		size += len(block) + 2
		blocks = append(blocks, block)
	}

	for i, j := 0, len(blocks)-1; i < j; i, j = i+1, j-1 {
		blocks[i], blocks[j] = blocks[j], blocks[i]
	}
	return strings.Join(blocks, "\n\n")
}
