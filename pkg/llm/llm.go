// Package llm defines the language-model collaborator used for tier
// summaries, retrieval intent analysis and memory extraction.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Request is a single-shot completion request.
type Request struct {
	// System sets the model's instructions.
	System string

	// Prompt is the user turn.
	Prompt string

	// Context is reference material appended after the prompt.
	Context string

	// MaxTokens caps the response length; zero leaves it to the provider.
	MaxTokens int

	// JSON asks the provider for a JSON object response where supported.
	JSON bool
}

// Text renders the user turn: the prompt followed by any context.
func (r Request) Text() string {
	if r.Context == "" {
		return r.Prompt
	}
	return r.Prompt + "\n\n" + r.Context
}

// Completer produces text for a prompt. Implementations wrap failures in
// *errs.ProviderError.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)

	// Close releases any resources held by the completer.
	Close() error
}

// DecodeJSON extracts the outermost JSON object or array from a model
// response, tolerating code fences and surrounding prose, and decodes it
// into v.
func DecodeJSON(response string, v any) error {
	s := strings.TrimSpace(response)

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return fmt.Errorf("no JSON found in response")
	}

	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(s, closer)
	if end < start {
		return fmt.Errorf("unterminated JSON in response")
	}

	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return fmt.Errorf("parsing JSON response: %w", err)
	}
	return nil
}
