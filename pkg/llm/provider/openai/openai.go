// Package openai implements llm.Completer with the official openai-go
// client, which also serves OpenAI-compatible endpoints via BaseURL.
package openai

import (
	"context"
	"errors"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/llm"
)

const (
	// DefaultModel is the model used when none is configured.
	DefaultModel = "gpt-4o-mini"

	providerName = "openai"
)

// Config holds configuration for the OpenAI completer.
type Config struct {
	// BaseURL overrides the API root, e.g. "http://localhost:8080/v1".
	BaseURL    string
	Model      string
	APIKey     string
	HTTPClient *http.Client
}

// Completer wraps the chat completions endpoint.
type Completer struct {
	client openai.Client
	model  string
}

// New creates an OpenAI completer.
func New(cfg Config) (*Completer, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errs.Invalid("api_key", "", "openai requires an API key or a compatible base URL")
	}

	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	return &Completer{client: openai.NewClient(opts...), model: model}, nil
}

// Complete issues one chat completion.
func (c *Completer) Complete(ctx context.Context, req llm.Request) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Text()))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", errs.Provider(providerName, "complete", err)
	}
	if len(resp.Choices) == 0 {
		return "", errs.Provider(providerName, "complete", errors.New("openai returned no choices"))
	}

	return resp.Choices[0].Message.Content, nil
}

// Close is a no-op.
func (c *Completer) Close() error {
	return nil
}

var _ llm.Completer = (*Completer)(nil)
