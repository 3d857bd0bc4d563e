// Package anthropic implements llm.Completer against the Anthropic
// Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/llm"
)

const (
	// DefaultModel is the model used when none is configured.
	DefaultModel = "claude-haiku-4-5-20251001"

	// DefaultBaseURL is the public API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	apiVersion       = "2023-06-01"
	defaultMaxTokens = 1024
	providerName     = "anthropic"
)

// Config holds configuration for the Anthropic completer.
type Config struct {
	BaseURL    string
	Model      string
	APIKey     string
	HTTPClient *http.Client
}

// Completer calls POST /v1/messages.
type Completer struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// New creates an Anthropic completer. An API key is required.
func New(cfg Config) (*Completer, error) {
	if cfg.APIKey == "" {
		return nil, errs.Invalid("api_key", "", "anthropic requires an API key")
	}

	c := &Completer{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		client:  cfg.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.client == nil {
		c.client = http.DefaultClient
	}

	return c, nil
}

// Complete sends one user message and concatenates the text blocks of the reply.
func (c *Completer) Complete(ctx context.Context, req llm.Request) (string, error) {
	prompt := req.Text()
	if req.JSON {
		prompt += "\n\nReturn ONLY valid JSON, no markdown or extra text."
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	data, err := json.Marshal(messagesRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", errs.Provider(providerName, "complete", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errs.Provider(providerName, "complete", fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return "", errs.Provider(providerName, "complete",
			fmt.Errorf("anthropic API error (status %d): %s", resp.StatusCode, string(body)))
	}

	var result messagesResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", errs.Provider(providerName, "complete", fmt.Errorf("unmarshal response: %w", err))
	}
	if result.Error != nil {
		return "", errs.Provider(providerName, "complete", fmt.Errorf("anthropic error: %s", result.Error.Message))
	}

	var out bytes.Buffer
	for _, block := range result.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", errs.Provider(providerName, "complete", errors.New("anthropic returned no content"))
	}

	return out.String(), nil
}

// Close is a no-op.
func (c *Completer) Close() error {
	return nil
}

var _ llm.Completer = (*Completer)(nil)
