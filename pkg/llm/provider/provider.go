// Package provider constructs llm.Completer clients by provider name.
package provider

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/papercomputeco/strata/pkg/llm"
	"github.com/papercomputeco/strata/pkg/llm/provider/anthropic"
	"github.com/papercomputeco/strata/pkg/llm/provider/ollama"
	"github.com/papercomputeco/strata/pkg/llm/provider/openai"
)

// Supported provider type constants
const (
	Anthropic = "anthropic"
	OpenAI    = "openai"
	Ollama    = "ollama"
)

// SupportedProviders returns the list of all supported provider type names.
func SupportedProviders() []string {
	return []string{Anthropic, OpenAI, Ollama}
}

// Config selects and configures a completer.
type Config struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

// New creates a Completer for cfg.Provider.
func New(cfg Config) (llm.Completer, error) {
	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.Timeout == 0 {
		client.Timeout = 120 * time.Second
	}

	switch strings.ToLower(cfg.Provider) {
	case Ollama, "":
		return ollama.New(ollama.Config{BaseURL: cfg.BaseURL, Model: cfg.Model, HTTPClient: client}), nil
	case OpenAI:
		return openai.New(openai.Config{BaseURL: cfg.BaseURL, Model: cfg.Model, APIKey: cfg.APIKey, HTTPClient: client})
	case Anthropic:
		return anthropic.New(anthropic.Config{BaseURL: cfg.BaseURL, Model: cfg.Model, APIKey: cfg.APIKey, HTTPClient: client})
	default:
		return nil, fmt.Errorf("unknown provider type: %q (supported: %v)", cfg.Provider, SupportedProviders())
	}
}

// APIKeyFromEnv resolves the conventional environment variable for a
// provider. Only the CLI layer calls this; library code receives keys
// through Config.
func APIKeyFromEnv(provider string) string {
	switch strings.ToLower(provider) {
	case Anthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case OpenAI:
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}
