// Package llm is the opaque text-generation collaborator used for optional
// summary synthesis, tier compression and domain classification.
package llm

import (
	"context"
	"fmt"

	"github.com/lazypower/hippocampus/internal/config"
)

// Client is the interface for LLM providers.
type Client interface {
	Complete(ctx context.Context, prompt string) (*Response, error)
}

// Response holds the result of an LLM completion.
type Response struct {
	Content    string
	Provider   string
	TokensUsed int
}

const (
	defaultAnthropicModel = "claude-haiku-4-5-20251001"
	defaultOllamaURL      = "http://localhost:11434"
	defaultOllamaModel    = "llama3.2"
)

// NewClient builds the configured provider. Provider "none" (or empty)
// yields a nil client; every caller has a deterministic fallback.
func NewClient(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("anthropic provider requires HIPPO_LLM_ANTHROPIC_KEY or config")
		}
		return NewAnthropic(cfg.AnthropicKey, orDefault(cfg.Model, defaultAnthropicModel)), nil
	case "ollama":
		return NewOllama(
			orDefault(cfg.OllamaURL, defaultOllamaURL),
			orDefault(cfg.OllamaModel, defaultOllamaModel),
		), nil
	}
	return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
