// Package llm talks to hosted structured-generation services.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Provider submits one instruction and returns the model's JSON object text,
// constrained to schema by the service.
type Provider interface {
	Name() string
	Submit(ctx context.Context, instruction string, schema *Schema) ([]byte, error)
}

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Config for the hosted providers.
type Config struct {
	Provider    string        // "gemini" (default) or "openai"
	APIKey      string        // required
	BaseURL     string        // provider default when empty
	Model       string        // provider default when empty
	Temperature float32       // sent only when > 0
	Timeout     time.Duration // http client timeout
}

// NewProvider builds the provider named in cfg.
func NewProvider(cfg Config, logger *slog.Logger) (Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("llm: api key is required")
	}
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderGemini:
		return NewGeminiClient(cfg, logger), nil
	case ProviderOpenAI:
		return NewOpenAIClient(cfg, logger), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
