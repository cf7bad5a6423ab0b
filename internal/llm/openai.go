package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
)

// OpenAIClient calls an OpenAI-compatible chat/completions endpoint using a
// strict json_schema response format.
type OpenAIClient struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewOpenAIClient(cfg Config, logger *slog.Logger) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

func (c *OpenAIClient) Name() string { return ProviderOpenAI + "/" + c.cfg.Model }

func (c *OpenAIClient) Submit(ctx context.Context, instruction string, schema *Schema) ([]byte, error) {
	body := map[string]any{
		"model": c.cfg.Model,
		"messages": []map[string]any{
			{"role": "user", "content": instruction},
		},
	}
	if schema != nil {
		name := schema.Name
		if name == "" {
			name = "response"
		}
		body["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   name,
				"strict": true,
				"schema": schema.JSONSchema(),
			},
		}
	} else {
		body["response_format"] = map[string]any{"type": "json_object"}
	}
	if c.cfg.Temperature > 0 {
		body["temperature"] = c.cfg.Temperature
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, _, err := SendJSON(ctx, c.http, endpoint, body, map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}, c.logger)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return nil, fmt.Errorf("openai status %d: %s: %w", se.Status, strings.TrimSpace(string(se.Body)), err)
		}
		return nil, fmt.Errorf("openai request: %w", err)
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
				Refusal string `json:"refusal,omitempty"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return nil, errors.New("no choices in openai response")
	}
	if r := cc.Choices[0].Message.Refusal; r != "" {
		return nil, fmt.Errorf("openai refused: %s", r)
	}
	content := strings.TrimSpace(cc.Choices[0].Message.Content)
	if content == "" {
		return nil, errors.New("empty openai response")
	}
	return []byte(content), nil
}
