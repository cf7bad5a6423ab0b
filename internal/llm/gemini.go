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
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-2.5-flash"
)

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenConfig struct {
	ResponseMIMEType string         `json:"responseMimeType"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
	Temperature      *float32       `json:"temperature,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason,omitempty"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
	Error *geminiError `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// GeminiClient calls the Gemini generateContent REST endpoint with a
// response schema.
type GeminiClient struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewGeminiClient(cfg Config, logger *slog.Logger) *GeminiClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeminiBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

func (c *GeminiClient) Name() string { return ProviderGemini + "/" + c.cfg.Model }

func (c *GeminiClient) Submit(ctx context.Context, instruction string, schema *Schema) ([]byte, error) {
	body := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: instruction}},
		}},
		GenerationConfig: geminiGenConfig{
			ResponseMIMEType: "application/json",
		},
	}
	if schema != nil {
		body.GenerationConfig.ResponseSchema = schema.GeminiSchema()
	}
	if c.cfg.Temperature > 0 {
		t := c.cfg.Temperature
		body.GenerationConfig.Temperature = &t
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.Model)
	raw, _, err := SendJSON(ctx, c.http, url, body, map[string]string{"x-goog-api-key": c.cfg.APIKey}, c.logger)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			var wrapped geminiResponse
			if json.Unmarshal(se.Body, &wrapped) == nil && wrapped.Error != nil {
				return nil, fmt.Errorf("gemini status %d: %s: %w", se.Status, wrapped.Error.Message, err)
			}
		}
		return nil, fmt.Errorf("gemini request: %w", err)
	}

	var resp geminiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode gemini response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("gemini error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("gemini blocked prompt: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return nil, errors.New("no candidates in gemini response")
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, fmt.Errorf("empty gemini response (finish reason %q)", resp.Candidates[0].FinishReason)
	}
	return []byte(text), nil
}
