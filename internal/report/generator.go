// Package report turns extracted campaign text into a structured report.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/campaign-lens/backend/internal/llm"
	"github.com/campaign-lens/backend/internal/models"
	"github.com/google/uuid"
)

// DefaultTimeout bounds a single generation call.
const DefaultTimeout = 60 * time.Second

// Generator builds the instruction, submits it once and parses the result.
type Generator struct {
	provider llm.Provider
	schema   *llm.Schema
	timeout  time.Duration
	logger   *slog.Logger
}

// NewGenerator creates a generator. A non-positive timeout uses DefaultTimeout.
func NewGenerator(provider llm.Provider, timeout time.Duration, logger *slog.Logger) *Generator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		provider: provider,
		schema:   ReportSchema(),
		timeout:  timeout,
		logger:   logger,
	}
}

// Generate returns a complete report or a *GenerationError. There are no
// retries and no partial results.
func (g *Generator) Generate(ctx context.Context, text string) (*models.ReportData, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &GenerationError{Err: ErrEmptyInput}
	}

	rid := uuid.New().String()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	g.logger.Info("report.generate.start",
		"req_id", rid,
		"provider", g.provider.Name(),
		"text_len", len(text),
		"timeout_ms", g.timeout.Milliseconds(),
	)

	raw, err := g.provider.Submit(ctx, BuildPrompt(text), g.schema)
	if err != nil {
		g.logger.Error("report.generate.provider_error",
			"req_id", rid,
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, &GenerationError{Err: err}
	}

	out, err := ParseReport(raw, g.schema)
	if err != nil {
		g.logger.Error("report.generate.invalid_payload",
			"req_id", rid,
			"error", err,
			"raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, &GenerationError{Err: err}
	}

	g.logger.Info("report.generate.ok",
		"req_id", rid,
		"title", out.CampaignTitle,
		"kpis", len(out.KPIs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// ParseReport validates raw against schema and decodes it strictly.
func ParseReport(raw []byte, schema *llm.Schema) (*models.ReportData, error) {
	raw = stripCodeFence(raw)

	if err := llm.ValidateJSONAgainstSchema(schema.JSONSchema(), raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var out models.ReportData
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidPayload, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after report object", ErrInvalidPayload)
	}

	if len(out.KPIs) == 0 {
		return nil, fmt.Errorf("%w: no kpis", ErrInvalidPayload)
	}
	for i, k := range out.KPIs {
		if strings.TrimSpace(k.Name) == "" || strings.TrimSpace(k.Value) == "" {
			return nil, fmt.Errorf("%w: kpi %d is missing name or value", ErrInvalidPayload, i)
		}
	}
	return &out, nil
}

// stripCodeFence removes a ```json ... ``` wrapper some models add anyway.
func stripCodeFence(raw []byte) []byte {
	s := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(s, []byte("```")) {
		return s
	}
	s = s[3:]
	if nl := bytes.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = bytes.TrimSuffix(bytes.TrimSpace(s), []byte("```"))
	return bytes.TrimSpace(s)
}
