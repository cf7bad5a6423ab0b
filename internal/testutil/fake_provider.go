package testutil

import (
	"context"
	"sync"

	"github.com/campaign-lens/backend/internal/llm"
)

// ValidReportJSON is a schema-conforming provider response.
const ValidReportJSON = `{
  "campaignTitle": "Newsletter de Primavera",
  "summary": "La campaña tuvo una apertura sólida y un CTR moderado.",
  "kpis": [
    {"name": "Tasa de Apertura", "value": "25.0%", "interpretation": "Por encima del promedio del sector."},
    {"name": "CTR", "value": "2.5%", "interpretation": "Uno de cada cuarenta destinatarios hizo clic."}
  ],
  "positiveInsights": ["Buen asunto", "Envío en horario óptimo", "Lista limpia"],
  "areasForImprovement": ["CTA poco visible", "Diseño móvil", "Segmentación"],
  "actionableRecommendations": ["Probar A/B del CTA", "Optimizar para móvil", "Segmentar por interés"]
}`

// FakeProvider implements llm.Provider for tests. It records every instruction
// and answers with Response or Err. When Block is set, Submit waits until it
// is closed or the context ends.
type FakeProvider struct {
	mu           sync.Mutex
	Response     []byte
	Err          error
	Block        chan struct{}
	instructions []string
	schemas      []*llm.Schema
}

// NewFakeProvider returns a provider answering with ValidReportJSON.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{Response: []byte(ValidReportJSON)}
}

func (f *FakeProvider) Name() string { return "fake" }

func (f *FakeProvider) Submit(ctx context.Context, instruction string, schema *llm.Schema) ([]byte, error) {
	f.mu.Lock()
	f.instructions = append(f.instructions, instruction)
	f.schemas = append(f.schemas, schema)
	block := f.Block
	resp, err := f.Response, f.Err
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Calls returns the number of Submit calls.
func (f *FakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.instructions)
}

// LastInstruction returns the most recent instruction, or "".
func (f *FakeProvider) LastInstruction() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.instructions) == 0 {
		return ""
	}
	return f.instructions[len(f.instructions)-1]
}

// LastSchema returns the schema sent with the most recent call.
func (f *FakeProvider) LastSchema() *llm.Schema {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.schemas) == 0 {
		return nil
	}
	return f.schemas[len(f.schemas)-1]
}

// SetResponse replaces the canned response.
func (f *FakeProvider) SetResponse(resp []byte, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Response, f.Err = resp, err
}
