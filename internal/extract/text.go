package extract

import (
	"context"
)

// TextExtractor handles CSV and plain text. It accepts any media type, so it
// must stay last in the registry.
type TextExtractor struct{}

func NewTextExtractor() *TextExtractor { return &TextExtractor{} }

func (t *TextExtractor) Name() string { return "text" }

func (t *TextExtractor) CanExtract(mediaType, name string) bool { return true }

// ExtractText returns the content unchanged.
func (t *TextExtractor) ExtractText(ctx context.Context, content []byte) (string, error) {
	return string(content), nil
}
