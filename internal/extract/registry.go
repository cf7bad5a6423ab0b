package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/campaign-lens/backend/internal/models"
)

// FormatExtractor turns the bytes of one file format into plain text.
type FormatExtractor interface {
	Name() string
	CanExtract(mediaType, name string) bool
	ExtractText(ctx context.Context, content []byte) (string, error)
}

// Registry holds the available format extractors and picks one per file.
// Extractors are consulted in registration order.
type Registry struct {
	extractors []FormatExtractor
	logger     *slog.Logger
}

// NewRegistry returns a registry with the PDF extractor followed by the text fallback.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		extractors: []FormatExtractor{
			NewPDFExtractor(),
			NewTextExtractor(),
		},
		logger: logger,
	}
}

// Register adds an extractor ahead of the built-in ones.
func (r *Registry) Register(e FormatExtractor) {
	r.extractors = append([]FormatExtractor{e}, r.extractors...)
}

// Find returns the extractor responsible for a media type / name pair.
func (r *Registry) Find(mediaType, name string) (FormatExtractor, error) {
	for _, e := range r.extractors {
		if e.CanExtract(mediaType, name) {
			return e, nil
		}
	}
	return nil, fmt.Errorf("no extractor for %q (%s)", name, mediaType)
}

// Extract produces the text of file. Blank output is an error: callers never
// receive an empty string with a nil error.
func (r *Registry) Extract(ctx context.Context, file *models.FileInfo, content []byte) (string, error) {
	start := time.Now()

	e, err := r.Find(file.MediaType, file.Name)
	if err != nil {
		return "", &ExtractionError{Message: MsgReadFailed, Err: err}
	}

	text, err := e.ExtractText(ctx, content)
	if err != nil {
		var xe *ExtractionError
		if !errors.As(err, &xe) {
			xe = &ExtractionError{Message: MsgReadFailed, Err: err}
		}
		r.logger.Warn("extract.failed",
			"file_id", file.ID,
			"extractor", e.Name(),
			"error", xe.Err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", xe
	}

	if strings.TrimSpace(text) == "" {
		r.logger.Warn("extract.empty",
			"file_id", file.ID,
			"extractor", e.Name(),
			"bytes", len(content),
		)
		return "", &ExtractionError{Message: MsgNoText, Err: ErrNoText}
	}

	r.logger.Info("extract.ok",
		"file_id", file.ID,
		"extractor", e.Name(),
		"bytes", len(content),
		"chars", len(text),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return text, nil
}
