package report

import (
	"errors"
	"fmt"
)

// MsgGenerationFailed is the only generation message shown to users.
const MsgGenerationFailed = "Hubo un error al generar el reporte con la IA. Por favor, revisa el formato de tu archivo e inténtalo de nuevo."

var (
	ErrEmptyInput     = errors.New("empty input text")
	ErrInvalidPayload = errors.New("invalid report payload")
)

// GenerationError wraps any failure to obtain a complete report. Its cause is
// for logs only; UserMessage is what the client sees.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("report generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// UserMessage returns the client-safe message.
func (e *GenerationError) UserMessage() string {
	return MsgGenerationFailed
}
