package extract

import (
	"errors"
	"fmt"
)

// User-facing extraction messages. They are shown to the user as they are.
const (
	MsgCorruptPDF = "No se pudo procesar el archivo PDF. Asegúrate de que no esté corrupto."
	MsgReadFailed = "Error al leer el archivo."
	MsgNoText     = "No se pudo extraer contenido de texto del archivo."
)

// ErrNoText is the cause recorded when a file yields no readable characters.
var ErrNoText = errors.New("no extractable text")

// ExtractionError is returned when a file cannot be turned into text.
// Message is safe to show to the user; Err keeps the underlying cause for logs.
type ExtractionError struct {
	Message string
	Err     error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction failed: %s: %v", e.Message, e.Err)
	}
	return "extraction failed: " + e.Message
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// NewReadError wraps a failure to read the file bytes.
func NewReadError(cause error) *ExtractionError {
	return &ExtractionError{Message: MsgReadFailed, Err: cause}
}
