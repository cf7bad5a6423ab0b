package session

import (
	"errors"
	"fmt"
)

// User-facing controller messages.
const (
	MsgSelectFile = "Por favor, selecciona un archivo primero."
	MsgUnexpected = "Ocurrió un error inesperado al procesar el archivo."
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrBusy            = errors.New("analysis already in progress")
)

// ValidationError reports a command issued without its preconditions.
// It never changes the session beyond surfacing Message.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}
