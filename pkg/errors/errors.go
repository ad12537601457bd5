package errors

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedExtension    = errors.New("unsupported file extension")
	ErrFileTooLarge            = errors.New("file exceeds maximum allowed size")
	ErrNoFileSelected          = errors.New("no file selected")
	ErrNoTenantSelected        = errors.New("no cedente selected")
	ErrDigestPending           = errors.New("file digest computation still in progress")
	ErrTenantAmbiguous         = errors.New("tenant context is ambiguous")
	ErrTenantChoiceAborted     = errors.New("tenant choice was aborted")
	ErrAnalysisRequired        = errors.New("file kind requires analysis before import")
	ErrNoAnalysisSession       = errors.New("no analysis session available")
	ErrAnalysisInvalid         = errors.New("analysis outcome is invalid, file must be corrected")
	ErrWarningsNotAcknowledged = errors.New("analysis warnings must be acknowledged before confirming")
	ErrSessionExpired          = errors.New("analysis session not found or expired")
	ErrChannelClosed           = errors.New("live channel is closed")
)

// Error codes used on the wire by the import server.
const (
	CodeTenantAmbiguous = "CONTEXTO_EMPRESA_AMBIGUO"
	CodeSessionExpired  = "SESSAO_ANALISE_EXPIRADA"
)

type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
	Err     error
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s' with value '%v': %s",
		e.Field, e.Value, e.Message)
}

func (e ValidationError) Unwrap() error {
	return e.Err
}

// APIError carries the human-readable message extracted from a server
// error response, alongside the HTTP status and the server error code.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
}

// Unwrap maps distinguished server error codes onto sentinel errors so
// callers can match them with errors.Is.
func (e APIError) Unwrap() error {
	switch e.Code {
	case CodeTenantAmbiguous:
		return ErrTenantAmbiguous
	case CodeSessionExpired:
		return ErrSessionExpired
	}
	return nil
}
