package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Error codes for the ingestion pipeline and integration engine. The code is
// what status endpoints surface; Message carries the stage and cause.
const (
	CodeBadInput           = "BAD_INPUT"
	CodeOCREmpty           = "OCR_EMPTY"
	CodeOCRHTTP            = "OCR_HTTP"
	CodeOCRTimeout         = "OCR_TIMEOUT"
	CodeLLMHTTP            = "LLM_HTTP"
	CodeLLMTimeout         = "LLM_TIMEOUT"
	CodeLLMEmptyChoices    = "LLM_EMPTY_CHOICES"
	CodeLLMMalformed       = "LLM_MALFORMED"
	CodeLLMTruncated       = "LLM_TRUNCATED"
	CodeVLMPDFUnsupported  = "VLM_PDF_UNSUPPORTED"
	CodeIntegrationUnauth  = "INTEGRATION_UNAUTHORIZED"
	CodeIntegrationBadData = "INTEGRATION_MALFORMED"
)

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInternal     = errors.New("internal error")
)

// NewAppError builds an AppError with an optional cause.
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func NewAppErrorf(code string, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the application error code, or "" for plain errors.
func CodeOf(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
