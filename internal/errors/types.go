package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeDecode     ErrorType = "decode"
	ErrorTypeData       ErrorType = "data"
	ErrorTypeRender     ErrorType = "render"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// PlaygroundError is a structured error type with context.
type PlaygroundError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Document    string
	Line        int
	Column      int
	Recoverable bool
}

// Error implements the error interface.
func (e *PlaygroundError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Document != "" {
		location := e.Document
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
			if e.Column > 0 {
				location += fmt.Sprintf(":%d", e.Column)
			}
		}
		parts = append(parts, location)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *PlaygroundError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *PlaygroundError) Is(target error) bool {
	var t *PlaygroundError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *PlaygroundError) WithContext(key string, value interface{}) *PlaygroundError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithLocation adds document location information.
func (e *PlaygroundError) WithLocation(document string, line, column int) *PlaygroundError {
	e.Document = document
	e.Line = line
	e.Column = column

	return e
}

// Error creation functions

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *PlaygroundError {
	return &PlaygroundError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewDecodeError creates a share-link decode error. Decode errors never
// alter session state, so they are always recoverable.
func NewDecodeError(message string, cause error) *PlaygroundError {
	return &PlaygroundError{
		Type:        ErrorTypeDecode,
		Code:        ErrCodeDecode,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewDataParseError creates an error for a data document that is not
// well-formed JSON. Offset is the byte offset reported by the parser, or
// zero when unknown.
func NewDataParseError(cause error, offset int64) *PlaygroundError {
	e := &PlaygroundError{
		Type:        ErrorTypeData,
		Code:        ErrCodeDataParse,
		Message:     "data is not well-formed JSON",
		Cause:       cause,
		Document:    "data",
		Recoverable: true,
	}
	if offset > 0 {
		e.WithContext("offset", offset)
	}
	return e
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *PlaygroundError {
	return &PlaygroundError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *PlaygroundError {
	return &PlaygroundError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *PlaygroundError {
	return &PlaygroundError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// Error recovery and handling utilities

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var pe *PlaygroundError
	if errors.As(err, &pe) {
		return pe.Recoverable
	}

	var re *RenderError
	return errors.As(err, &re)
}

// IsDecodeError reports whether err is a share-link decode failure.
func IsDecodeError(err error) bool {
	var pe *PlaygroundError
	if errors.As(err, &pe) {
		return pe.Type == ErrorTypeDecode
	}

	return false
}

// IsDataParseError reports whether err is a malformed data document.
func IsDataParseError(err error) bool {
	var pe *PlaygroundError
	if errors.As(err, &pe) {
		return pe.Type == ErrorTypeData
	}

	return false
}

// ErrorHandler provides centralized error handling.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs an error at a level appropriate to its kind. Recoverable
// authoring mistakes are warnings; everything else is an error.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var re *RenderError
	if errors.As(err, &re) {
		h.logger.Warn(ctx, err, "Render failed", "code", re.Code)
		return
	}

	var pe *PlaygroundError
	if !errors.As(err, &pe) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	if IsRecoverable(pe) {
		h.logger.Warn(ctx, err, "Recoverable error occurred",
			"type", pe.Type,
			"code", pe.Code,
			"document", pe.Document,
			"line", pe.Line)
		return
	}
	h.logger.Error(ctx, err, "Error occurred",
		"type", pe.Type,
		"code", pe.Code)
}

// Common error codes.
const (
	ErrCodeDecode           = "ERR_DECODE"
	ErrCodeDataParse        = "ERR_DATA_PARSE"
	ErrCodeInvalidShareLink = "ERR_INVALID_SHARE_LINK"
	ErrCodeSampleNotFound   = "ERR_SAMPLE_NOT_FOUND"
	ErrCodeSessionNotFound  = "ERR_SESSION_NOT_FOUND"
	ErrCodeEncode           = "ERR_ENCODE"
	ErrCodeConfigInvalid    = "ERR_CONFIG_INVALID"
	ErrCodeFileNotFound     = "ERR_FILE_NOT_FOUND"
	ErrCodeFileRead         = "ERR_FILE_READ"
	ErrCodeFileWrite        = "ERR_FILE_WRITE"
	ErrCodeInvalidEncoding  = "ERR_INVALID_ENCODING"
	ErrCodeInternalError    = "ERR_INTERNAL"
	ErrCodeValidationFailed = "ERR_VALIDATION_FAILED"
)

// Sentinels for errors.Is comparisons. Is matches on Type and Code, so
// any PlaygroundError with the same pair compares equal.
var (
	ErrSampleNotFound   = NewValidationError(ErrCodeSampleNotFound, "sample not found")
	ErrInvalidShareLink = NewValidationError(ErrCodeInvalidShareLink, "Invalid share link data")
	ErrSessionNotFound  = NewValidationError(ErrCodeSessionNotFound, "session not found")
)

// ErrUnknownSample creates a sample-not-found error for name.
func ErrUnknownSample(name string) *PlaygroundError {
	return NewValidationError(ErrCodeSampleNotFound, "sample not found: "+name)
}
