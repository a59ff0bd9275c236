package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Render error codes reported by the renderer.
const (
	CodeModelParse      = "ModelParseError"
	CodeModelResolve    = "ModelResolveError"
	CodeIllegalModel    = "IllegalModelException"
	CodeTemplateParse   = "TemplateParseError"
	CodeTemplateType    = "TemplateTypeError"
	CodeValidation      = "ValidationException"
	CodeFormula         = "FormulaError"
	CodeRenderCancelled = "RenderCancelled"
)

// RenderError is returned when the renderer rejects a (template, model,
// data) triple. Code is optional; Errors holds nested causes, each of
// which may itself be a RenderError.
type RenderError struct {
	Code    string
	Errors  []error
	Message string
}

// Error implements the error interface using the same normalization the
// session applies to lastError.
func (e *RenderError) Error() string {
	return Format(e)
}

// Unwrap exposes the nested errors to errors.Is and errors.As.
func (e *RenderError) Unwrap() []error {
	return e.Errors
}

// NewRenderError creates a render error with optional nested causes.
func NewRenderError(code, message string, nested ...error) *RenderError {
	return &RenderError{
		Code:    code,
		Errors:  CollectErrors(nested...),
		Message: message,
	}
}

// Renderf is NewRenderError with a formatted message and no nested causes.
func Renderf(code, format string, args ...interface{}) *RenderError {
	return &RenderError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrorList is a list of errors reported together.
type ErrorList []error

// Error joins each element's normalized message with newlines.
func (l ErrorList) Error() string {
	return Format(l)
}

// Unwrap exposes the list to errors.Is and errors.As.
func (l ErrorList) Unwrap() []error {
	return l
}

// Format normalizes err into the message shown to the user:
//
//   - an error with a code formats as "Error: <code> <nested> <message>",
//     nested errors formatted recursively;
//   - a list formats as each element's message joined by newlines;
//   - anything else uses its string form.
func Format(err error) string {
	if err == nil {
		return ""
	}

	switch e := err.(type) {
	case ErrorList:
		return formatList(e)
	case *RenderError:
		if e.Code == "" {
			if e.Message != "" {
				return e.Message
			}
			return formatList(e.Errors)
		}
		sub := ""
		if len(e.Errors) > 0 {
			sub = formatList(e.Errors)
		}
		return fmt.Sprintf("Error: %s %s %s", e.Code, sub, e.Message)
	}

	var re *RenderError
	if errors.As(err, &re) {
		return Format(re)
	}

	var list ErrorList
	if errors.As(err, &list) {
		return formatList(list)
	}

	return err.Error()
}

func formatList(errs []error) string {
	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		if e == nil {
			continue
		}
		messages = append(messages, Format(e))
	}
	return strings.Join(messages, "\n")
}

// IsRenderError reports whether err carries a RenderError.
func IsRenderError(err error) bool {
	var re *RenderError
	return errors.As(err, &re)
}

// RenderCode returns the code of the outermost RenderError in err, or "".
func RenderCode(err error) string {
	var re *RenderError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}
