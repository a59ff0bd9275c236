package errors

import (
	"errors"
)

// Wrap wraps an error with additional context, creating a PlaygroundError
// if the input is not already one.
func Wrap(err error, errType ErrorType, code, message string) *PlaygroundError {
	if err == nil {
		return nil
	}

	// If it's already a PlaygroundError, preserve its properties but update the message
	var pe *PlaygroundError
	if errors.As(err, &pe) {
		return &PlaygroundError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Cause:       pe,
			Context:     pe.Context,
			Document:    pe.Document,
			Line:        pe.Line,
			Column:      pe.Column,
			Recoverable: pe.Recoverable,
		}
	}

	return &PlaygroundError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType == ErrorTypeValidation || errType == ErrorTypeDecode || errType == ErrorTypeData,
	}
}

// WrapIO wraps an error as an I/O error
func WrapIO(err error, code, message string) *PlaygroundError {
	pe := Wrap(err, ErrorTypeIO, code, message)
	if pe != nil {
		pe.Recoverable = false
	}
	return pe
}

// WrapConfig wraps an error as a configuration error
func WrapConfig(err error, code, message string) *PlaygroundError {
	pe := Wrap(err, ErrorTypeConfig, code, message)
	if pe != nil {
		pe.Recoverable = false
	}
	return pe
}

// WrapInternal wraps an error as an internal error
func WrapInternal(err error, code, message string) *PlaygroundError {
	pe := Wrap(err, ErrorTypeInternal, code, message)
	if pe != nil {
		pe.Recoverable = false
	}
	return pe
}

// GetErrorContext flattens err into fields suitable for a JSON error body
// or a structured log entry.
func GetErrorContext(err error) map[string]interface{} {
	var pe *PlaygroundError
	if errors.As(err, &pe) {
		context := make(map[string]interface{})
		for k, v := range pe.Context {
			context[k] = v
		}
		if pe.Document != "" {
			context["document"] = pe.Document
			if pe.Line > 0 {
				context["line"] = pe.Line
				if pe.Column > 0 {
					context["column"] = pe.Column
				}
			}
		}
		context["type"] = string(pe.Type)
		context["code"] = pe.Code
		context["recoverable"] = pe.Recoverable
		return context
	}

	var re *RenderError
	if errors.As(err, &re) {
		return map[string]interface{}{
			"message":     Format(re),
			"type":        string(ErrorTypeRender),
			"code":        re.Code,
			"recoverable": true,
		}
	}

	return map[string]interface{}{
		"message": err.Error(),
		"type":    "unknown",
	}
}

// CollectErrors helper for common error collection patterns
func CollectErrors(errs ...error) []error {
	var collected []error
	for _, err := range errs {
		if err != nil {
			collected = append(collected, err)
		}
	}
	return collected
}
