package ir

import (
	"errors"
	"fmt"
)

// Level names an IR level in errors and structured forms.
type Level string

const (
	LevelIntent    Level = "IntentLevel"
	LevelParameter Level = "ParameterLevel"
	LevelStructure Level = "StructureLevel"
	LevelCode      Level = "CodeLevel"
)

// ValidationError reports that a single IR instance violates an invariant.
type ValidationError struct {
	// Level is the IR level that failed validation.
	Level Level

	// Field is a dotted path to the offending field, e.g. "parameters.frequency".
	Field string

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: invalid %s: %s", e.Level, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Level, e.Message)
}

// IsValidationError returns true if err wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func newValidationError(level Level, field, format string, args ...any) *ValidationError {
	return &ValidationError{Level: level, Field: field, Message: fmt.Sprintf(format, args...)}
}

// withPrefix re-homes a nested validation error under a parent field.
func withPrefix(err error, level Level, prefix string) error {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	field := prefix
	if ve.Field != "" {
		field = prefix + "." + ve.Field
	}
	return &ValidationError{Level: level, Field: field, Message: ve.Message}
}
