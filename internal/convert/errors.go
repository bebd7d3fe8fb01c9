package convert

import (
	"errors"
	"fmt"

	"github.com/roach88/tonegen/internal/ir"
)

// ConversionError reports that a stage failed to turn one IR level into the next.
// Stages are deterministic, so callers should not retry without changing the input.
type ConversionError struct {
	Source ir.Level
	Target ir.Level
	Err    error
}

// Error implements the error interface.
func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert %s -> %s: %v", e.Source, e.Target, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConversionError) Unwrap() error {
	return e.Err
}

// IsConversionError returns true if err wraps a ConversionError.
func IsConversionError(err error) bool {
	var ce *ConversionError
	return errors.As(err, &ce)
}

func fail(source, target ir.Level, err error) error {
	return &ConversionError{Source: source, Target: target, Err: err}
}

func failf(source, target ir.Level, format string, args ...any) error {
	return fail(source, target, fmt.Errorf(format, args...))
}
