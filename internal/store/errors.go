package store

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when no pattern matches a lookup.
var ErrNotFound = errors.New("pattern not found")

// ConflictError reports a write that would break the (name, pattern_type)
// uniqueness of the pattern table.
type ConflictError struct {
	Name        string
	PatternType string
	Err         error
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("pattern %q of type %q conflicts with a stored pattern: %v", e.Name, e.PatternType, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConflictError) Unwrap() error {
	return e.Err
}

// StorageError wraps a database failure with the store operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsConflict returns true if err wraps a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsNotFound returns true if err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// translate converts driver errors into store errors. Uniqueness violations
// become ConflictErrors for the pattern being written; everything else is a
// StorageError. Errors that are already store errors pass through.
func translate(op, name, patternType string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || IsConflict(err) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return &ConflictError{Name: name, PatternType: patternType, Err: errors.New(sqliteErr.Error())}
		}
	}
	return &StorageError{Op: op, Err: err}
}
