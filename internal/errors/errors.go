// Package errors consolidates error definitions for the runboard core.
//
// This package provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - Error wrapping utilities
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Log decoding.

	// ErrIncompleteTail is returned when a frame's declared length extends
	// past the current end of file. This is the expected steady state while
	// a segment is still being written: the caller retries from the same
	// offset on the next reload. It is never treated as corruption.
	ErrIncompleteTail = errors.New("incomplete trailing frame")

	// ErrCorruptRecord is returned when a complete frame fails its checksum
	// or its payload fails to decode. The file is considered unreadable past
	// this point and the cursor stops advancing.
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrFrameTooLarge is returned when a frame declares a length above the
	// configured maximum. Treated as corruption.
	ErrFrameTooLarge = errors.New("frame too large")

	// Directory watching.

	// ErrOutOfOrderFile is reported when a newly discovered segment sorts
	// before the watcher's current file. The file is skipped, never rewound
	// into.
	ErrOutOfOrderFile = errors.New("segment out of order")

	// ErrFileVanished is returned when the watcher's current file disappears
	// from the directory. Older files vanishing is tolerated; losing the
	// current file means data loss for the run.
	ErrFileVanished = errors.New("current segment vanished")

	// Lifecycle.

	// ErrReloadInProgress is returned when Reload is called on a run that is
	// already loading. The call is rejected immediately, never queued.
	ErrReloadInProgress = errors.New("reload already in progress")

	// ErrClosed is returned for any operation on a closed run.
	ErrClosed = errors.New("run is closed")

	// Lookup.

	ErrNotFound    = errors.New("not found")
	ErrRunNotFound = errors.New("run not found")
	ErrTagNotFound = errors.New("tag not found")

	// Registration.

	ErrAlreadyExists    = errors.New("already exists")
	ErrRunAlreadyExists = errors.New("run already exists")

	// Validation.

	ErrInvalidName   = errors.New("invalid name")
	ErrInvalidPath   = errors.New("invalid path")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required field")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrRunNotFound) ||
		errors.Is(err, ErrTagNotFound)
}

// IsAlreadyExists returns true if err is an already-exists error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrRunAlreadyExists)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrInvalidPath) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField)
}

// IsCorruption returns true if err indicates an unrecoverable decode failure.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrCorruptRecord) ||
		errors.Is(err, ErrFrameTooLarge)
}

// IsRetriable returns true if a reload that failed with err may succeed on a
// later attempt without external remediation.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrIncompleteTail) ||
		errors.Is(err, ErrReloadInProgress)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewNotFound creates a not-found error with context.
func NewNotFound(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrNotFound)
}

// NewAlreadyExists creates an already-exists error with context.
func NewAlreadyExists(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrAlreadyExists)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}
