package core

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrStoreClosed is returned when trying to use a closed engine or backend
	ErrStoreClosed = errors.New("store is closed")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidRange is returned when a range window tolerance is negative
	ErrInvalidRange = errors.New("range must be non-negative")

	// ErrPoolTimeout is returned when no backend connection could be checked out in time
	ErrPoolTimeout = errors.New("timed out waiting for a backend connection")

	// ErrUnknownFormat is returned when a dump stream cannot be decoded
	ErrUnknownFormat = errors.New("unknown dump format")
)

// ConfigError reports a missing or malformed configuration value.
// It is returned at construction time, before any backend I/O happens.
type ConfigError struct {
	Key    string
	Reason string
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("sqprint: config %s: %s", e.Key, e.Reason)
}

// Is reports ErrInvalidConfig as the sentinel for every ConfigError
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// StoreError wraps errors with operation context
type StoreError struct {
	Op  string // Operation name
	Err error  // Underlying error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("sqprint: %v", e.Err)
	}
	return fmt.Sprintf("sqprint: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *StoreError) Unwrap() error {
	return e.Err
}

// wrapError wraps an error with operation context
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) && se.Op == op {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// WrapError is wrapError for backends living outside this package.
func WrapError(op string, err error) error {
	return wrapError(op, err)
}

// IsStorageFailure reports whether err came from the persistent backend
// (as opposed to a configuration problem or a closed engine).
func IsStorageFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrStoreClosed) || errors.Is(err, ErrInvalidRange) {
		return false
	}
	var se *StoreError
	return errors.As(err, &se)
}
