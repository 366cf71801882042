package lisarun

import (
	"errors"
	"fmt"
)

// ConfigError represents an invalid configuration detected before any VM or
// process work begins. It leads to exit code 1.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError
func NewConfigError(err error) *ConfigError {
	return &ConfigError{Err: err}
}

// IsConfigError checks if the error is or wraps a ConfigError
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return err != nil && errors.As(err, &cfgErr)
}

// RuntimeError represents an operational error that should lead to exit code 2.
// Examples include a failed VHD copy or suites that produced no log folder.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}
