// Package errors provides a lightweight structured error type (AutobuildError)
// for category-based classification and retry semantics in RPC adapters and CLI.
package errors

import (
	"fmt"
)

// ErrorCategory represents the category of an autobuild error for classification
type ErrorCategory string

const (
	// User-facing configuration and input errors
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"

	// Profile and engine state errors
	CategoryNotFound ErrorCategory = "not_found"
	CategoryState    ErrorCategory = "state"

	// Process control errors
	CategorySpawn   ErrorCategory = "spawn"
	CategoryProcess ErrorCategory = "process"

	// Persistence and watching errors
	CategoryStorage ErrorCategory = "storage"
	CategoryWatch   ErrorCategory = "watch"
	CategoryHistory ErrorCategory = "history"
	CategoryNotify  ErrorCategory = "notify"

	// Runtime and infrastructure errors
	CategoryDaemon   ErrorCategory = "daemon"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
	SeverityInfo    ErrorSeverity = "info"    // Informational, no impact
)

// AutobuildError is a structured error with category, retryability, and context
type AutobuildError struct {
	Category  ErrorCategory `json:"category"`
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for AutobuildError
type ContextFields map[string]any

// Error implements the error interface
func (e *AutobuildError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *AutobuildError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *AutobuildError) WithContext(key string, value any) *AutobuildError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new AutobuildError
func New(category ErrorCategory, severity ErrorSeverity, message string) *AutobuildError {
	return &AutobuildError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: false,
	}
}

// Wrap creates a new AutobuildError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *AutobuildError {
	return &AutobuildError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: false,
	}
}

// Retryable creates a new retryable AutobuildError
func Retryable(category ErrorCategory, severity ErrorSeverity, message string) *AutobuildError {
	return &AutobuildError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: true,
	}
}

// WrapRetryable creates a new retryable AutobuildError that wraps an existing error
func WrapRetryable(err error, category ErrorCategory, severity ErrorSeverity, message string) *AutobuildError {
	return &AutobuildError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// IsCategory checks if an error belongs to a specific category
func IsCategory(err error, category ErrorCategory) bool {
	if abe, ok := err.(*AutobuildError); ok {
		return abe.Category == category
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if abe, ok := err.(*AutobuildError); ok {
		return abe.Retryable
	}
	return false
}

// GetCategory extracts the category from an error, or returns CategoryInternal if not an AutobuildError
func GetCategory(err error) ErrorCategory {
	if abe, ok := err.(*AutobuildError); ok {
		return abe.Category
	}
	return CategoryInternal
}

// ValidationError creates a new validation error
func ValidationError(message string) *AutobuildError {
	return &AutobuildError{
		Category:  CategoryValidation,
		Severity:  SeverityWarning,
		Message:   message,
		Retryable: false,
	}
}

// DaemonError creates a new daemon error (service unavailable)
func DaemonError(message string) *AutobuildError {
	return &AutobuildError{
		Category:  CategoryDaemon,
		Severity:  SeverityError,
		Message:   message,
		Retryable: false,
	}
}

// WrapError wraps an existing error with a new AutobuildError
func WrapError(err error, category ErrorCategory, message string) *AutobuildError {
	return &AutobuildError{
		Category:  category,
		Severity:  SeverityError,
		Message:   message,
		Cause:     err,
		Retryable: false,
	}
}
