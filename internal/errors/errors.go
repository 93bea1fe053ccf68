// Package errors provides structured error types for crimestats.
// All errors include a category, code, message, and retryable flag so the
// CLI can tell configuration, source, and data failures apart.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by failure class.
type ErrorCategory string

const (
	ErrCategoryConfig   ErrorCategory = "CONFIG"
	ErrCategorySource   ErrorCategory = "SOURCE"
	ErrCategoryData     ErrorCategory = "DATA"
	ErrCategoryStorage  ErrorCategory = "STORAGE"
	ErrCategoryInternal ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Configuration codes
	CodeNoInputs      = "NO_INPUTS"
	CodeNoOutput      = "NO_OUTPUT"
	CodeNoSuburbs     = "NO_SUBURBS"
	CodeInvalidConfig = "INVALID_CONFIG"

	// Source codes
	CodeUnreadable    = "UNREADABLE"
	CodeParseFailed   = "PARSE_FAILED"
	CodeMissingFields = "MISSING_FIELDS"
	CodeEmptySource   = "EMPTY_SOURCE"

	// Data codes
	CodeNoRows        = "NO_ROWS"
	CodeCountOverflow = "COUNT_OVERFLOW"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"
	CodeWriteFailed    = "WRITE_FAILED"

	// Internal codes
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeUnexpected       = "UNEXPECTED"
)

// CrimeStatsError is the structured error type used throughout the system.
type CrimeStatsError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *CrimeStatsError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *CrimeStatsError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *CrimeStatsError) Is(target error) bool {
	var t *CrimeStatsError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new CrimeStatsError.
func New(category ErrorCategory, code, message string) *CrimeStatsError {
	return &CrimeStatsError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new CrimeStatsError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *CrimeStatsError {
	return &CrimeStatsError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *CrimeStatsError) WithDetails(details map[string]interface{}) *CrimeStatsError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var ce *CrimeStatsError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a CrimeStatsError.
func GetCategory(err error) ErrorCategory {
	var ce *CrimeStatsError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a CrimeStatsError.
func GetCode(err error) string {
	var ce *CrimeStatsError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsConfig reports whether err is a configuration error.
func IsConfig(err error) bool { return GetCategory(err) == ErrCategoryConfig }

// IsSource reports whether err is a per-source error.
func IsSource(err error) bool { return GetCategory(err) == ErrCategorySource }

// IsData reports whether err is a data error.
func IsData(err error) bool { return GetCategory(err) == ErrCategoryData }

// isRetryable determines if an error code is retryable. Only transient
// object storage transfers are.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewConfigError(code, message string) *CrimeStatsError {
	return New(ErrCategoryConfig, code, message)
}

func NewSourceError(code, message string, cause error) *CrimeStatsError {
	return Wrap(ErrCategorySource, code, message, cause)
}

func NewDataError(code, message string) *CrimeStatsError {
	return New(ErrCategoryData, code, message)
}

func NewStorageError(code, message string, cause error) *CrimeStatsError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *CrimeStatsError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
