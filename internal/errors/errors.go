// Package errors provides structured error types for the manager.
// All errors include a category, code, message, and retryable flag so the
// HTTP layer can map them to status codes and clients can decide on retries.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the precondition or component that failed.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryNotFound   ErrorCategory = "NOT_FOUND"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryStore      ErrorCategory = "STORE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeMissingField       = "MISSING_FIELD"
	CodeInvalidLevel       = "INVALID_LEVEL"
	CodeForbiddenExtension = "FORBIDDEN_EXTENSION"
	CodeMissingFile        = "MISSING_FILE"
	CodeInvalidBody        = "INVALID_BODY"
	CodeUnknownLab         = "UNKNOWN_LAB"
	CodeInvalidPathSegment = "INVALID_PATH_SEGMENT"

	// Not found codes
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeLabNotFound     = "LAB_NOT_FOUND"

	// Storage (blob sink) codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeListFailed     = "LIST_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Store (tracking database) codes
	CodeStoreFailure = "STORE_FAILURE"
	CodeIDCollision  = "ID_COLLISION"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// ManagerError is the structured error type used throughout the system.
type ManagerError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *ManagerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *ManagerError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *ManagerError) Is(target error) bool {
	var t *ManagerError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new ManagerError.
func New(category ErrorCategory, code, message string) *ManagerError {
	return &ManagerError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new ManagerError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *ManagerError {
	return &ManagerError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *ManagerError) WithDetails(details map[string]interface{}) *ManagerError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var me *ManagerError
	if errors.As(err, &me) {
		return me.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a ManagerError.
func GetCategory(err error) ErrorCategory {
	var me *ManagerError
	if errors.As(err, &me) {
		return me.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a ManagerError.
func GetCode(err error) string {
	var me *ManagerError
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// IsNotFound reports whether err is in the NOT_FOUND category.
func IsNotFound(err error) bool {
	return GetCategory(err) == ErrCategoryNotFound
}

// IsValidation reports whether err is in the VALIDATION category.
func IsValidation(err error) bool {
	return GetCategory(err) == ErrCategoryValidation
}

// isRetryable determines if an error code is worth retrying by the caller.
// The manager itself never retries.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeListFailed:
		return true
	case category == ErrCategoryStore && code == CodeStoreFailure:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *ManagerError {
	return New(ErrCategoryValidation, code, message)
}

func NewSessionNotFound(sessionID string) *ManagerError {
	return New(ErrCategoryNotFound, CodeSessionNotFound, "Session ID not found").
		WithDetails(map[string]interface{}{"session_id": sessionID})
}

func NewStorageError(code, message string, cause error) *ManagerError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewStoreError(message string, cause error) *ManagerError {
	return Wrap(ErrCategoryStore, CodeStoreFailure, message, cause)
}

func NewInternalError(message string, cause error) *ManagerError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
