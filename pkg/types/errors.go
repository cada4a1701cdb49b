package types

import "fmt"

// Validation codes reported by request Validate methods.
const (
	CodeMissingField = "MISSING_FIELD"
	CodeInvalidLevel = "INVALID_LEVEL"
)

// ValidationError describes a request field that failed boundary validation.
type ValidationError struct {
	Field  string
	Code   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func missingField(field string) *ValidationError {
	return &ValidationError{Field: field, Code: CodeMissingField, Reason: "field is required"}
}
