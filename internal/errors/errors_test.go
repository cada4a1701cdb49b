package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestManagerError_Error(t *testing.T) {
	err := New(ErrCategoryValidation, CodeInvalidLevel, "bad level")
	expected := "[VALIDATION:INVALID_LEVEL] bad level"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestManagerError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(ErrCategoryStorage, CodeUploadFailed, "upload failed", cause)
	expected := "[STORAGE:UPLOAD_FAILED] upload failed: connection refused"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestManagerError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("database is locked")
	err := NewStoreError("insert failed", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestManagerError_Is(t *testing.T) {
	err1 := NewSessionNotFound("a")
	err2 := NewSessionNotFound("b")
	err3 := NewValidationError(CodeMissingField, "missing")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different categories should not match via Is")
	}
}

func TestManagerError_WrappedChain(t *testing.T) {
	err := fmt.Errorf("handler: %w", NewSessionNotFound("x"))
	if !IsNotFound(err) {
		t.Error("IsNotFound should see through fmt wrapping")
	}
	if IsValidation(err) {
		t.Error("not-found error must not be classified as validation")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryStorage, CodeUploadFailed, true},
		{ErrCategoryStorage, CodeListFailed, true},
		{ErrCategoryStorage, CodeObjectNotFound, false},
		{ErrCategoryStore, CodeStoreFailure, true},
		{ErrCategoryStore, CodeIDCollision, false},
		{ErrCategoryValidation, CodeForbiddenExtension, false},
		{ErrCategoryNotFound, CodeSessionNotFound, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}
}

func TestGetCategoryAndCode(t *testing.T) {
	err := NewValidationError(CodeForbiddenExtension, "no executables")
	if GetCategory(err) != ErrCategoryValidation {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategoryValidation)
	}
	if GetCode(err) != CodeForbiddenExtension {
		t.Errorf("got %q, want %q", GetCode(err), CodeForbiddenExtension)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" {
		t.Error("non-ManagerError should return empty category")
	}
	if GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("non-ManagerError should return empty code")
	}
}

func TestWithDetails_Copies(t *testing.T) {
	base := New(ErrCategoryNotFound, CodeSessionNotFound, "Session ID not found")
	withDetails := base.WithDetails(map[string]interface{}{"session_id": "s1"})

	if base.Details != nil {
		t.Error("WithDetails must not mutate the receiver")
	}
	if withDetails.Details["session_id"] != "s1" {
		t.Errorf("details not set: %v", withDetails.Details)
	}
}
