package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestPipelineError_Error(t *testing.T) {
	err := New(ErrCategoryStorage, CodeUploadFailed, "upload failed")
	expected := "[STORAGE:UPLOAD_FAILED] upload failed"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestPipelineError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("invalid syntax")
	err := NewTransformError(CodeCoercionFailed, "quantity", cause)
	expected := "[TRANSFORM:COERCION_FAILED] quantity: invalid syntax"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestPipelineError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := NewCatalogError(CodeRegisterFailed, "register", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestPipelineError_Is(t *testing.T) {
	err1 := New(ErrCategoryStorage, CodeDecompressFailed, "first")
	err2 := New(ErrCategoryStorage, CodeDecompressFailed, "second")
	err3 := New(ErrCategoryStorage, CodeDownloadFailed, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}

	wrapped := fmt.Errorf("object raw/a.json: %w", err1)
	if !errors.Is(wrapped, err2) {
		t.Error("Is should see through fmt wrapping")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryStorage, CodeUploadFailed, true},
		{ErrCategoryStorage, CodeDownloadFailed, true},
		{ErrCategoryStorage, CodeListFailed, true},
		{ErrCategoryStorage, CodeObjectNotFound, false},
		{ErrCategoryStorage, CodeDecompressFailed, false},
		{ErrCategoryCatalog, CodeRegisterFailed, true},
		{ErrCategoryCatalog, CodeTableMismatch, false},
		{ErrCategoryBuffer, CodeSubmitFailed, true},
		{ErrCategoryParse, CodeInvalidJSON, false},
		{ErrCategoryTransform, CodeCoercionFailed, false},
		{ErrCategoryValidation, CodeInvalidConfig, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}
	if IsRetryable(fmt.Errorf("plain")) {
		t.Error("plain errors are never retryable")
	}
}

func TestGetCategoryAndCode(t *testing.T) {
	err := NewParseError(CodeInvalidJSON, "line 3", fmt.Errorf("unexpected EOF"))
	if GetCategory(err) != ErrCategoryParse {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategoryParse)
	}
	if GetCode(err) != CodeInvalidJSON {
		t.Errorf("got %q, want %q", GetCode(err), CodeInvalidJSON)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" {
		t.Error("non-PipelineError should return empty category")
	}
	if GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("non-PipelineError should return empty code")
	}
}

func TestWithDetails(t *testing.T) {
	base := NewValidationError(CodeInvalidConfig, "bad config")
	detailed := base.WithDetails(map[string]interface{}{"field": "generator.batch_size"})

	if base.Details != nil {
		t.Error("WithDetails should not mutate the receiver")
	}
	if detailed.Details["field"] != "generator.batch_size" {
		t.Errorf("unexpected details: %v", detailed.Details)
	}
}
