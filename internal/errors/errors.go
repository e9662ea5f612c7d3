// Package errors provides structured error types for the clickstream pipeline.
// All errors include a category, code, message, and retryable flag so that
// runners can tell recoverable record-level problems from failures that must
// abort an invocation.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by pipeline stage.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryParse      ErrorCategory = "PARSE"
	ErrCategoryTransform  ErrorCategory = "TRANSFORM"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryCatalog    ErrorCategory = "CATALOG"
	ErrCategoryBuffer     ErrorCategory = "BUFFER"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidPartitionKey = "INVALID_PARTITION_KEY"
	CodeEmptyBatch          = "EMPTY_BATCH"
	CodeInvalidConfig       = "INVALID_CONFIG"

	// Parse codes
	CodeInvalidJSON = "INVALID_JSON"

	// Transform codes
	CodeCoercionFailed = "COERCION_FAILED"

	// Storage codes
	CodeUploadFailed     = "UPLOAD_FAILED"
	CodeDownloadFailed   = "DOWNLOAD_FAILED"
	CodeObjectNotFound   = "OBJECT_NOT_FOUND"
	CodeDecompressFailed = "DECOMPRESS_FAILED"
	CodeReadFailed       = "READ_FAILED"
	CodeListFailed       = "LIST_FAILED"

	// Catalog codes
	CodeRegisterFailed = "REGISTER_FAILED"
	CodeTableMismatch  = "TABLE_MISMATCH"

	// Buffer codes
	CodeSubmitFailed = "SUBMIT_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// PipelineError is the structured error type used throughout the pipeline.
type PipelineError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new PipelineError.
func New(category ErrorCategory, code, message string) *PipelineError {
	return &PipelineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new PipelineError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *PipelineError {
	return &PipelineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *PipelineError) WithDetails(details map[string]interface{}) *PipelineError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetCategory(err error) ErrorCategory {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetCode(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// isRetryable marks transient infrastructure failures. Record-level problems
// (parse, coercion) are never retryable: redelivery would fail the same way.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeListFailed:
		return true
	case category == ErrCategoryCatalog && code == CodeRegisterFailed:
		return true
	case category == ErrCategoryBuffer && code == CodeSubmitFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *PipelineError {
	return New(ErrCategoryValidation, code, message)
}

func NewParseError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryParse, code, message, cause)
}

func NewTransformError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryTransform, code, message, cause)
}

func NewStorageError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewCatalogError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryCatalog, code, message, cause)
}

func NewBufferError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryBuffer, code, message, cause)
}

func NewInternalError(message string, cause error) *PipelineError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
