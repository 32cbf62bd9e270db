// Package errors provides structured error types for the bqmeta job.
// All errors include a category, code, message, and retryable flag so the
// top-level handler can report failures consistently.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the collaborator that produced them.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryWarehouse  ErrorCategory = "WAREHOUSE"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryInput      ErrorCategory = "INPUT"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidConfig = "INVALID_CONFIG"

	// Warehouse codes
	CodeListDatasets = "LIST_DATASETS"
	CodeGetDataset   = "GET_DATASET"
	CodeListTables   = "LIST_TABLES"
	CodeGetTable     = "GET_TABLE"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Input codes
	CodeMalformedJSON = "MALFORMED_JSON"
	CodeMalformedCSV  = "MALFORMED_CSV"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
	CodePanic      = "PANIC"
)

// JobError is the structured error type used throughout the job.
type JobError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *JobError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *JobError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *JobError) Is(target error) bool {
	var t *JobError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new JobError.
func New(category ErrorCategory, code, message string) *JobError {
	return &JobError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new JobError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *JobError {
	return &JobError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *JobError) WithDetails(details map[string]interface{}) *JobError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
// The job itself never retries; the flag is surfaced to the trigger.
func IsRetryable(err error) bool {
	var je *JobError
	if errors.As(err, &je) {
		return je.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a JobError.
func GetCategory(err error) ErrorCategory {
	var je *JobError
	if errors.As(err, &je) {
		return je.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a JobError.
func GetCode(err error) string {
	var je *JobError
	if errors.As(err, &je) {
		return je.Code
	}
	return ""
}

func isRetryable(category ErrorCategory, code string) bool {
	switch category {
	case ErrCategoryWarehouse:
		return true
	case ErrCategoryStorage:
		return code == CodeUploadFailed || code == CodeDownloadFailed
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(message string) *JobError {
	return New(ErrCategoryValidation, CodeInvalidConfig, message)
}

func NewWarehouseError(code, message string, cause error) *JobError {
	return Wrap(ErrCategoryWarehouse, code, message, cause)
}

func NewStorageError(code, message string, cause error) *JobError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInputError(code, message string, cause error) *JobError {
	return Wrap(ErrCategoryInput, code, message, cause)
}

func NewInternalError(message string, cause error) *JobError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
