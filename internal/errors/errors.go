package errors

import (
	stderrors "errors"
	"fmt"
)

// BibError is the structured error type for bibsearch.
// It provides rich context for error handling, logging, and user presentation.
type BibError struct {
	// Code is the unique error code (e.g., "ERR_302_FILE_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Kind is the condition callers match with errors.Is.
	Kind Kind

	// Category is the error category (Config, IO, Extraction, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *BibError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *BibError) Unwrap() error {
	return e.Cause
}

// Is matches another BibError by code, or a Kind sentinel by kind.
func (e *BibError) Is(target error) bool {
	switch t := target.(type) {
	case *BibError:
		return e.Code == t.Code
	case Kind:
		return e.Kind == t
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *BibError) WithDetail(key, value string) *BibError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *BibError) WithSuggestion(suggestion string) *BibError {
	e.Suggestion = suggestion
	return e
}

// New creates a new BibError with the given code and message.
// Kind, category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *BibError {
	return &BibError{
		Code:      code,
		Message:   message,
		Kind:      kindFromCode(code),
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf creates a BibError with a formatted message and no cause.
func Newf(code string, format string, args ...any) *BibError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates a BibError from an existing error.
// The error's message becomes the BibError message.
func Wrap(code string, err error) *BibError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// InvalidArgument reports a caller contract violation.
func InvalidArgument(message string) *BibError {
	return New(ErrCodeInvalidArgument, message, nil)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *BibError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// IndexIOError creates an index store error.
func IndexIOError(message string, cause error) *BibError {
	return New(ErrCodeIndexIO, message, cause)
}

// ExtractionError creates an extraction error for a single file.
func ExtractionError(path string, cause error) *BibError {
	msg := "cannot extract text from " + path
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return New(ErrCodeExtractionFailed, msg, cause).WithDetail("path", path)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *BibError {
	return New(ErrCodeInternal, message, cause)
}

// As returns the first BibError in err's chain.
func As(err error) (*BibError, bool) {
	var be *BibError
	if stderrors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
// Returns true if the chain holds a BibError with Retryable flag set.
func IsRetryable(err error) bool {
	if be, ok := As(err); ok {
		return be.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if be, ok := As(err); ok {
		return be.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a BibError.
// Returns empty string if the chain holds no BibError.
func GetCode(err error) string {
	if be, ok := As(err); ok {
		return be.Code
	}
	return ""
}

// GetKind extracts the kind from a BibError.
// Returns empty string if the chain holds no BibError.
func GetKind(err error) Kind {
	if be, ok := As(err); ok {
		return be.Kind
	}
	return ""
}
