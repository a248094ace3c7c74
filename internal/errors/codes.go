// Package errors provides structured error handling for bibsearch.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Index IO errors (store, disk, locks)
//   - 3XX: Extraction errors (one PDF could not be read)
//   - 4XX: Validation errors (caller contract, query syntax)
//   - 5XX: Internal errors (index state, bugs)
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates index store and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryExtraction indicates a document could not be extracted.
	CategoryExtraction Category = "EXTRACTION"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigInvalid  = "ERR_101_CONFIG_INVALID"
	ErrCodeLibraryInvalid = "ERR_102_LIBRARY_INVALID"

	// Index IO errors (200-299)
	ErrCodeIndexIO      = "ERR_201_INDEX_IO"
	ErrCodeCorruptIndex = "ERR_202_CORRUPT_INDEX"
	ErrCodeDiskFull     = "ERR_203_DISK_FULL"
	ErrCodeIndexLocked  = "ERR_206_INDEX_LOCKED"

	// Extraction errors (300-399)
	ErrCodeExtractionFailed  = "ERR_301_EXTRACTION_FAILED"
	ErrCodeFileNotFound      = "ERR_302_FILE_NOT_FOUND"
	ErrCodeExtractionTimeout = "ERR_303_EXTRACTION_TIMEOUT"
	ErrCodeEncrypted         = "ERR_304_ENCRYPTED"
	ErrCodeNotPDF            = "ERR_305_NOT_PDF"

	// Validation errors (400-499)
	ErrCodeInvalidArgument = "ERR_401_INVALID_ARGUMENT"
	ErrCodeQuerySyntax     = "ERR_402_QUERY_SYNTAX"

	// Internal errors (500-599)
	ErrCodeIndexNotReady = "ERR_501_INDEX_NOT_READY"
	ErrCodeInternal      = "ERR_502_INTERNAL"
)

// Kind is the coarse error condition callers branch on.
// A Kind is itself an error so it can be used as an errors.Is target:
//
//	if errors.Is(err, errors.ErrIndexNotReady) { ... }
type Kind string

// Error implements the error interface.
func (k Kind) Error() string { return string(k) }

// Error kinds.
const (
	ErrInvalidArgument Kind = "InvalidArgument"
	ErrQuerySyntax     Kind = "QuerySyntaxError"
	ErrExtraction      Kind = "ExtractionError"
	ErrIndexIO         Kind = "IndexIOError"
	ErrIndexNotReady   Kind = "IndexNotReady"
	ErrConfig          Kind = "ConfigError"
	ErrInternal        Kind = "InternalError"
)

// kindFromCode maps an error code to its kind.
func kindFromCode(code string) Kind {
	switch code {
	case ErrCodeInvalidArgument:
		return ErrInvalidArgument
	case ErrCodeQuerySyntax:
		return ErrQuerySyntax
	case ErrCodeIndexNotReady:
		return ErrIndexNotReady
	}

	switch categoryFromCode(code) {
	case CategoryConfig:
		return ErrConfig
	case CategoryIO:
		return ErrIndexIO
	case CategoryExtraction:
		return ErrExtraction
	case CategoryValidation:
		return ErrInvalidArgument
	default:
		return ErrInternal
	}
}

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "101" from "ERR_101_CONFIG_INVALID"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryExtraction
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeDiskFull:
		return SeverityFatal
	case ErrCodeIndexNotReady:
		return SeverityInfo
	}

	// Per-file extraction problems degrade a batch, they do not fail it.
	if categoryFromCode(code) == CategoryExtraction {
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// Extraction failures are never retryable.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeIndexLocked, ErrCodeIndexNotReady:
		return true
	default:
		return false
	}
}
