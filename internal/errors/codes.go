// Package errors provides structured error handling for crsync.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (file, disk, diagnostics)
//   - 3XX: Transport errors (search engine protocol)
//   - 4XX: Validation errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryTransport indicates search-engine protocol errors.
	CategoryTransport Category = "TRANSPORT"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityError indicates the operation failed.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeMissingPostfix = "ERR_103_MISSING_INDEX_POSTFIX"
	ErrCodeIndexMissing   = "ERR_104_TARGET_INDEX_MISSING"

	// IO errors (200-299)
	ErrCodeDiagnosticWrite = "ERR_201_DIAGNOSTIC_WRITE"
	ErrCodeLockFailed      = "ERR_202_LOCK_FAILED"
	ErrCodeGraphStore      = "ERR_203_GRAPH_STORE"

	// Transport errors (300-399)
	ErrCodeBulkTransport  = "ERR_301_BULK_TRANSPORT"
	ErrCodeAliasTransport = "ERR_302_ALIAS_TRANSPORT"
	ErrCodeIndexTransport = "ERR_303_INDEX_TRANSPORT"

	// Validation errors (400-499)
	ErrCodeUnknownWorkspace = "ERR_401_UNKNOWN_WORKSPACE"
	ErrCodeUnknownNode      = "ERR_402_UNKNOWN_NODE"
	ErrCodeMalformedItem    = "ERR_403_MALFORMED_BULK_ITEM"
	ErrCodeBulkItemRejected = "ERR_404_BULK_ITEM_REJECTED"

)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryTransport
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeMalformedItem, ErrCodeBulkItemRejected:
		// Per-item failures degrade the run but never abort it.
		return SeverityWarning
	}
	return SeverityError
}
