// Package errors provides structured error handling for Indexify.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (catalog, vector backends)
//   - 3XX: Network errors (embedding providers)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates catalog or vector backend failures.
	CategoryStorage Category = "STORAGE"
	// CategoryNetwork indicates embedding provider transport failures.
	CategoryNetwork Category = "NETWORK"
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
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeBackend       = "ERR_201_BACKEND_FAILURE"
	ErrCodeCatalog       = "ERR_202_CATALOG_FAILURE"
	ErrCodeCorruptIndex  = "ERR_203_CORRUPT_INDEX"
	ErrCodeDataDirLocked = "ERR_204_DATA_DIR_LOCKED"

	// Network errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeRateLimited        = "ERR_303_RATE_LIMITED"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeUnknownModel      = "ERR_403_UNKNOWN_MODEL"
	ErrCodeIndexExists       = "ERR_404_INDEX_ALREADY_EXISTS"
	ErrCodeIndexNotFound     = "ERR_405_INDEX_NOT_FOUND"
	ErrCodeInvalidPattern    = "ERR_406_INVALID_SPLITTER_PATTERN"
	ErrCodeInvalidMetric     = "ERR_407_INVALID_METRIC"
	ErrCodeSessionNotFound   = "ERR_408_SESSION_NOT_FOUND"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	// "ERR_" prefix followed by the three digit number
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeDataDirLocked:
		return SeverityFatal
	}
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable, ErrCodeRateLimited:
		return true
	default:
		return false
	}
}
