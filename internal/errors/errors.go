package errors

import (
	"fmt"
	"strconv"
)

// IndexifyError is the structured error type for Indexify.
// It carries enough context for HTTP status mapping, logging, and CLI output.
type IndexifyError struct {
	// Code is the unique error code (e.g., "ERR_403_UNKNOWN_MODEL").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Network, etc.).
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
func (e *IndexifyError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *IndexifyError) Unwrap() error {
	return e.Cause
}

// Is matches errors by code, so sentinels like ErrUnknownModel work with errors.Is.
func (e *IndexifyError) Is(target error) bool {
	if t, ok := target.(*IndexifyError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *IndexifyError) WithDetail(key, value string) *IndexifyError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *IndexifyError) WithSuggestion(suggestion string) *IndexifyError {
	e.Suggestion = suggestion
	return e
}

// New creates a new IndexifyError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *IndexifyError {
	return &IndexifyError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an IndexifyError from an existing error.
// The error's message becomes the IndexifyError message.
func Wrap(code string, err error) *IndexifyError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is checks. Only the code is compared.
var (
	ErrUnknownModel           = &IndexifyError{Code: ErrCodeUnknownModel}
	ErrIndexAlreadyExists     = &IndexifyError{Code: ErrCodeIndexExists}
	ErrIndexNotFound          = &IndexifyError{Code: ErrCodeIndexNotFound}
	ErrInvalidSplitterPattern = &IndexifyError{Code: ErrCodeInvalidPattern}
	ErrInvalidMetric          = &IndexifyError{Code: ErrCodeInvalidMetric}
	ErrDimensionMismatch      = &IndexifyError{Code: ErrCodeDimensionMismatch}
	ErrEmbeddingFailure       = &IndexifyError{Code: ErrCodeEmbeddingFailed}
	ErrBackend                = &IndexifyError{Code: ErrCodeBackend}
	ErrInvalidInput           = &IndexifyError{Code: ErrCodeInvalidInput}
	ErrSessionNotFound        = &IndexifyError{Code: ErrCodeSessionNotFound}
)

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *IndexifyError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *IndexifyError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *IndexifyError {
	return New(ErrCodeInternal, message, cause)
}

// UnknownModel reports an embedding model that is not configured.
func UnknownModel(model string) *IndexifyError {
	return New(ErrCodeUnknownModel, fmt.Sprintf("unknown embedding model %q", model), nil).
		WithDetail("model", model).
		WithSuggestion("Run 'indexify models' to list configured models")
}

// IndexAlreadyExists reports a create for a name that is already taken.
func IndexAlreadyExists(name string) *IndexifyError {
	return New(ErrCodeIndexExists, fmt.Sprintf("index %q already exists", name), nil).
		WithDetail("index", name)
}

// IndexNotFound reports a missing index at a transport boundary.
// Inside the manager a missing index is a nil result, not this error.
func IndexNotFound(name string) *IndexifyError {
	return New(ErrCodeIndexNotFound, fmt.Sprintf("index %q does not exist", name), nil).
		WithDetail("index", name)
}

// InvalidSplitterPattern reports a regex splitter pattern that does not compile.
func InvalidSplitterPattern(pattern string, cause error) *IndexifyError {
	return New(ErrCodeInvalidPattern, fmt.Sprintf("invalid splitter pattern %q", pattern), cause).
		WithDetail("pattern", pattern)
}

// InvalidMetric reports an unsupported distance metric name.
func InvalidMetric(metric string) *IndexifyError {
	return New(ErrCodeInvalidMetric, fmt.Sprintf("unsupported metric %q", metric), nil).
		WithSuggestion("Use one of: dot, cosine, euclidean")
}

// DimensionMismatch reports a vector whose length differs from the index dimension.
func DimensionMismatch(expected, got int) *IndexifyError {
	return New(ErrCodeDimensionMismatch,
		fmt.Sprintf("vector dimension mismatch: expected %d, got %d", expected, got), nil).
		WithDetail("expected", strconv.Itoa(expected)).
		WithDetail("got", strconv.Itoa(got))
}

// EmbeddingFailure reports a failed embedding call during ingestion or search.
func EmbeddingFailure(message string, cause error) *IndexifyError {
	return New(ErrCodeEmbeddingFailed, message, cause)
}

// BackendError reports a storage or provider failure.
func BackendError(message string, cause error) *IndexifyError {
	return New(ErrCodeBackend, message, cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if ie, ok := As(err); ok {
		return ie.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if ie, ok := As(err); ok {
		return ie.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code, or "" if err is not an IndexifyError.
func GetCode(err error) string {
	if ie, ok := As(err); ok {
		return ie.Code
	}
	return ""
}

// GetCategory extracts the category, or "" if err is not an IndexifyError.
func GetCategory(err error) Category {
	if ie, ok := As(err); ok {
		return ie.Category
	}
	return ""
}

// As finds the first IndexifyError in err's chain.
func As(err error) (*IndexifyError, bool) {
	for err != nil {
		if ie, ok := err.(*IndexifyError); ok {
			return ie, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
