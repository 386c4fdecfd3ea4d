package errors

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// FormatForCLI formats an error for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	ie, ok := As(err)
	if !ok {
		ie = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", ie.Message)
	if ie.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", ie.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", ie.Code)
	return sb.String()
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	ie, ok := As(err)
	if !ok {
		ie = Wrap(ErrCodeInternal, err)
	}

	je := jsonError{
		Code:       ie.Code,
		Message:    ie.Message,
		Category:   string(ie.Category),
		Details:    ie.Details,
		Suggestion: ie.Suggestion,
		Retryable:  ie.Retryable,
	}
	if ie.Cause != nil {
		je.Cause = ie.Cause.Error()
	}
	return json.Marshal(je)
}

// LogAttrs returns slog attributes describing err.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}
	ie, ok := As(err)
	if !ok {
		return []any{slog.String("error", err.Error())}
	}

	attrs := []any{
		slog.String("error_code", ie.Code),
		slog.String("error", ie.Message),
		slog.String("category", string(ie.Category)),
	}
	if ie.Cause != nil {
		attrs = append(attrs, slog.String("cause", ie.Cause.Error()))
	}
	for k, v := range ie.Details {
		attrs = append(attrs, slog.String("detail_"+k, v))
	}
	return attrs
}

// HTTPStatus maps an error to the status code returned by the HTTP API.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	ie, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch {
	case ie.Code == ErrCodeIndexNotFound, ie.Code == ErrCodeSessionNotFound:
		return http.StatusNotFound
	case ie.Code == ErrCodeDimensionMismatch:
		// A provider returned the wrong shape; the request itself was fine.
		return http.StatusBadGateway
	case ie.Category == CategoryValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
