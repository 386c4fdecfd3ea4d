package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ixerrors "github.com/Aman-CERP/indexify/internal/errors"
)

func TestMapError_NilError(t *testing.T) {
	assert.Nil(t, MapError(nil))
}

func TestMapError_Codes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"index not found", ixerrors.IndexNotFound("docs"), ErrCodeIndexNotFound},
		{"wrapped index not found", fmt.Errorf("load: %w", ixerrors.IndexNotFound("docs")), ErrCodeIndexNotFound},
		{"embedding failure", ixerrors.EmbeddingFailure("provider down", nil), ErrCodeEmbeddingFailed},
		{"dimension mismatch", ixerrors.DimensionMismatch(4, 3), ErrCodeEmbeddingFailed},
		{"unknown model", ixerrors.UnknownModel("nope"), ErrCodeInvalidParams},
		{"index exists", ixerrors.IndexAlreadyExists("docs"), ErrCodeInvalidParams},
		{"bad pattern", ixerrors.InvalidSplitterPattern("(", errors.New("missing )")), ErrCodeInvalidParams},
		{"backend", ixerrors.BackendError("write failed", nil), ErrCodeStorage},
		{"internal", ixerrors.InternalError("boom", nil), ErrCodeInternalError},
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout},
		{"canceled", context.Canceled, ErrCodeTimeout},
		{"indexes disabled", ErrIndexesDisabled, ErrCodeInvalidRequest},
		{"unknown", errors.New("mystery"), ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.code, got.Code)
		})
	}
}

func TestMapError_KeepsMCPErrors(t *testing.T) {
	orig := NewInvalidParamsError("query parameter is required")

	got := MapError(fmt.Errorf("search: %w", orig))

	assert.Same(t, orig, got)
}

func TestMapError_AppendsSuggestion(t *testing.T) {
	// Given: an error carrying a suggestion
	err := ixerrors.UnknownModel("nope")

	// When: mapping the error
	got := MapError(err)

	// Then: the message carries both parts
	assert.Contains(t, got.Message, err.Message)
	assert.Contains(t, got.Message, "indexify models")
}

func TestMapError_HidesUnknownErrorText(t *testing.T) {
	got := MapError(errors.New("secret path /etc/shadow"))

	assert.NotContains(t, got.Message, "shadow")
}

func TestMCPError_Error(t *testing.T) {
	err := &MCPError{Code: ErrCodeInvalidParams, Message: "bad"}

	assert.Equal(t, "MCP error -32602: bad", err.Error())
}

func TestNewMethodNotFoundError(t *testing.T) {
	err := NewMethodNotFoundError("grep")

	assert.Equal(t, ErrCodeMethodNotFound, err.Code)
	assert.Contains(t, err.Message, "grep")
}
