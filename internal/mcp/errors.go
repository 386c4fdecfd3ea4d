// Package mcp exposes the embedding router and index manager as Model
// Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"

	ixerrors "github.com/Aman-CERP/indexify/internal/errors"
)

// Custom MCP error codes for Indexify.
const (
	// ErrCodeIndexNotFound indicates the named index does not exist.
	ErrCodeIndexNotFound = -32001

	// ErrCodeEmbeddingFailed indicates an embedding backend failed or
	// returned vectors of the wrong shape.
	ErrCodeEmbeddingFailed = -32002

	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout = -32003

	// ErrCodeStorage indicates the catalog or a vector backend failed.
	ErrCodeStorage = -32004

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// ErrIndexesDisabled is returned by index tools when the server has no index manager.
var ErrIndexesDisabled = errors.New("server is not configured to have indexes")

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}
	if ie, ok := ixerrors.As(err); ok {
		return mapIndexifyError(ie)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	case errors.Is(err, ErrIndexesDisabled):
		return &MCPError{Code: ErrCodeInvalidRequest, Message: err.Error()}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", name),
	}
}

func mapIndexifyError(ie *ixerrors.IndexifyError) *MCPError {
	message := ie.Message
	if ie.Suggestion != "" {
		message = fmt.Sprintf("%s %s", ie.Message, ie.Suggestion)
	}

	switch ie.Code {
	case ixerrors.ErrCodeIndexNotFound:
		return &MCPError{Code: ErrCodeIndexNotFound, Message: message}
	case ixerrors.ErrCodeEmbeddingFailed, ixerrors.ErrCodeDimensionMismatch:
		return &MCPError{Code: ErrCodeEmbeddingFailed, Message: message}
	case ixerrors.ErrCodeNetworkTimeout:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	}

	switch ie.Category {
	case ixerrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case ixerrors.CategoryStorage:
		return &MCPError{Code: ErrCodeStorage, Message: message}
	case ixerrors.CategoryNetwork:
		return &MCPError{Code: ErrCodeEmbeddingFailed, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
