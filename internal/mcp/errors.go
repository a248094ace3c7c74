// Package mcp exposes PDF full-text search over the Model Context Protocol.
package mcp

import (
	"context"
	"errors"
	"fmt"

	bserrors "github.com/Aman-CERP/bibsearch/internal/errors"
)

// MCP error codes. The -320xx range is reserved for server errors.
const (
	// ErrCodeIndexNotReady indicates the index has no complete build yet.
	ErrCodeIndexNotReady = -32001

	// ErrCodeIndexIO indicates the index could not be read.
	ErrCodeIndexIO = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// Standard JSON-RPC error codes.
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
	ErrCodeMethodNotFound = -32601
)

// MCPError is an MCP protocol error with code and message.
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

	var be *bserrors.BibError
	if errors.As(err, &be) {
		return mapBibError(be)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	case errors.Is(err, bserrors.ErrIndexNotReady):
		return &MCPError{Code: ErrCodeIndexNotReady, Message: "Index is not ready."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

func mapBibError(be *bserrors.BibError) *MCPError {
	message := be.Message
	if be.Suggestion != "" {
		message = fmt.Sprintf("%s %s", be.Message, be.Suggestion)
	}

	switch be.Kind {
	case bserrors.ErrInvalidArgument, bserrors.ErrQuerySyntax:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case bserrors.ErrIndexNotReady:
		return &MCPError{Code: ErrCodeIndexNotReady, Message: message}
	case bserrors.ErrIndexIO:
		return &MCPError{Code: ErrCodeIndexIO, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
