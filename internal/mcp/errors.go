package mcp

import (
	"context"
	"errors"
	"fmt"

	"comfymcp/internal/comfyui"
	"comfymcp/internal/workflow"
)

// Codes prefixed to the text of a failed tool result.
const (
	CodeGraphNotFound        = "graph_not_found"
	CodeGraphMalformed       = "graph_malformed"
	CodeWorkspaceUnavailable = "workspace_unavailable"
	CodeUpstreamRejected     = "upstream_rejected"
	CodeUpstreamUnreachable  = "upstream_unreachable"
	CodeUpstreamError        = "upstream_error"
	CodeInvalidInput         = "invalid_input"
	CodeCanceled             = "canceled"
	CodeInternal             = "internal"
)

// ToolError is a tool failure tagged with a stable code.
type ToolError struct {
	Code string
	Err  error
}

func (e *ToolError) Error() string { return e.Code + ": " + e.Err.Error() }

func (e *ToolError) Unwrap() error { return e.Err }

func invalidInput(format string, args ...any) *ToolError {
	return &ToolError{Code: CodeInvalidInput, Err: fmt.Errorf(format, args...)}
}

// classify tags err with the code of the first matching failure class.
func classify(err error) *ToolError {
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	var apiErr *comfyui.APIError
	code := CodeInternal
	switch {
	case errors.Is(err, workflow.ErrGraphNotFound):
		code = CodeGraphNotFound
	case errors.Is(err, workflow.ErrGraphMalformed):
		code = CodeGraphMalformed
	case errors.Is(err, workflow.ErrWorkspaceUnavailable):
		code = CodeWorkspaceUnavailable
	case errors.Is(err, comfyui.ErrRejected):
		code = CodeUpstreamRejected
	case errors.Is(err, comfyui.ErrUnsupportedImage):
		code = CodeInvalidInput
	case errors.Is(err, context.Canceled):
		code = CodeCanceled
	case errors.Is(err, comfyui.ErrUnreachable), errors.Is(err, context.DeadlineExceeded):
		code = CodeUpstreamUnreachable
	case errors.As(err, &apiErr):
		code = CodeUpstreamError
	}
	return &ToolError{Code: code, Err: err}
}
