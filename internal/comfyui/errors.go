package comfyui

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
)

var (
	// ErrUnreachable indicates the server could not be contacted at all.
	ErrUnreachable = errors.New("comfyui unreachable")

	// ErrRejected indicates the server refused a graph as invalid.
	ErrRejected = errors.New("comfyui rejected workflow")

	// ErrUnsupportedImage indicates an upload that is not a supported image.
	ErrUnsupportedImage = errors.New("unsupported image")
)

// APIError is a non-2xx response from the ComfyUI API.
// Prefer the predicate functions over asserting on this type.
type APIError struct {
	operation  string
	statusCode int
	message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.operation, e.statusCode, e.message)
}

func newAPIError(operation string, statusCode int, message string) *APIError {
	return &APIError{operation: operation, statusCode: statusCode, message: message}
}

// StatusCode returns the HTTP status code.
func (e *APIError) StatusCode() int { return e.statusCode }

// Message returns the response body, or the status text when it was empty.
func (e *APIError) Message() string { return e.message }

// Operation returns a short description of the call that failed.
func (e *APIError) Operation() string { return e.operation }

// IsNotFound reports whether err is an API error with HTTP 404 status.
func IsNotFound(err error) bool { return HasStatusCode(err, http.StatusNotFound) }

// HasStatusCode reports whether err is an API error whose HTTP status code matches.
func HasStatusCode(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.statusCode == code
}

// RejectedError carries the validation errors ComfyUI returned for a prompt.
type RejectedError struct {
	Message    string
	NodeErrors map[string]json.RawMessage
}

func (e *RejectedError) Error() string {
	var b strings.Builder
	b.WriteString(ErrRejected.Error())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.NodeErrors) > 0 {
		fmt.Fprintf(&b, "; node errors (%d):", len(e.NodeErrors))
		ids := make([]string, 0, len(e.NodeErrors))
		for id := range e.NodeErrors {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			fmt.Fprintf(&b, " node %s: %s;", id, compactJSON(e.NodeErrors[id]))
		}
	}
	return strings.TrimSuffix(b.String(), ";")
}

func (e *RejectedError) Unwrap() error { return ErrRejected }

// rejection builds a RejectedError from a /prompt response body, or returns
// nil when the body reports no error.
func rejection(errField json.RawMessage, nodeErrors map[string]json.RawMessage) *RejectedError {
	msg := errorMessage(errField)
	if msg == "" && len(nodeErrors) == 0 {
		return nil
	}
	return &RejectedError{Message: msg, NodeErrors: nodeErrors}
}

// errorMessage extracts a readable message from the "error" field, which is
// either a string or an object with a "message" key.
func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Details string `json:"details"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Message != "" {
		if obj.Details != "" {
			return obj.Message + ": " + obj.Details
		}
		return obj.Message
	}
	return compactJSON(raw)
}
