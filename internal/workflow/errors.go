package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for programmatic checks via errors.Is().
var (
	// ErrGraphNotFound indicates no definition exists under the requested name.
	ErrGraphNotFound = errors.New("graph not found")

	// ErrGraphMalformed indicates invalid JSON, a missing required field, or a
	// dangling connection.
	ErrGraphMalformed = errors.New("graph malformed")

	// ErrWorkspaceUnavailable indicates the workflow directory cannot be read.
	ErrWorkspaceUnavailable = errors.New("workspace unavailable")

	// ErrInjectionTargetMismatch marks a non-fatal injection warning: a traced
	// connection led to a node of the wrong kind.
	ErrInjectionTargetMismatch = errors.New("injection target mismatch")
)

// MalformedError describes why a graph failed parsing or validation.
// It matches ErrGraphMalformed and, when set, the underlying decode error.
type MalformedError struct {
	Graph string // definition name, if known
	Node  string // offending node id, if any
	Input string // offending input name, if any
	Msg   string
	Err   error
}

func (e *MalformedError) Error() string {
	if e == nil {
		return ""
	}
	parts := []string{ErrGraphMalformed.Error()}
	if e.Graph != "" {
		parts = append(parts, e.Graph)
	}
	if e.Node != "" {
		parts = append(parts, fmt.Sprintf("node %q", e.Node))
	}
	if e.Input != "" {
		parts = append(parts, fmt.Sprintf("input %q", e.Input))
	}
	if e.Msg != "" {
		parts = append(parts, e.Msg)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *MalformedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrGraphMalformed}
	}
	return []error{ErrGraphMalformed, e.Err}
}

// MismatchError reports that a sampler input could not be used as a prompt
// target. Injection continues for the other side.
type MismatchError struct {
	Sampler string   // sampler node id
	Input   string   // "positive" or "negative"
	Target  string   // node id the connection points at; empty for literals
	Kind    string   // kind of Target
	Want    []string // accepted kinds
}

func (e *MismatchError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s: sampler %q input %q is not a connection",
			ErrInjectionTargetMismatch, e.Sampler, e.Input)
	}
	return fmt.Sprintf("%s: sampler %q input %q points at node %q of kind %q, want %s",
		ErrInjectionTargetMismatch, e.Sampler, e.Input, e.Target, e.Kind, strings.Join(e.Want, " or "))
}

func (e *MismatchError) Unwrap() error { return ErrInjectionTargetMismatch }
