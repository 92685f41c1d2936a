package workflow

import (
	"fmt"
	"strings"
)

// ErrorCode identifies a specific failure in the validation/execution
// taxonomy. Codes are stable: callers and stored results key off them.
type ErrorCode string

const (
	ErrCodeWorkflowNotFound     ErrorCode = "workflow_not_found"
	ErrCodeEmptyWorkflow        ErrorCode = "empty_workflow"
	ErrCodeInvalidNodeType      ErrorCode = "invalid_node_type"
	ErrCodeCycleDetected        ErrorCode = "cycle_detected"
	ErrCodeSelfLoop             ErrorCode = "self_loop"
	ErrCodeDuplicateEdge        ErrorCode = "duplicate_edge"
	ErrCodeInvalidNodeReference ErrorCode = "invalid_node_reference"
	ErrCodeDuplicateNode        ErrorCode = "duplicate_node"
	ErrCodeGraphTooLarge        ErrorCode = "graph_too_large"
	ErrCodeValidationTimeout    ErrorCode = "validation_timeout"
	ErrCodeDeadlock             ErrorCode = "deadlock"
	ErrCodeNodeTimeout          ErrorCode = "node_timeout"
	ErrCodeNodeExecutionFailed  ErrorCode = "node_execution_failed"
	ErrCodeExecutionCancelled   ErrorCode = "execution_cancelled"
	ErrCodeInvalidTrigger       ErrorCode = "invalid_trigger"

	// Warning codes. Warnings never make a workflow invalid.
	WarnCodeUnreachableNode ErrorCode = "unreachable_node"
	WarnCodeDanglingNode    ErrorCode = "dangling_node"
	WarnCodeDeadEndNode     ErrorCode = "dead_end_node"
)

// Error is a structured workflow error carrying a stable code, the
// offending node or edge when known, and an optional wrapped cause.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	NodeID  string    `json:"node_id,omitempty"`
	Edge    *Edge     `json:"edge,omitempty"`
	Cycle   []string  `json:"cycle,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.NodeID != "" {
		fmt.Fprintf(&b, " [node: %s]", e.NodeID)
	}
	if e.Edge != nil {
		fmt.Fprintf(&b, " [edge: %s -> %s]", e.Edge.Source, e.Edge.Target)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Cycle) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Cycle, " -> "))
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Cause)
	}
	return b.String()
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError constructs an Error with the given code and message.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
