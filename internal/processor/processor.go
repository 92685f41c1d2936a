// Package processor implements the pluggable node-processor framework:
// every node type is a typed, validated execution unit with a uniform
// three-phase contract (pre-process, process, post-process).
package processor

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidegraph/tide/internal/execution"
	"github.com/tidegraph/tide/internal/workflow"
)

// Processor is the registry-facing contract of one node type. Execute
// composes the three phases in order; any phase's failure propagates as
// that phase's specific error type without invoking subsequent phases.
type Processor interface {
	// Type returns the node type this processor implements.
	Type() workflow.NodeType

	// Execute validates the raw inputs, runs the node's behavior, and
	// returns the serialized output mapping.
	Execute(ctx context.Context, raw map[string]any) (map[string]any, error)
}

// Phases is the typed three-phase contract shared by every processor:
// PreProcess validates and coerces the raw input mapping into the node
// type's typed input; Process performs the node's core behavior;
// PostProcess flattens the typed output into a serializable mapping for
// storage and downstream nodes.
type Phases[I, O any] interface {
	PreProcess(raw map[string]any) (I, error)
	Process(ctx context.Context, input I) (O, error)
	PostProcess(output O) (map[string]any, error)
}

// Run composes the three phases for a typed processor. It is the single
// Execute implementation every concrete processor delegates to.
func Run[I, O any](ctx context.Context, p Phases[I, O], raw map[string]any) (map[string]any, error) {
	input, err := p.PreProcess(raw)
	if err != nil {
		return nil, err
	}
	output, err := p.Process(ctx, input)
	if err != nil {
		return nil, err
	}
	return p.PostProcess(output)
}

// FieldError is a single schema violation found during PreProcess.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// Field error kinds.
const (
	KindMissing = "missing"
	KindType    = "type"
	KindRange   = "range"
	KindValue   = "value"
)

// ValidationError reports every schema violation of a raw input mapping.
type ValidationError struct {
	NodeType workflow.NodeType `json:"node_type"`
	NodeID   string            `json:"node_id,omitempty"`
	Fields   []FieldError      `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return fmt.Sprintf("%s input validation failed: %s", e.NodeType, strings.Join(parts, "; "))
}

// ExecutionError reports a failure of a node's Process phase.
type ExecutionError struct {
	NodeType workflow.NodeType `json:"node_type"`
	NodeID   string            `json:"node_id,omitempty"`
	Message  string            `json:"message"`
	Cause    error             `json:"-"`
}

func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s execution failed: %s (caused by: %v)", e.NodeType, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s execution failed: %s", e.NodeType, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// fieldCollector accumulates field errors during PreProcess and converts
// them into a single ValidationError.
type fieldCollector struct {
	nodeType workflow.NodeType
	nodeID   string
	fields   []FieldError
}

func (fc *fieldCollector) add(field, kind, format string, args ...any) {
	fc.fields = append(fc.fields, FieldError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Kind:    kind,
	})
}

func (fc *fieldCollector) err() error {
	if len(fc.fields) == 0 {
		return nil
	}
	return &ValidationError{NodeType: fc.nodeType, NodeID: fc.nodeID, Fields: fc.fields}
}

// base carries what every processor construction receives: the node being
// executed and the run's execution context.
type base struct {
	node    *workflow.Node
	execCtx *execution.Context
}

func (b base) nodeID() string {
	if b.node == nil {
		return ""
	}
	return b.node.ID
}

// collector starts a fieldCollector for the given node type.
func (b base) collector(t workflow.NodeType) *fieldCollector {
	return &fieldCollector{nodeType: t, nodeID: b.nodeID()}
}

// stringField reads raw[key] as a string.
func stringField(raw map[string]any, key string) (string, bool) {
	v, ok := raw[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// mapField reads raw[key] as a map, treating absence as an empty map.
func mapField(raw map[string]any, key string) (map[string]any, bool) {
	v, ok := raw[key]
	if !ok || v == nil {
		return map[string]any{}, true
	}
	m, ok := v.(map[string]any)
	return m, ok
}

// numberField reads raw[key] as a float64, accepting ints.
func numberField(raw map[string]any, key string) (float64, bool, bool) {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0, false, true
	}
	switch n := v.(type) {
	case float64:
		return n, true, true
	case int:
		return float64(n), true, true
	case int64:
		return float64(n), true, true
	default:
		return 0, false, false
	}
}
