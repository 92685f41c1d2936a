// Package workflow defines the workflow model (typed nodes connected by
// directed edges) and the DAG validator that gates execution and edge
// mutation.
package workflow

import (
	"time"

	"github.com/tidegraph/tide/internal/types"
)

// Status represents the lifecycle status of a workflow execution.
type Status string

const (
	// StatusPending indicates the execution record exists but has not started.
	StatusPending Status = "pending"

	// StatusRunning indicates the execution is in progress.
	StatusRunning Status = "running"

	// StatusCompleted indicates every reachable node finished successfully.
	StatusCompleted Status = "completed"

	// StatusFailed indicates at least one node failed.
	StatusFailed Status = "failed"

	// StatusSkipped applies to individual nodes whose dependencies failed.
	StatusSkipped Status = "skipped"

	// StatusCancelled indicates the execution was cancelled before finishing.
	StatusCancelled Status = "cancelled"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if the status represents a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped, StatusCancelled:
		return true
	default:
		return false
	}
}

// NodeType identifies the processor that executes a node.
type NodeType string

const (
	NodeTypeTrigger    NodeType = "trigger"
	NodeTypeTool       NodeType = "tool"
	NodeTypeAgent      NodeType = "agent"
	NodeTypeCondition  NodeType = "condition"
	NodeTypeAdapter    NodeType = "adapter"
	NodeTypeParallel   NodeType = "parallel"
	NodeTypeAggregator NodeType = "aggregator"
)

// Valid reports whether the node type is one of the known types.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeTrigger, NodeTypeTool, NodeTypeAgent, NodeTypeCondition,
		NodeTypeAdapter, NodeTypeParallel, NodeTypeAggregator:
		return true
	default:
		return false
	}
}

// TerminalCapable reports whether a node of this type may legitimately end
// a branch with no outgoing edges. Other node types in that position are
// flagged as dangling.
func (t NodeType) TerminalCapable() bool {
	return t == NodeTypeAggregator
}

// TriggerType distinguishes how an execution was started.
type TriggerType string

const (
	TriggerTypeSchedule TriggerType = "schedule"
	TriggerTypeEvent    TriggerType = "event"
	TriggerTypeManual   TriggerType = "manual"
)

// Node is a single typed step in a workflow. Config is an opaque key-value
// map whose shape is validated by the node type's processor.
type Node struct {
	ID      string         `json:"id" yaml:"id"`
	Type    NodeType       `json:"type" yaml:"type"`
	Name    string         `json:"name,omitempty" yaml:"name,omitempty"`
	Config  map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Timeout time.Duration  `json:"timeout,omitempty" yaml:"-"`
}

// Edge is a directed connection between two nodes. The (Source, Target)
// pair is unique within a workflow and self-loops are forbidden; both are
// enforced by the validator.
type Edge struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// Workflow is a complete workflow definition: typed nodes connected into a
// directed acyclic graph. Version is an optimistic-lock counter bumped on
// every structural mutation; the validation cache is keyed by it.
type Workflow struct {
	ID          types.ID  `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Version     int       `json:"version"`
	Nodes       []*Node   `json:"nodes"`
	Edges       []Edge    `json:"edges"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GetNode retrieves a node by its ID. Returns nil if the node is not found.
func (w *Workflow) GetNode(id string) *Node {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// TriggerNodes returns the workflow's trigger nodes in declaration order.
func (w *Workflow) TriggerNodes() []*Node {
	var out []*Node
	for _, n := range w.Nodes {
		if n.Type == NodeTypeTrigger {
			out = append(out, n)
		}
	}
	return out
}
