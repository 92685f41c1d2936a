package execution

import (
	"time"

	"github.com/tidegraph/tide/internal/types"
	"github.com/tidegraph/tide/internal/workflow"
)

// WorkflowExecution is the persisted record of one workflow run. The
// engine drives its status transitions and timestamps; storage mechanics
// belong to the store layer.
type WorkflowExecution struct {
	ID          types.ID                  `json:"id"`
	WorkflowID  types.ID                  `json:"workflow_id"`
	Status      workflow.Status           `json:"status"`
	TriggerType workflow.TriggerType      `json:"trigger_type"`
	Input       map[string]any            `json:"input,omitempty"`
	Output      map[string]map[string]any `json:"output,omitempty"`
	Error       string                    `json:"error,omitempty"`
	CreatedAt   time.Time                 `json:"created_at"`
	StartedAt   *time.Time                `json:"started_at,omitempty"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
}

// NodeExecution is the persisted record of one node's run within a
// workflow execution.
type NodeExecution struct {
	ID          types.ID          `json:"id"`
	ExecutionID types.ID          `json:"execution_id"`
	NodeID      string            `json:"node_id"`
	NodeType    workflow.NodeType `json:"node_type"`
	Status      workflow.Status   `json:"status"`
	Input       map[string]any    `json:"input,omitempty"`
	Output      map[string]any    `json:"output,omitempty"`
	Error       string            `json:"error,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// Duration returns how long the node ran, or 0 if it never both started
// and finished.
func (n *NodeExecution) Duration() time.Duration {
	if n.StartedAt == nil || n.CompletedAt == nil {
		return 0
	}
	return n.CompletedAt.Sub(*n.StartedAt)
}

// LogLevel classifies an execution log line.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ExecutionLog is a persisted log line emitted during a run, optionally
// attached to a specific node.
type ExecutionLog struct {
	ID          types.ID       `json:"id"`
	ExecutionID types.ID       `json:"execution_id"`
	NodeID      string         `json:"node_id,omitempty"`
	Level       LogLevel       `json:"level"`
	Message     string         `json:"message"`
	Fields      map[string]any `json:"fields,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
