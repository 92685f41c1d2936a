// Package store defines the persistence interfaces consumed by the
// validator, engine, and scheduler, together with the SQLite and
// in-memory implementations.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/tidegraph/tide/internal/execution"
	"github.com/tidegraph/tide/internal/types"
	"github.com/tidegraph/tide/internal/workflow"
)

// NotFoundError reports a missing row.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// WorkflowStore persists workflow definitions. It satisfies
// workflow.Source so the validator can load definitions directly.
type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, w *workflow.Workflow) error
	GetWorkflow(ctx context.Context, id types.ID) (*workflow.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*workflow.Workflow, error)
	DeleteWorkflow(ctx context.Context, id types.ID) error
}

// ExecutionStore persists run records: one WorkflowExecution per run, one
// NodeExecution per node within a run, and the run's log lines.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, e *execution.WorkflowExecution) error
	UpdateExecution(ctx context.Context, e *execution.WorkflowExecution) error
	GetExecution(ctx context.Context, id types.ID) (*execution.WorkflowExecution, error)
	ListExecutions(ctx context.Context, workflowID types.ID, limit int) ([]*execution.WorkflowExecution, error)

	CreateNodeExecution(ctx context.Context, n *execution.NodeExecution) error
	UpdateNodeExecution(ctx context.Context, n *execution.NodeExecution) error
	ListNodeExecutions(ctx context.Context, executionID types.ID) ([]*execution.NodeExecution, error)

	AppendLog(ctx context.Context, l *execution.ExecutionLog) error
	ListLogs(ctx context.Context, executionID types.ID) ([]*execution.ExecutionLog, error)
}

// Schedule is a persisted recurring trigger bound to a workflow. Spec
// holds the trigger configuration (cron fields or interval units) as
// produced by the trigger builders.
type Schedule struct {
	ID          types.ID       `json:"id"`
	WorkflowID  types.ID       `json:"workflow_id"`
	Name        string         `json:"name"`
	TriggerKind string         `json:"trigger_kind"`
	Spec        map[string]any `json:"spec"`
	Timezone    string         `json:"timezone,omitempty"`
	IsActive    bool           `json:"is_active"`
	NextRunAt   *time.Time     `json:"next_run_at,omitempty"`
	LastRunAt   *time.Time     `json:"last_run_at,omitempty"`
	RunCount    int64          `json:"run_count"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ScheduleHistory records one firing of a schedule.
type ScheduleHistory struct {
	ID          types.ID  `json:"id"`
	ScheduleID  types.ID  `json:"schedule_id"`
	ExecutionID types.ID  `json:"execution_id,omitempty"`
	FiredAt     time.Time `json:"fired_at"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
}

// ScheduleStore persists schedules and their firing history.
type ScheduleStore interface {
	SaveSchedule(ctx context.Context, s *Schedule) error
	GetSchedule(ctx context.Context, id types.ID) (*Schedule, error)
	ListSchedules(ctx context.Context) ([]*Schedule, error)
	ListActiveSchedules(ctx context.Context) ([]*Schedule, error)
	SetScheduleActive(ctx context.Context, id types.ID, active bool) error
	RecordScheduleRun(ctx context.Context, id types.ID, lastRun time.Time, nextRun *time.Time) error
	DeleteSchedule(ctx context.Context, id types.ID) error

	AppendScheduleHistory(ctx context.Context, h *ScheduleHistory) error
	ListScheduleHistory(ctx context.Context, scheduleID types.ID, limit int) ([]*ScheduleHistory, error)
}
