package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tidegraph/tide/internal/execution"
	"github.com/tidegraph/tide/internal/types"
	"github.com/tidegraph/tide/internal/workflow"
)

// Memory is an in-process implementation of all three store interfaces,
// used by tests and by runs that do not configure a database.
type Memory struct {
	mu         sync.RWMutex
	workflows  map[types.ID]*workflow.Workflow
	executions map[types.ID]*execution.WorkflowExecution
	nodeExecs  map[types.ID][]*execution.NodeExecution
	logs       map[types.ID][]*execution.ExecutionLog
	schedules  map[types.ID]*Schedule
	history    map[types.ID][]*ScheduleHistory
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		workflows:  make(map[types.ID]*workflow.Workflow),
		executions: make(map[types.ID]*execution.WorkflowExecution),
		nodeExecs:  make(map[types.ID][]*execution.NodeExecution),
		logs:       make(map[types.ID][]*execution.ExecutionLog),
		schedules:  make(map[types.ID]*Schedule),
		history:    make(map[types.ID][]*ScheduleHistory),
	}
}

func (m *Memory) SaveWorkflow(_ context.Context, w *workflow.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[w.ID] = cloneWorkflow(w)
	return nil
}

func (m *Memory) GetWorkflow(_ context.Context, id types.ID) (*workflow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workflows[id]
	if !ok {
		return nil, &NotFoundError{Kind: "workflow", ID: id.String()}
	}
	return cloneWorkflow(w), nil
}

func (m *Memory) ListWorkflows(_ context.Context) ([]*workflow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*workflow.Workflow, 0, len(m.workflows))
	for _, w := range m.workflows {
		out = append(out, cloneWorkflow(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) DeleteWorkflow(_ context.Context, id types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[id]; !ok {
		return &NotFoundError{Kind: "workflow", ID: id.String()}
	}
	delete(m.workflows, id)
	return nil
}

func (m *Memory) CreateExecution(_ context.Context, e *execution.WorkflowExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[e.ID] = cloneExecution(e)
	return nil
}

func (m *Memory) UpdateExecution(_ context.Context, e *execution.WorkflowExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executions[e.ID]; !ok {
		return &NotFoundError{Kind: "execution", ID: e.ID.String()}
	}
	m.executions[e.ID] = cloneExecution(e)
	return nil
}

func (m *Memory) GetExecution(_ context.Context, id types.ID) (*execution.WorkflowExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.executions[id]
	if !ok {
		return nil, &NotFoundError{Kind: "execution", ID: id.String()}
	}
	return cloneExecution(e), nil
}

func (m *Memory) ListExecutions(_ context.Context, workflowID types.ID, limit int) ([]*execution.WorkflowExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*execution.WorkflowExecution
	for _, e := range m.executions {
		if e.WorkflowID == workflowID {
			out = append(out, cloneExecution(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CreateNodeExecution(_ context.Context, n *execution.NodeExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodeExecs[n.ExecutionID] = append(m.nodeExecs[n.ExecutionID], n)
	return nil
}

func (m *Memory) UpdateNodeExecution(_ context.Context, n *execution.NodeExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.nodeExecs[n.ExecutionID]
	for i, row := range rows {
		if row.ID == n.ID {
			rows[i] = n
			return nil
		}
	}
	return &NotFoundError{Kind: "node execution", ID: n.ID.String()}
}

func (m *Memory) ListNodeExecutions(_ context.Context, executionID types.ID) ([]*execution.NodeExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*execution.NodeExecution(nil), m.nodeExecs[executionID]...), nil
}

func (m *Memory) AppendLog(_ context.Context, l *execution.ExecutionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[l.ExecutionID] = append(m.logs[l.ExecutionID], l)
	return nil
}

func (m *Memory) ListLogs(_ context.Context, executionID types.ID) ([]*execution.ExecutionLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*execution.ExecutionLog(nil), m.logs[executionID]...), nil
}

func (m *Memory) SaveSchedule(_ context.Context, s *Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	s.UpdatedAt = time.Now().UTC()
	m.schedules[s.ID] = cloneSchedule(s)
	return nil
}

func (m *Memory) GetSchedule(_ context.Context, id types.ID) (*Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, &NotFoundError{Kind: "schedule", ID: id.String()}
	}
	return cloneSchedule(s), nil
}

func (m *Memory) ListSchedules(_ context.Context) ([]*Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Schedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		out = append(out, cloneSchedule(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) ListActiveSchedules(ctx context.Context) ([]*Schedule, error) {
	all, err := m.ListSchedules(ctx)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, s := range all {
		if s.IsActive {
			active = append(active, s)
		}
	}
	return active, nil
}

func (m *Memory) SetScheduleActive(_ context.Context, id types.ID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return &NotFoundError{Kind: "schedule", ID: id.String()}
	}
	s.IsActive = active
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) RecordScheduleRun(_ context.Context, id types.ID, lastRun time.Time, nextRun *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return &NotFoundError{Kind: "schedule", ID: id.String()}
	}
	s.LastRunAt = &lastRun
	s.NextRunAt = nextRun
	s.RunCount++
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) DeleteSchedule(_ context.Context, id types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[id]; !ok {
		return &NotFoundError{Kind: "schedule", ID: id.String()}
	}
	delete(m.schedules, id)
	delete(m.history, id)
	return nil
}

func (m *Memory) AppendScheduleHistory(_ context.Context, h *ScheduleHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[h.ScheduleID] = append(m.history[h.ScheduleID], h)
	return nil
}

func (m *Memory) ListScheduleHistory(_ context.Context, scheduleID types.ID, limit int) ([]*ScheduleHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := append([]*ScheduleHistory(nil), m.history[scheduleID]...)
	sort.Slice(rows, func(i, j int) bool { return rows[i].FiredAt.After(rows[j].FiredAt) })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func cloneWorkflow(w *workflow.Workflow) *workflow.Workflow {
	c := *w
	c.Nodes = make([]*workflow.Node, len(w.Nodes))
	for i, n := range w.Nodes {
		nc := *n
		if n.Config != nil {
			nc.Config = make(map[string]any, len(n.Config))
			for k, v := range n.Config {
				nc.Config[k] = v
			}
		}
		c.Nodes[i] = &nc
	}
	c.Edges = append([]workflow.Edge(nil), w.Edges...)
	return &c
}

func cloneExecution(e *execution.WorkflowExecution) *execution.WorkflowExecution {
	c := *e
	return &c
}

func cloneSchedule(s *Schedule) *Schedule {
	c := *s
	return &c
}
