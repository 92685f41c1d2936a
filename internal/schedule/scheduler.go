package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tidegraph/tide/internal/execution"
	"github.com/tidegraph/tide/internal/store"
	"github.com/tidegraph/tide/internal/types"
	"github.com/tidegraph/tide/internal/workflow"
)

// Runner executes a workflow on behalf of a fired schedule. The engine's
// WorkflowExecutor satisfies it.
type Runner interface {
	Execute(ctx context.Context, w *workflow.Workflow, trigger workflow.TriggerType, input map[string]any) (*execution.WorkflowExecution, error)
}

// Scheduler fires persisted schedules against the engine. Schedules
// survive restarts: Start reloads every active schedule from the store
// and re-registers its trigger, so a restarted process resumes firing
// exactly the schedules that were active.
type Scheduler struct {
	runner    Runner
	workflows store.WorkflowStore
	schedules store.ScheduleStore
	logger    *slog.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	entries map[types.ID]cron.EntryID
	baseCtx context.Context
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger sets the structured logger.
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewScheduler creates a scheduler over the given runner and stores.
func NewScheduler(runner Runner, workflows store.WorkflowStore, schedules store.ScheduleStore, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		runner:    runner,
		workflows: workflows,
		schedules: schedules,
		logger:    slog.Default(),
		cron:      cron.New(cron.WithSeconds()),
		entries:   make(map[types.ID]cron.EntryID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start loads every active schedule, registers its trigger, and begins
// firing. The context is the parent of every fired execution.
func (s *Scheduler) Start(ctx context.Context) error {
	s.baseCtx = ctx

	active, err := s.schedules.ListActiveSchedules(ctx)
	if err != nil {
		return err
	}
	for _, sched := range active {
		if err := s.Register(ctx, sched); err != nil {
			s.logger.ErrorContext(ctx, "failed to register schedule",
				"schedule_id", sched.ID,
				"error", err,
			)
		}
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "scheduler started", "schedules", len(active))
	return nil
}

// Stop stops firing new executions and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("scheduler stopped")
}

// Register adds one schedule's trigger to the running set and records
// its next fire time. Registering an already-registered schedule
// replaces its entry.
func (s *Scheduler) Register(ctx context.Context, sched *store.Schedule) error {
	spec, err := SpecFromConfig(sched.TriggerKind, sched.Spec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if old, ok := s.entries[sched.ID]; ok {
		s.cron.Remove(old)
	}
	id := sched.ID
	entry := s.cron.Schedule(spec, cron.FuncJob(func() { s.fire(id) }))
	s.entries[sched.ID] = entry
	s.mu.Unlock()

	next := spec.Next(time.Now())
	var nextPtr *time.Time
	if !next.IsZero() {
		nextPtr = &next
	}
	sched.NextRunAt = nextPtr
	if err := s.schedules.SaveSchedule(ctx, sched); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "schedule registered",
		"schedule_id", sched.ID,
		"kind", sched.TriggerKind,
		"next_run", next,
	)
	return nil
}

// Unregister removes a schedule's trigger from the running set.
func (s *Scheduler) Unregister(id types.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[id]; ok {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
}

// fire runs one scheduled execution and writes the run bookkeeping back:
// last/next run timestamps, run count, and a history row.
func (s *Scheduler) fire(scheduleID types.ID) {
	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	firedAt := time.Now().UTC()

	sched, err := s.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		s.logger.ErrorContext(ctx, "fired schedule not found", "schedule_id", scheduleID, "error", err)
		return
	}
	if !sched.IsActive {
		s.Unregister(scheduleID)
		return
	}

	history := &store.ScheduleHistory{
		ID:         types.NewID(),
		ScheduleID: scheduleID,
		FiredAt:    firedAt,
	}

	w, err := s.workflows.GetWorkflow(ctx, sched.WorkflowID)
	if err != nil {
		history.Status = string(workflow.StatusFailed)
		history.Error = err.Error()
		s.finishRun(ctx, sched, firedAt, history)
		return
	}

	exec, err := s.runner.Execute(ctx, w, workflow.TriggerTypeSchedule, map[string]any{
		"schedule_id": scheduleID.String(),
	})
	if exec != nil {
		history.ExecutionID = exec.ID
		history.Status = string(exec.Status)
	}
	if err != nil {
		history.Error = err.Error()
		if history.Status == "" {
			history.Status = string(workflow.StatusFailed)
		}
	}

	s.finishRun(ctx, sched, firedAt, history)
}

func (s *Scheduler) finishRun(ctx context.Context, sched *store.Schedule, firedAt time.Time, history *store.ScheduleHistory) {
	if err := s.schedules.AppendScheduleHistory(ctx, history); err != nil {
		s.logger.WarnContext(ctx, "failed to append schedule history", "schedule_id", sched.ID, "error", err)
	}

	var nextPtr *time.Time
	if spec, err := SpecFromConfig(sched.TriggerKind, sched.Spec); err == nil {
		if next := spec.Next(firedAt); !next.IsZero() {
			nextPtr = &next
		}
	}
	if err := s.schedules.RecordScheduleRun(ctx, sched.ID, firedAt, nextPtr); err != nil {
		s.logger.WarnContext(ctx, "failed to record schedule run", "schedule_id", sched.ID, "error", err)
	}

	s.logger.InfoContext(ctx, "schedule fired",
		"schedule_id", sched.ID,
		"status", history.Status,
	)
}
