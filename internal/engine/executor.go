// Package engine runs validated workflows: it partitions the DAG into
// dependency waves, executes each wave with bounded concurrency, and
// persists the run's records through the store interfaces.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tidegraph/tide/internal/execution"
	"github.com/tidegraph/tide/internal/processor"
	"github.com/tidegraph/tide/internal/store"
	"github.com/tidegraph/tide/internal/types"
	"github.com/tidegraph/tide/internal/workflow"
)

// DefaultMaxParallel bounds concurrent node execution when no option
// overrides it.
const DefaultMaxParallel = 8

// WorkflowExecutor orchestrates workflow runs. It validates the
// definition, dispatches ready nodes in parallel batches, propagates
// skips past failed branches, and records every state transition.
type WorkflowExecutor struct {
	logger      *slog.Logger
	registry    *processor.Registry
	procConfig  processor.Config
	executions  store.ExecutionStore
	maxParallel int

	mu      sync.Mutex
	cancels map[types.ID]context.CancelFunc
}

// ExecutorOption configures a WorkflowExecutor.
type ExecutorOption func(*WorkflowExecutor)

// WithLogger sets the structured logger used for run progress.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *WorkflowExecutor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMaxParallel bounds how many nodes of one wave run concurrently.
func WithMaxParallel(n int) ExecutorOption {
	return func(e *WorkflowExecutor) {
		if n > 0 {
			e.maxParallel = n
		}
	}
}

// WithRegistry sets the processor registry. Defaults to the built-ins.
func WithRegistry(r *processor.Registry) ExecutorOption {
	return func(e *WorkflowExecutor) {
		if r != nil {
			e.registry = r
		}
	}
}

// WithProcessorConfig sets the external collaborators handed to every
// processor (tool runner, agent invoker).
func WithProcessorConfig(cfg processor.Config) ExecutorOption {
	return func(e *WorkflowExecutor) {
		e.procConfig = cfg
	}
}

// WithExecutionStore enables persistence of execution, node, and log
// records. Without it the engine runs in-memory only.
func WithExecutionStore(s store.ExecutionStore) ExecutorOption {
	return func(e *WorkflowExecutor) {
		e.executions = s
	}
}

// NewWorkflowExecutor creates an executor with the built-in processor
// registry, slog.Default logging, and a parallelism bound of
// DefaultMaxParallel.
func NewWorkflowExecutor(opts ...ExecutorOption) *WorkflowExecutor {
	e := &WorkflowExecutor{
		logger:      slog.Default(),
		registry:    processor.NewBuiltinRegistry(),
		maxParallel: DefaultMaxParallel,
		cancels:     make(map[types.ID]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute validates and runs the workflow, returning the completed
// execution record. The record is returned even when the run fails or is
// cancelled; the error then describes the failure.
//
// The run loop dispatches every ready node (pending, all predecessors
// completed) as one wave, waits for the wave, and repeats. Cancellation
// is cooperative: it is checked at wave boundaries and before each node
// dispatch, and in-flight nodes finish.
func (e *WorkflowExecutor) Execute(ctx context.Context, w *workflow.Workflow, trigger workflow.TriggerType, input map[string]any) (*execution.WorkflowExecution, error) {
	validator := workflow.NewDAGValidator(nil, workflow.WithValidatorLogger(e.logger))
	if result := validator.ValidateDefinition(ctx, w); !result.Valid {
		return nil, result.FirstError()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	exec := &execution.WorkflowExecution{
		ID:          types.NewID(),
		WorkflowID:  w.ID,
		Status:      workflow.StatusRunning,
		TriggerType: trigger,
		Input:       input,
		CreatedAt:   time.Now().UTC(),
	}
	now := exec.CreatedAt
	exec.StartedAt = &now

	e.register(exec.ID, cancel)
	defer e.unregister(exec.ID)

	e.persistCreate(ctx, exec)
	e.log(ctx, exec.ID, "", execution.LogLevelInfo, "execution started", map[string]any{
		"workflow_id": w.ID.String(),
		"node_count":  len(w.Nodes),
	})

	execCtx := execution.NewContext(exec.ID)
	for k, v := range input {
		execCtx.SetVariable(k, v)
	}

	state := newRunState(w)

	var runErr error
	for {
		if err := runCtx.Err(); err != nil {
			runErr = workflow.NewError(workflow.ErrCodeExecutionCancelled, "execution cancelled: %v", err)
			exec.Status = workflow.StatusCancelled
			break
		}

		ready := state.readyNodes()
		if len(ready) == 0 {
			if state.isComplete() {
				if state.anyFailed() {
					exec.Status = workflow.StatusFailed
					runErr = e.firstFailure(w, state)
				} else {
					exec.Status = workflow.StatusCompleted
				}
				break
			}
			runErr = workflow.NewError(workflow.ErrCodeDeadlock,
				"no runnable nodes but execution is incomplete")
			exec.Status = workflow.StatusFailed
			break
		}

		e.runWave(runCtx, ready, state, exec, execCtx, trigger)
	}

	finished := time.Now().UTC()
	exec.CompletedAt = &finished
	exec.Output = execCtx.NodeOutputs()
	if runErr != nil {
		exec.Error = runErr.Error()
	}

	e.persistUpdate(ctx, exec)
	e.log(ctx, exec.ID, "", execution.LogLevelInfo, "execution finished", map[string]any{
		"status":   string(exec.Status),
		"duration": finished.Sub(*exec.StartedAt).String(),
	})
	e.logger.InfoContext(ctx, "workflow execution finished",
		"execution_id", exec.ID,
		"workflow_id", w.ID,
		"status", exec.Status,
	)

	return exec, runErr
}

// Cancel requests cancellation of a running execution. It returns false
// when no execution with that ID is currently running.
func (e *WorkflowExecutor) Cancel(id types.ID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	cancel, ok := e.cancels[id]
	if ok {
		cancel()
	}
	return ok
}

func (e *WorkflowExecutor) register(id types.ID, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancels[id] = cancel
}

func (e *WorkflowExecutor) unregister(id types.ID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cancels, id)
}

// runWave executes one batch of ready nodes with bounded concurrency.
func (e *WorkflowExecutor) runWave(ctx context.Context, nodes []*workflow.Node, state *runState, exec *execution.WorkflowExecution, execCtx *execution.Context, trigger workflow.TriggerType) {
	sem := make(chan struct{}, e.maxParallel)
	var wg sync.WaitGroup

	for _, node := range nodes {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}

		go func(n *workflow.Node) {
			defer wg.Done()
			defer func() { <-sem }()
			e.runNode(ctx, n, state, exec, execCtx, trigger)
		}(node)
	}

	wg.Wait()
}

// runNode executes one node through its processor, honoring the node's
// timeout and retry policy, and records the node execution row.
func (e *WorkflowExecutor) runNode(ctx context.Context, node *workflow.Node, state *runState, exec *execution.WorkflowExecution, execCtx *execution.Context, trigger workflow.TriggerType) {
	state.markRunning(node.ID)

	started := time.Now().UTC()
	record := &execution.NodeExecution{
		ID:          types.NewID(),
		ExecutionID: exec.ID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		Status:      workflow.StatusRunning,
		StartedAt:   &started,
	}
	e.persistNodeCreate(ctx, record)

	out, err := e.invokeWithRetry(ctx, node, exec, execCtx, trigger)

	finished := time.Now().UTC()
	record.CompletedAt = &finished

	if err != nil {
		if isCancellation(ctx, err) {
			record.Status = workflow.StatusCancelled
			record.Error = err.Error()
			state.markCancelled(node.ID)

			persistCtx := context.WithoutCancel(ctx)
			e.log(persistCtx, exec.ID, node.ID, execution.LogLevelWarn, "node cancelled", nil)
			e.persistNodeUpdate(persistCtx, record)
			return
		}

		record.Status = workflow.StatusFailed
		record.Error = err.Error()
		skipped := state.markFailed(node.ID, err)

		e.log(ctx, exec.ID, node.ID, execution.LogLevelError, "node failed", map[string]any{
			"error":   err.Error(),
			"skipped": skipped,
		})
		e.logger.ErrorContext(ctx, "node execution failed",
			"execution_id", exec.ID,
			"node_id", node.ID,
			"error", err,
		)
		e.persistNodeUpdate(ctx, record)
		e.persistSkips(ctx, exec.ID, node, skipped)
		return
	}

	record.Status = workflow.StatusCompleted
	record.Output = out
	execCtx.SetNodeOutput(node.ID, out)
	state.markCompleted(node.ID)

	e.log(ctx, exec.ID, node.ID, execution.LogLevelInfo, "node completed", map[string]any{
		"duration": finished.Sub(started).String(),
	})
	e.persistNodeUpdate(ctx, record)
}

// isCancellation reports whether a node error is the run's own
// cancellation rather than a genuine node failure. A timeout of the
// node's individual deadline is a failure; the parent context being
// cancelled is not.
func isCancellation(ctx context.Context, err error) bool {
	var werr *workflow.Error
	if errors.As(err, &werr) && werr.Code == workflow.ErrCodeExecutionCancelled {
		return true
	}
	return ctx.Err() == context.Canceled && errors.Is(err, context.Canceled)
}

// invokeWithRetry runs the node's processor up to the retry policy's
// attempt limit, sleeping the backoff interval between attempts.
// Validation errors and cancellation are never retried.
func (e *WorkflowExecutor) invokeWithRetry(ctx context.Context, node *workflow.Node, exec *execution.WorkflowExecution, execCtx *execution.Context, trigger workflow.TriggerType) (map[string]any, error) {
	policy := retryPolicyFor(node)

	var lastErr error
	for attempt := 1; attempt <= policy.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, workflow.NewError(workflow.ErrCodeExecutionCancelled, "execution cancelled: %v", ctx.Err())
			case <-time.After(policy.wait(attempt - 1)):
			}
			e.log(ctx, exec.ID, node.ID, execution.LogLevelWarn, "retrying node", map[string]any{
				"attempt": attempt,
			})
		}

		out, err := e.invoke(ctx, node, exec, execCtx, trigger)
		if err == nil {
			return out, nil
		}
		lastErr = err

		var verr *processor.ValidationError
		if errors.As(err, &verr) {
			break
		}
		var werr *workflow.Error
		if errors.As(err, &werr) && werr.Code == workflow.ErrCodeExecutionCancelled {
			break
		}
	}
	return nil, lastErr
}

// invoke runs one processor attempt under the node's timeout.
func (e *WorkflowExecutor) invoke(ctx context.Context, node *workflow.Node, exec *execution.WorkflowExecution, execCtx *execution.Context, trigger workflow.TriggerType) (map[string]any, error) {
	// Parallel nodes are structural fan-out points: they carry no
	// behavior of their own and complete immediately.
	if node.Type == workflow.NodeTypeParallel {
		return map[string]any{"branches": e.branchCount(node, execCtx)}, nil
	}

	proc, err := e.registry.Create(node, execCtx, e.procConfig)
	if err != nil {
		return nil, err
	}

	nodeCtx := ctx
	if node.Timeout > 0 {
		var cancel context.CancelFunc
		nodeCtx, cancel = context.WithTimeout(ctx, node.Timeout)
		defer cancel()
	}

	out, err := proc.Execute(nodeCtx, e.rawInput(node, execCtx, trigger))
	if err != nil {
		if nodeCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			timeoutErr := workflow.NewError(workflow.ErrCodeNodeTimeout,
				"node %s exceeded its %s timeout", node.ID, node.Timeout)
			timeoutErr.NodeID = node.ID
			return nil, timeoutErr
		}
		return nil, err
	}
	return out, nil
}

func (e *WorkflowExecutor) branchCount(node *workflow.Node, _ *execution.Context) int {
	// Successor count is not tracked here; the raw config may name the
	// branches explicitly.
	if node.Config != nil {
		if branches, ok := node.Config["branches"].([]any); ok {
			return len(branches)
		}
	}
	return 0
}

// rawInput assembles the raw input mapping a processor validates: the
// node's static config plus the runtime fields the engine supplies.
func (e *WorkflowExecutor) rawInput(node *workflow.Node, execCtx *execution.Context, trigger workflow.TriggerType) map[string]any {
	raw := make(map[string]any, len(node.Config)+2)
	for k, v := range node.Config {
		raw[k] = v
	}

	switch node.Type {
	case workflow.NodeTypeTrigger:
		if _, ok := raw["trigger_type"]; !ok {
			raw["trigger_type"] = triggerTypeName(trigger)
		}
		if _, ok := raw["payload"]; !ok {
			raw["payload"] = execCtx.Variables()
		}
	case workflow.NodeTypeCondition:
		if _, ok := raw["context"]; !ok {
			raw["context"] = execCtx.Variables()
		}
	}
	return raw
}

func triggerTypeName(t workflow.TriggerType) string {
	switch t {
	case workflow.TriggerTypeSchedule:
		return "schedule"
	case workflow.TriggerTypeEvent:
		return "webhook"
	default:
		return "manual"
	}
}

// firstFailure returns the first failed node's error in declaration
// order, wrapped with the node's identity.
func (e *WorkflowExecutor) firstFailure(w *workflow.Workflow, state *runState) error {
	for _, n := range w.Nodes {
		if state.status(n.ID) == workflow.StatusFailed {
			failErr := workflow.NewError(workflow.ErrCodeNodeExecutionFailed,
				"node %s failed", n.ID)
			failErr.NodeID = n.ID
			failErr.Cause = state.nodeError(n.ID)
			return failErr
		}
	}
	return workflow.NewError(workflow.ErrCodeNodeExecutionFailed, "execution failed")
}

func (e *WorkflowExecutor) persistCreate(ctx context.Context, exec *execution.WorkflowExecution) {
	if e.executions == nil {
		return
	}
	if err := e.executions.CreateExecution(ctx, exec); err != nil {
		e.logger.WarnContext(ctx, "failed to persist execution", "execution_id", exec.ID, "error", err)
	}
}

func (e *WorkflowExecutor) persistUpdate(ctx context.Context, exec *execution.WorkflowExecution) {
	if e.executions == nil {
		return
	}
	if err := e.executions.UpdateExecution(ctx, exec); err != nil {
		e.logger.WarnContext(ctx, "failed to persist execution", "execution_id", exec.ID, "error", err)
	}
}

func (e *WorkflowExecutor) persistNodeCreate(ctx context.Context, record *execution.NodeExecution) {
	if e.executions == nil {
		return
	}
	if err := e.executions.CreateNodeExecution(ctx, record); err != nil {
		e.logger.WarnContext(ctx, "failed to persist node execution", "node_id", record.NodeID, "error", err)
	}
}

func (e *WorkflowExecutor) persistNodeUpdate(ctx context.Context, record *execution.NodeExecution) {
	if e.executions == nil {
		return
	}
	if err := e.executions.UpdateNodeExecution(ctx, record); err != nil {
		e.logger.WarnContext(ctx, "failed to persist node execution", "node_id", record.NodeID, "error", err)
	}
}

// persistSkips writes node execution rows for every node skipped because
// of an upstream failure.
func (e *WorkflowExecutor) persistSkips(ctx context.Context, executionID types.ID, failed *workflow.Node, skipped []string) {
	if e.executions == nil {
		return
	}
	now := time.Now().UTC()
	for _, id := range skipped {
		record := &execution.NodeExecution{
			ID:          types.NewID(),
			ExecutionID: executionID,
			NodeID:      id,
			Status:      workflow.StatusSkipped,
			Error:       "upstream node " + failed.ID + " failed",
			StartedAt:   &now,
			CompletedAt: &now,
		}
		if err := e.executions.CreateNodeExecution(ctx, record); err != nil {
			e.logger.WarnContext(ctx, "failed to persist skipped node", "node_id", id, "error", err)
		}
	}
}

func (e *WorkflowExecutor) log(ctx context.Context, executionID types.ID, nodeID string, level execution.LogLevel, message string, fields map[string]any) {
	if e.executions == nil {
		return
	}
	entry := &execution.ExecutionLog{
		ID:          types.NewID(),
		ExecutionID: executionID,
		NodeID:      nodeID,
		Level:       level,
		Message:     message,
		Fields:      fields,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.executions.AppendLog(ctx, entry); err != nil {
		e.logger.WarnContext(ctx, "failed to append execution log", "execution_id", executionID, "error", err)
	}
}
