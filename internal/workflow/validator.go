package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tidegraph/tide/internal/graph"
	"github.com/tidegraph/tide/internal/types"
)

// Source loads persisted workflow definitions for validation. The concrete
// persistence layer lives outside this package; stores implement this
// interface.
type Source interface {
	GetWorkflow(ctx context.Context, id types.ID) (*Workflow, error)
}

// Default ceilings bounding validation cost. Workflows beyond these limits
// fail fast with ErrCodeGraphTooLarge.
const (
	DefaultMaxNodes = 1000
	DefaultMaxEdges = 5000

	// DefaultTimeBudget bounds the wall-clock time of a single validation
	// call. Exceeding it yields ErrCodeValidationTimeout.
	DefaultTimeBudget = 5 * time.Second
)

// DAGValidator orchestrates the graph algorithms against a persisted
// workflow's node and edge set. It produces structured validation results
// and optionally caches them keyed by (workflow id, version).
//
// The cache is a derived, disposable view and never the source of truth:
// Invalidate must be called for a workflow before the next read whenever
// its structure mutates.
type DAGValidator struct {
	source     Source
	logger     *slog.Logger
	maxNodes   int
	maxEdges   int
	timeBudget time.Duration

	mu    sync.Mutex
	cache map[validationKey]*ValidationResult
}

type validationKey struct {
	id      types.ID
	version int
}

// ValidatorOption is a functional option for configuring a DAGValidator.
type ValidatorOption func(*DAGValidator)

// WithMaxGraphSize sets the node and edge ceilings for the size guard.
func WithMaxGraphSize(maxNodes, maxEdges int) ValidatorOption {
	return func(v *DAGValidator) {
		if maxNodes > 0 {
			v.maxNodes = maxNodes
		}
		if maxEdges > 0 {
			v.maxEdges = maxEdges
		}
	}
}

// WithTimeBudget sets the wall-clock budget for a single validation call.
func WithTimeBudget(d time.Duration) ValidatorOption {
	return func(v *DAGValidator) {
		if d > 0 {
			v.timeBudget = d
		}
	}
}

// WithValidationCache enables result caching keyed by (workflow, version).
func WithValidationCache() ValidatorOption {
	return func(v *DAGValidator) {
		v.cache = make(map[validationKey]*ValidationResult)
	}
}

// WithValidatorLogger configures the validator's structured logger.
func WithValidatorLogger(logger *slog.Logger) ValidatorOption {
	return func(v *DAGValidator) {
		v.logger = logger
	}
}

// NewDAGValidator creates a DAGValidator reading workflows from source.
func NewDAGValidator(source Source, opts ...ValidatorOption) *DAGValidator {
	v := &DAGValidator{
		source:     source,
		logger:     slog.Default(),
		maxNodes:   DefaultMaxNodes,
		maxEdges:   DefaultMaxEdges,
		timeBudget: DefaultTimeBudget,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateWorkflow loads the workflow, runs the full validation pipeline
// and returns a structured result. Cycle detection short-circuits: a
// cyclic graph is reported invalid immediately with the cycle path, since
// topology-dependent checks are undefined for it.
func (v *DAGValidator) ValidateWorkflow(ctx context.Context, id types.ID) (*ValidationResult, error) {
	w, err := v.source.GetWorkflow(ctx, id)
	if err != nil {
		return nil, NewError(ErrCodeWorkflowNotFound, "workflow %s: %v", id, err)
	}

	if cached := v.cachedResult(w); cached != nil {
		return cached, nil
	}

	result := v.ValidateDefinition(ctx, w)
	v.storeResult(w, result)
	return result, nil
}

// ValidateDefinition validates an in-memory workflow definition without
// touching the cache. Used for workflows that are not persisted yet.
func (v *DAGValidator) ValidateDefinition(ctx context.Context, w *Workflow) *ValidationResult {
	started := time.Now()
	result := &ValidationResult{Valid: true}

	if len(w.Nodes) == 0 {
		result.addError(Issue{Code: ErrCodeEmptyWorkflow, Message: "workflow must contain at least one node"})
		return result
	}

	if len(w.Nodes) > v.maxNodes || len(w.Edges) > v.maxEdges {
		result.addError(Issue{
			Code: ErrCodeGraphTooLarge,
			Message: fmt.Sprintf("workflow has %d nodes and %d edges, exceeding the configured ceiling of %d/%d",
				len(w.Nodes), len(w.Edges), v.maxNodes, v.maxEdges),
		})
		return result
	}

	v.checkStructure(w, result)
	if !result.Valid {
		return result
	}

	if err := v.checkBudget(ctx, started); err != nil {
		result.addError(Issue{Code: ErrCodeValidationTimeout, Message: err.Error()})
		return result
	}

	g := buildGraph(w)

	if cycle := graph.FindCycle(g); cycle != nil {
		result.Cycle = cycle
		result.addError(Issue{
			Code:    ErrCodeCycleDetected,
			Message: fmt.Sprintf("workflow contains a cycle through %d node(s)", len(cycle)-1),
			NodeID:  cycle[0],
		})
		v.logger.Debug("cycle detected during validation", "workflow_id", w.ID, "cycle", cycle)
		return result
	}

	if err := v.checkBudget(ctx, started); err != nil {
		result.addError(Issue{Code: ErrCodeValidationTimeout, Message: err.Error()})
		return result
	}

	v.checkConnectivity(w, g, result)

	order, _ := graph.TopologicalSort(g)
	depths, _ := graph.Depths(g)
	result.Topology = &Topology{Order: order, Depths: depths}

	return result
}

// ValidateEdgeAddition validates the graph that would result from adding
// the edge (source, target) without persisting anything. Self-loops and
// duplicate edges are rejected with dedicated codes before running full
// cycle detection.
func (v *DAGValidator) ValidateEdgeAddition(ctx context.Context, id types.ID, source, target string) (*ValidationResult, error) {
	return v.ValidateBatchEdges(ctx, id, []Edge{{Source: source, Target: target}})
}

// ValidateBatchEdges validates the union of the persisted workflow and the
// candidate edges. The check is all-or-nothing: a single offending edge
// invalidates the whole batch and nothing is applied.
func (v *DAGValidator) ValidateBatchEdges(ctx context.Context, id types.ID, edges []Edge) (*ValidationResult, error) {
	w, err := v.source.GetWorkflow(ctx, id)
	if err != nil {
		return nil, NewError(ErrCodeWorkflowNotFound, "workflow %s: %v", id, err)
	}

	result := &ValidationResult{Valid: true}

	seen := make(map[Edge]bool, len(w.Edges)+len(edges))
	for _, e := range w.Edges {
		seen[e] = true
	}

	candidate := *w
	candidate.Edges = append([]Edge(nil), w.Edges...)

	for i := range edges {
		e := edges[i]
		if e.Source == e.Target {
			result.addError(Issue{
				Code:    ErrCodeSelfLoop,
				Message: fmt.Sprintf("edge %s -> %s is a self-loop", e.Source, e.Target),
				Edge:    &edges[i],
			})
			continue
		}
		if w.GetNode(e.Source) == nil {
			result.addError(Issue{
				Code:    ErrCodeInvalidNodeReference,
				Message: fmt.Sprintf("edge references unknown source node %q", e.Source),
				Edge:    &edges[i],
			})
			continue
		}
		if w.GetNode(e.Target) == nil {
			result.addError(Issue{
				Code:    ErrCodeInvalidNodeReference,
				Message: fmt.Sprintf("edge references unknown target node %q", e.Target),
				Edge:    &edges[i],
			})
			continue
		}
		if seen[e] {
			result.addError(Issue{
				Code:    ErrCodeDuplicateEdge,
				Message: fmt.Sprintf("edge %s -> %s already exists", e.Source, e.Target),
				Edge:    &edges[i],
			})
			continue
		}
		seen[e] = true
		candidate.Edges = append(candidate.Edges, e)
	}

	if !result.Valid {
		return result, nil
	}

	unionResult := v.ValidateDefinition(ctx, &candidate)
	return unionResult, nil
}

// GetTopology returns the topological order and depth map for a valid
// workflow. Invalid workflows fail with the first error from the standard
// taxonomy.
func (v *DAGValidator) GetTopology(ctx context.Context, id types.ID) (*Topology, error) {
	result, err := v.ValidateWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, result.FirstError()
	}
	return result.Topology, nil
}

// CheckCycle is the cheap cycle-only check used for fast-path UI feedback.
// It skips every other validation phase.
func (v *DAGValidator) CheckCycle(ctx context.Context, id types.ID) (*CycleCheckResult, error) {
	w, err := v.source.GetWorkflow(ctx, id)
	if err != nil {
		return nil, NewError(ErrCodeWorkflowNotFound, "workflow %s: %v", id, err)
	}

	cycle := graph.FindCycle(buildGraph(w))
	return &CycleCheckResult{HasCycle: cycle != nil, Cycle: cycle}, nil
}

// Invalidate drops every cached result for the given workflow. It must be
// called before the next read after any structural mutation.
func (v *DAGValidator) Invalidate(id types.ID) {
	if v.cache == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for key := range v.cache {
		if key.id == id {
			delete(v.cache, key)
		}
	}
}

func (v *DAGValidator) cachedResult(w *Workflow) *ValidationResult {
	if v.cache == nil {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cache[validationKey{id: w.ID, version: w.Version}]
}

func (v *DAGValidator) storeResult(w *Workflow, result *ValidationResult) {
	if v.cache == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache[validationKey{id: w.ID, version: w.Version}] = result
}

// checkBudget enforces the wall-clock budget and context cancellation
// between validation phases.
func (v *DAGValidator) checkBudget(ctx context.Context, started time.Time) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("validation aborted: %v", err)
	}
	if elapsed := time.Since(started); elapsed > v.timeBudget {
		return fmt.Errorf("validation exceeded the %v time budget after %v", v.timeBudget, elapsed.Round(time.Millisecond))
	}
	return nil
}

// checkStructure validates node and edge referential integrity: known node
// types, unique node IDs, edges pointing at existing nodes, no self-loops,
// no duplicate (source, target) pairs.
func (v *DAGValidator) checkStructure(w *Workflow, result *ValidationResult) {
	nodeIDs := make(map[string]bool, len(w.Nodes))
	for _, n := range w.Nodes {
		if nodeIDs[n.ID] {
			result.addError(Issue{
				Code:    ErrCodeDuplicateNode,
				Message: fmt.Sprintf("node id %q is declared more than once", n.ID),
				NodeID:  n.ID,
			})
			continue
		}
		nodeIDs[n.ID] = true

		if !n.Type.Valid() {
			result.addError(Issue{
				Code:    ErrCodeInvalidNodeType,
				Message: fmt.Sprintf("node %q has unknown type %q", n.ID, n.Type),
				NodeID:  n.ID,
			})
		}
	}

	seenEdges := make(map[Edge]bool, len(w.Edges))
	for i := range w.Edges {
		e := w.Edges[i]
		if e.Source == e.Target {
			result.addError(Issue{
				Code:    ErrCodeSelfLoop,
				Message: fmt.Sprintf("edge %s -> %s is a self-loop", e.Source, e.Target),
				Edge:    &w.Edges[i],
			})
			continue
		}
		if !nodeIDs[e.Source] {
			result.addError(Issue{
				Code:    ErrCodeInvalidNodeReference,
				Message: fmt.Sprintf("edge references unknown source node %q", e.Source),
				Edge:    &w.Edges[i],
			})
		}
		if !nodeIDs[e.Target] {
			result.addError(Issue{
				Code:    ErrCodeInvalidNodeReference,
				Message: fmt.Sprintf("edge references unknown target node %q", e.Target),
				Edge:    &w.Edges[i],
			})
		}
		if seenEdges[e] {
			result.addError(Issue{
				Code:    ErrCodeDuplicateEdge,
				Message: fmt.Sprintf("edge %s -> %s is declared more than once", e.Source, e.Target),
				Edge:    &w.Edges[i],
			})
		}
		seenEdges[e] = true
	}
}

// checkConnectivity emits the advisory warnings: unreachable nodes,
// dangling outputs, and dead-end branches. Roots are the workflow's
// trigger nodes when it has any, otherwise every node without incoming
// edges.
func (v *DAGValidator) checkConnectivity(w *Workflow, g *graph.Graph, result *ValidationResult) {
	roots := make([]string, 0, len(w.Nodes))
	for _, n := range w.TriggerNodes() {
		roots = append(roots, n.ID)
	}
	if len(roots) == 0 {
		roots = graph.Roots(g)
	}

	for _, id := range graph.Unreachable(g, roots) {
		result.addWarning(Issue{
			Code:    WarnCodeUnreachableNode,
			Message: fmt.Sprintf("node %q cannot be reached from any trigger", id),
			NodeID:  id,
		})
	}

	dangling := graph.DanglingNodes(g, func(id string) bool {
		node := w.GetNode(id)
		return node != nil && node.Type.TerminalCapable()
	})
	for _, id := range dangling {
		result.addWarning(Issue{
			Code:    WarnCodeDanglingNode,
			Message: fmt.Sprintf("node %q has no outgoing edges and its output is dropped", id),
			NodeID:  id,
		})
	}

	// Dead-end analysis only makes sense when the workflow declares where
	// branches are supposed to end.
	var terminals []string
	for _, n := range w.Nodes {
		if n.Type.TerminalCapable() {
			terminals = append(terminals, n.ID)
		}
	}
	if len(terminals) > 0 {
		for _, id := range graph.DeadEnds(g, roots, terminals) {
			result.addWarning(Issue{
				Code:    WarnCodeDeadEndNode,
				Message: fmt.Sprintf("node %q is reachable but no path from it leads to a terminal node", id),
				NodeID:  id,
			})
		}
	}
}

// buildGraph converts a workflow's node and edge rows into a fresh Graph
// snapshot. Nodes are added in declaration order so downstream algorithms
// stay deterministic.
func buildGraph(w *Workflow) *graph.Graph {
	g := graph.New()
	for _, n := range w.Nodes {
		g.AddNode(n.ID)
	}
	for _, e := range w.Edges {
		g.AddEdge(e.Source, e.Target)
	}
	return g
}
