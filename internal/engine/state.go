package engine

import (
	"sync"

	"github.com/tidegraph/tide/internal/graph"
	"github.com/tidegraph/tide/internal/workflow"
)

// runState tracks the per-node status of one execution. All access is
// serialized under the mutex; batch goroutines report results through
// the mark methods.
type runState struct {
	mu       sync.RWMutex
	w        *workflow.Workflow
	g        *graph.Graph
	statuses map[string]workflow.Status
	errs     map[string]error
}

func newRunState(w *workflow.Workflow) *runState {
	g := graph.New()
	for _, n := range w.Nodes {
		g.AddNode(n.ID)
	}
	for _, e := range w.Edges {
		g.AddEdge(e.Source, e.Target)
	}

	statuses := make(map[string]workflow.Status, len(w.Nodes))
	for _, n := range w.Nodes {
		statuses[n.ID] = workflow.StatusPending
	}

	return &runState{
		w:        w,
		g:        g,
		statuses: statuses,
		errs:     make(map[string]error),
	}
}

// readyNodes returns the pending nodes whose predecessors have all
// completed, in the workflow's declaration order.
func (s *runState) readyNodes() []*workflow.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ready []*workflow.Node
	for _, n := range s.w.Nodes {
		if s.statuses[n.ID] != workflow.StatusPending {
			continue
		}
		ok := true
		for _, pred := range s.g.Predecessors(n.ID) {
			if s.statuses[pred] != workflow.StatusCompleted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, n)
		}
	}
	return ready
}

func (s *runState) markRunning(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = workflow.StatusRunning
}

func (s *runState) markCompleted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = workflow.StatusCompleted
}

// markCancelled records a node interrupted by execution cancellation.
// Unlike markFailed it does not skip downstream nodes; the run is ending
// as a whole.
func (s *runState) markCancelled(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = workflow.StatusCancelled
}

// markFailed records the node's failure and skips every still-pending
// node downstream of it. Nodes on independent branches are untouched.
// It returns the IDs of the nodes it skipped.
func (s *runState) markFailed(id string, err error) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.statuses[id] = workflow.StatusFailed
	s.errs[id] = err

	var skipped []string
	for downstream := range graph.Reachable(s.g, []string{id}) {
		if downstream == id {
			continue
		}
		if s.statuses[downstream] == workflow.StatusPending {
			s.statuses[downstream] = workflow.StatusSkipped
			skipped = append(skipped, downstream)
		}
	}
	return skipped
}

func (s *runState) status(id string) workflow.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statuses[id]
}

// isComplete reports whether every node has reached a terminal status.
func (s *runState) isComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, status := range s.statuses {
		if !status.IsTerminal() {
			return false
		}
	}
	return true
}

func (s *runState) anyFailed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, status := range s.statuses {
		if status == workflow.StatusFailed {
			return true
		}
	}
	return false
}

// nodeError returns the recorded failure for a node, or nil.
func (s *runState) nodeError(id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errs[id]
}
