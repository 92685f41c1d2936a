// Package execution holds the per-run scratch space consumed by node
// processors and the record shapes the engine persists for each run.
package execution

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tidegraph/tide/internal/types"
)

// ErrNotFound is returned when a node output (or a key within one) has not
// been recorded.
type ErrNotFound struct {
	NodeID string
	Key    string
}

func (e *ErrNotFound) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("no output key %q recorded for node %q", e.Key, e.NodeID)
	}
	return fmt.Sprintf("no output recorded for node %q", e.NodeID)
}

// Context is the mutable scratch space of a single workflow execution:
// dot-path addressable variables plus per-node output maps. It is created
// per run and discarded at the end; only derived execution records are
// persisted.
//
// Node bodies run concurrently within a wave, so writes are serialized
// under a mutex: sibling readers never observe a partial write from
// another node's completion.
type Context struct {
	ExecutionID types.ID

	mu          sync.RWMutex
	variables   map[string]any
	nodeOutputs map[string]map[string]any
}

// NewContext creates an execution context for the given execution id.
func NewContext(executionID types.ID) *Context {
	return &Context{
		ExecutionID: executionID,
		variables:   make(map[string]any),
		nodeOutputs: make(map[string]map[string]any),
	}
}

// GetVariable resolves a dot-separated path ("trigger.payload.user")
// through the variables map. Any missing intermediate key or type mismatch
// yields the provided default; the lookup never fails.
func (c *Context) GetVariable(path string, def any) any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var current any = c.variables
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return def
		}
		current, ok = m[segment]
		if !ok {
			return def
		}
	}
	return current
}

// SetVariable writes a value at a dot-separated path, creating
// intermediate map levels as needed and overwriting the leaf. A non-map
// intermediate value is replaced by a map.
func (c *Context) SetVariable(path string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	segments := strings.Split(path, ".")
	current := c.variables
	for _, segment := range segments[:len(segments)-1] {
		next, ok := current[segment].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[segment] = next
		}
		current = next
	}
	current[segments[len(segments)-1]] = value
}

// Variables returns a shallow copy of the top-level variables map.
func (c *Context) Variables() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		out[k] = v
	}
	return out
}

// GetNodeOutput returns the recorded output of a node. With an empty key
// the whole output map is returned; with a key, that entry. Either a
// missing node or a missing key fails with *ErrNotFound.
func (c *Context) GetNodeOutput(nodeID, key string) (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	output, ok := c.nodeOutputs[nodeID]
	if !ok {
		return nil, &ErrNotFound{NodeID: nodeID}
	}
	if key == "" {
		return output, nil
	}
	value, ok := output[key]
	if !ok {
		return nil, &ErrNotFound{NodeID: nodeID, Key: key}
	}
	return value, nil
}

// SetNodeOutput records a node's output map, overwriting any prior output
// for that node id. Re-execution semantics are the executor's concern.
func (c *Context) SetNodeOutput(nodeID string, outputs map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodeOutputs[nodeID] = outputs
}

// NodeOutputs returns a shallow copy of the outputs recorded so far,
// keyed by node id.
func (c *Context) NodeOutputs() map[string]map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]map[string]any, len(c.nodeOutputs))
	for id, output := range c.nodeOutputs {
		out[id] = output
	}
	return out
}
