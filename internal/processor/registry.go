package processor

import (
	"fmt"
	"sync"

	"github.com/tidegraph/tide/internal/execution"
	"github.com/tidegraph/tide/internal/workflow"
)

// Factory constructs a processor for one node within one execution.
type Factory func(node *workflow.Node, execCtx *execution.Context, config Config) Processor

// Config carries the external collaborators processors delegate to. Zero
// values are valid: processors fall back to documented placeholder
// behavior when a collaborator is absent.
type Config struct {
	ToolRunner   ToolRunner
	AgentInvoker AgentInvoker
}

// NotFoundError reports a node type with no registered processor.
type NotFoundError struct {
	NodeType workflow.NodeType
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no processor registered for node type %q", e.NodeType)
}

// Registry maps node types to processor factories.
//
// Register rejects duplicate registrations; replacing an existing factory
// (for test doubles or extensions) requires the explicit Replace call.
// This is the one registration policy used across the system.
type Registry struct {
	mu        sync.RWMutex
	factories map[workflow.NodeType]Factory
}

// NewRegistry creates an empty registry. Tests that need isolation build
// their own instead of touching the process-wide default.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[workflow.NodeType]Factory)}
}

// NewBuiltinRegistry creates a registry populated with the six built-in
// node types.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	// Registering built-ins into a fresh registry cannot collide.
	_ = r.Register(workflow.NodeTypeTrigger, newTriggerProcessor)
	_ = r.Register(workflow.NodeTypeTool, newToolProcessor)
	_ = r.Register(workflow.NodeTypeAgent, newAgentProcessor)
	_ = r.Register(workflow.NodeTypeCondition, newConditionProcessor)
	_ = r.Register(workflow.NodeTypeAdapter, newAdapterProcessor)
	_ = r.Register(workflow.NodeTypeAggregator, newAggregatorProcessor)
	return r
}

// Register adds a factory for a node type. A duplicate registration is an
// error; use Replace to overwrite deliberately.
func (r *Registry) Register(nodeType workflow.NodeType, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[nodeType]; exists {
		return fmt.Errorf("processor for node type %q is already registered", nodeType)
	}
	r.factories[nodeType] = factory
	return nil
}

// Replace installs a factory for a node type, overwriting any existing
// registration. Intended for test doubles and extensions.
func (r *Registry) Replace(nodeType workflow.NodeType, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[nodeType] = factory
}

// Get returns the factory for a node type, or *NotFoundError if none is
// registered.
func (r *Registry) Get(nodeType workflow.NodeType) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[nodeType]
	if !ok {
		return nil, &NotFoundError{NodeType: nodeType}
	}
	return factory, nil
}

// Create instantiates a processor for the given node.
func (r *Registry) Create(node *workflow.Node, execCtx *execution.Context, config Config) (Processor, error) {
	factory, err := r.Get(node.Type)
	if err != nil {
		return nil, err
	}
	return factory(node, execCtx, config), nil
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide registry populated with the built-in
// node types. It is initialized once and read-only in steady state;
// components that need custom registrations should own an explicit
// Registry instead.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewBuiltinRegistry()
	})
	return defaultRegistry
}
