package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/tidegraph/tide/internal/types"
)

// Builder provides a fluent API for constructing workflows in code.
// It accumulates errors during building and reports them all at Build time.
type Builder struct {
	workflow *Workflow
	errors   []error
}

// NewBuilder creates a Builder for a workflow with the given name.
func NewBuilder(name string) *Builder {
	now := time.Now()
	return &Builder{
		workflow: &Workflow{
			ID:        types.NewID(),
			Name:      name,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// WithDescription sets the workflow description.
func (b *Builder) WithDescription(desc string) *Builder {
	b.workflow.Description = desc
	return b
}

// AddNode adds a node to the workflow. A duplicate ID accumulates an error.
func (b *Builder) AddNode(node *Node) *Builder {
	if node == nil {
		b.errors = append(b.errors, errors.New("cannot add nil node"))
		return b
	}
	if node.ID == "" {
		b.errors = append(b.errors, errors.New("node must have an ID"))
		return b
	}
	if b.workflow.GetNode(node.ID) != nil {
		b.errors = append(b.errors, fmt.Errorf("node with ID %q already exists", node.ID))
		return b
	}
	b.workflow.Nodes = append(b.workflow.Nodes, node)
	return b
}

// AddTriggerNode creates and adds a trigger node.
func (b *Builder) AddTriggerNode(id string, config map[string]any) *Builder {
	return b.AddNode(&Node{ID: id, Type: NodeTypeTrigger, Config: config})
}

// AddToolNode creates and adds a tool node.
func (b *Builder) AddToolNode(id string, config map[string]any) *Builder {
	return b.AddNode(&Node{ID: id, Type: NodeTypeTool, Config: config})
}

// AddAgentNode creates and adds an agent node.
func (b *Builder) AddAgentNode(id string, config map[string]any) *Builder {
	return b.AddNode(&Node{ID: id, Type: NodeTypeAgent, Config: config})
}

// AddConditionNode creates and adds a condition node.
func (b *Builder) AddConditionNode(id string, config map[string]any) *Builder {
	return b.AddNode(&Node{ID: id, Type: NodeTypeCondition, Config: config})
}

// AddAdapterNode creates and adds an adapter node.
func (b *Builder) AddAdapterNode(id string, config map[string]any) *Builder {
	return b.AddNode(&Node{ID: id, Type: NodeTypeAdapter, Config: config})
}

// AddAggregatorNode creates and adds an aggregator node.
func (b *Builder) AddAggregatorNode(id string, config map[string]any) *Builder {
	return b.AddNode(&Node{ID: id, Type: NodeTypeAggregator, Config: config})
}

// Connect adds a directed edge from source to target. Self-loops and
// duplicates accumulate errors instead of being silently dropped.
func (b *Builder) Connect(source, target string) *Builder {
	if source == target {
		b.errors = append(b.errors, fmt.Errorf("edge %s -> %s is a self-loop", source, target))
		return b
	}
	for _, e := range b.workflow.Edges {
		if e.Source == source && e.Target == target {
			b.errors = append(b.errors, fmt.Errorf("edge %s -> %s already exists", source, target))
			return b
		}
	}
	b.workflow.Edges = append(b.workflow.Edges, Edge{Source: source, Target: target})
	return b
}

// Build returns the assembled workflow, or every accumulated error joined
// together if any build step failed.
func (b *Builder) Build() (*Workflow, error) {
	if len(b.errors) > 0 {
		return nil, errors.Join(b.errors...)
	}
	for _, e := range b.workflow.Edges {
		if b.workflow.GetNode(e.Source) == nil {
			return nil, fmt.Errorf("edge references unknown source node %q", e.Source)
		}
		if b.workflow.GetNode(e.Target) == nil {
			return nil, fmt.Errorf("edge references unknown target node %q", e.Target)
		}
	}
	return b.workflow, nil
}
