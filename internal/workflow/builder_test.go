package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderBuildsWorkflow(t *testing.T) {
	w, err := NewBuilder("pipeline").
		WithDescription("two step pipeline").
		AddTriggerNode("start", map[string]any{"trigger_type": "manual"}).
		AddToolNode("work", map[string]any{"tool_id": "t"}).
		Connect("start", "work").
		Build()

	require.NoError(t, err)
	assert.Equal(t, "pipeline", w.Name)
	assert.Equal(t, "two step pipeline", w.Description)
	assert.Equal(t, 1, w.Version)
	assert.Len(t, w.Nodes, 2)
	assert.Len(t, w.Edges, 1)
	assert.NoError(t, w.ID.Validate())
	assert.Equal(t, NodeTypeTrigger, w.GetNode("start").Type)
}

func TestBuilderAccumulatesErrors(t *testing.T) {
	_, err := NewBuilder("broken").
		AddToolNode("a", nil).
		AddToolNode("a", nil). // duplicate
		AddNode(nil).          // nil node
		Connect("a", "a").     // self-loop
		Build()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
	assert.Contains(t, err.Error(), "nil node")
	assert.Contains(t, err.Error(), "self-loop")
}

func TestBuilderRejectsUnknownEdgeEndpoints(t *testing.T) {
	_, err := NewBuilder("broken").
		AddToolNode("a", nil).
		Connect("a", "missing").
		Build()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown target")
}
