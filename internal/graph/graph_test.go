package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	g := New()
	require.NotNil(t, g)
	assert.Zero(t, g.NodeCount())
	assert.Zero(t, g.EdgeCount())
}

func TestAddNode(t *testing.T) {
	g := New()

	g.AddNode("a")
	assert.Equal(t, 1, g.NodeCount())
	assert.True(t, g.HasNode("a"))

	g.AddNode("a") // idempotent
	assert.Equal(t, 1, g.NodeCount())

	g.AddNode("b")
	assert.Equal(t, 2, g.NodeCount())
	assert.Equal(t, []string{"a", "b"}, g.Nodes())
}

func TestAddEdge(t *testing.T) {
	g := New()

	// Endpoints are inserted automatically.
	g.AddEdge("a", "b")
	assert.Equal(t, 2, g.NodeCount())
	assert.Equal(t, 1, g.EdgeCount())
	assert.True(t, g.HasEdge("a", "b"))
	assert.False(t, g.HasEdge("b", "a"))

	assert.Equal(t, []string{"b"}, g.Successors("a"))
	assert.Equal(t, []string{"a"}, g.Predecessors("b"))
	assert.Equal(t, 1, g.OutDegree("a"))
	assert.Equal(t, 1, g.InDegree("b"))

	// Duplicate parallel edges are permitted at this layer.
	g.AddEdge("a", "b")
	assert.Equal(t, 2, g.EdgeCount())
	assert.Equal(t, 2, g.OutDegree("a"))
}

func TestUnknownNodeLookups(t *testing.T) {
	g := New()
	g.AddNode("a")

	assert.Empty(t, g.Successors("missing"))
	assert.Empty(t, g.Predecessors("missing"))
	assert.Zero(t, g.InDegree("missing"))
	assert.Zero(t, g.OutDegree("missing"))
	assert.False(t, g.HasEdge("missing", "a"))
}

func TestCopyIsIndependent(t *testing.T) {
	g := New()
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")

	dup := g.Copy()
	dup.AddEdge("c", "d")
	dup.AddEdge("a", "c")

	assert.Equal(t, 3, g.NodeCount())
	assert.Equal(t, 2, g.EdgeCount())
	assert.False(t, g.HasNode("d"))
	assert.False(t, g.HasEdge("a", "c"))

	assert.Equal(t, 4, dup.NodeCount())
	assert.Equal(t, 4, dup.EdgeCount())
	assert.True(t, dup.HasEdge("c", "d"))
}

func TestNodesReturnsCopy(t *testing.T) {
	g := New()
	g.AddNode("a")
	g.AddNode("b")

	nodes := g.Nodes()
	nodes[0] = "mutated"

	assert.Equal(t, []string{"a", "b"}, g.Nodes())
}
