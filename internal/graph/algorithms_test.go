package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// diamond builds a -> {b, c} -> d.
func diamond() *Graph {
	g := New()
	g.AddEdge("a", "b")
	g.AddEdge("a", "c")
	g.AddEdge("b", "d")
	g.AddEdge("c", "d")
	return g
}

func TestFindCycle(t *testing.T) {
	t.Run("empty graph has no cycle", func(t *testing.T) {
		assert.Nil(t, FindCycle(New()))
	})

	t.Run("acyclic diamond has no cycle", func(t *testing.T) {
		assert.Nil(t, FindCycle(diamond()))
	})

	t.Run("simple cycle is reported as a closed walk", func(t *testing.T) {
		g := New()
		g.AddEdge("a", "b")
		g.AddEdge("b", "c")
		g.AddEdge("c", "a")

		cycle := FindCycle(g)
		require.NotNil(t, cycle)
		require.GreaterOrEqual(t, len(cycle), 2)
		assert.Equal(t, cycle[0], cycle[len(cycle)-1])

		// Every consecutive pair in the reported path must be an edge of
		// the graph, i.e. the path is itself a walk in g.
		for i := 0; i < len(cycle)-1; i++ {
			assert.True(t, g.HasEdge(cycle[i], cycle[i+1]),
				"missing edge %s -> %s", cycle[i], cycle[i+1])
		}
	})

	t.Run("cycle in a disconnected component", func(t *testing.T) {
		g := diamond()
		g.AddEdge("x", "y")
		g.AddEdge("y", "x")

		cycle := FindCycle(g)
		require.NotNil(t, cycle)
		assert.Equal(t, cycle[0], cycle[len(cycle)-1])
	})
}

func TestTopologicalSort(t *testing.T) {
	t.Run("edges point forward in the order", func(t *testing.T) {
		g := diamond()
		order, ok := TopologicalSort(g)
		require.True(t, ok)
		require.Len(t, order, 4)

		index := make(map[string]int, len(order))
		for i, id := range order {
			index[id] = i
		}
		for _, id := range g.Nodes() {
			for _, succ := range g.Successors(id) {
				assert.Less(t, index[id], index[succ])
			}
		}
	})

	t.Run("ties break by insertion order and stay stable", func(t *testing.T) {
		g := New()
		g.AddNode("first")
		g.AddNode("second")
		g.AddNode("third")

		for i := 0; i < 5; i++ {
			order, ok := TopologicalSort(g)
			require.True(t, ok)
			assert.Equal(t, []string{"first", "second", "third"}, order)
		}
	})

	t.Run("cyclic graph reports failure", func(t *testing.T) {
		g := New()
		g.AddEdge("a", "b")
		g.AddEdge("b", "a")

		_, ok := TopologicalSort(g)
		assert.False(t, ok)
	})
}

func TestDepths(t *testing.T) {
	g := diamond()
	g.AddEdge("d", "e")

	depths, ok := Depths(g)
	require.True(t, ok)
	assert.Equal(t, 0, depths["a"])
	assert.Equal(t, 1, depths["b"])
	assert.Equal(t, 1, depths["c"])
	assert.Equal(t, 2, depths["d"])
	assert.Equal(t, 3, depths["e"])
}

func TestReachability(t *testing.T) {
	g := diamond()
	g.AddNode("island")

	reachable := Reachable(g, []string{"a"})
	assert.True(t, reachable["d"])
	assert.False(t, reachable["island"])

	assert.Equal(t, []string{"island"}, Unreachable(g, []string{"a"}))
	assert.Empty(t, Unreachable(g, []string{"a", "island"}))
}

func TestRootsAndTerminals(t *testing.T) {
	g := diamond()
	assert.Equal(t, []string{"a"}, Roots(g))
	assert.Equal(t, []string{"d"}, Terminals(g))
}

func TestDanglingNodes(t *testing.T) {
	g := New()
	g.AddEdge("trigger", "tool")
	g.AddEdge("trigger", "sink")

	// Only "sink" is allowed to terminate; "tool" dangles.
	dangling := DanglingNodes(g, func(id string) bool { return id == "sink" })
	assert.Equal(t, []string{"tool"}, dangling)
}

func TestDeadEnds(t *testing.T) {
	g := diamond()
	g.AddEdge("b", "stuck") // reachable, but no path to d

	deadEnds := DeadEnds(g, []string{"a"}, []string{"d"})
	assert.Equal(t, []string{"stuck"}, deadEnds)
}

func TestCriticalPath(t *testing.T) {
	t.Run("longest path by node count", func(t *testing.T) {
		g := diamond()
		g.AddEdge("d", "e")

		path, total, ok := CriticalPath(g, nil)
		require.True(t, ok)
		assert.Len(t, path, 4)
		assert.Equal(t, float64(4), total)
		assert.Equal(t, "a", path[0])
		assert.Equal(t, "e", path[len(path)-1])
	})

	t.Run("weighted path prefers the heavy branch", func(t *testing.T) {
		g := diamond()
		weights := map[string]float64{"a": 1, "b": 10, "c": 1, "d": 1}

		path, total, ok := CriticalPath(g, func(id string) float64 { return weights[id] })
		require.True(t, ok)
		assert.Equal(t, []string{"a", "b", "d"}, path)
		assert.Equal(t, float64(12), total)
	})

	t.Run("cyclic graph fails", func(t *testing.T) {
		g := New()
		g.AddEdge("a", "b")
		g.AddEdge("b", "a")
		_, _, ok := CriticalPath(g, nil)
		assert.False(t, ok)
	})
}
