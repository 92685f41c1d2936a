// Package graph provides the directed-graph container and the pure
// algorithms (cycle detection, topological sort, reachability analysis)
// used to validate and order workflow DAGs.
package graph

// Graph is an id-keyed directed graph with adjacency maintained in both
// directions. Nodes are remembered in insertion order so that traversals
// and sorts produce the same result for the same input on every run.
//
// A Graph is built fresh per validation or execution call and is not safe
// for concurrent mutation.
type Graph struct {
	order        []string
	nodes        map[string]struct{}
	successors   map[string][]string
	predecessors map[string][]string
	edgeCount    int
}

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{
		nodes:        make(map[string]struct{}),
		successors:   make(map[string][]string),
		predecessors: make(map[string][]string),
	}
}

// AddNode adds a node with the given ID to the graph. Adding a node that
// already exists does nothing.
func (g *Graph) AddNode(id string) {
	if _, ok := g.nodes[id]; ok {
		return
	}
	g.nodes[id] = struct{}{}
	g.order = append(g.order, id)
}

// AddEdge creates a directed edge from src to dst, inserting either endpoint
// as a node if it is not present yet. Duplicate parallel edges are permitted;
// rejecting them is the caller's responsibility.
func (g *Graph) AddEdge(src, dst string) {
	g.AddNode(src)
	g.AddNode(dst)
	g.successors[src] = append(g.successors[src], dst)
	g.predecessors[dst] = append(g.predecessors[dst], src)
	g.edgeCount++
}

// HasNode reports whether the graph contains the given node.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// HasEdge reports whether at least one edge from src to dst exists.
func (g *Graph) HasEdge(src, dst string) bool {
	for _, s := range g.successors[src] {
		if s == dst {
			return true
		}
	}
	return false
}

// Successors returns the ordered list of direct successors of the given
// node. Unknown nodes yield an empty slice rather than an error.
func (g *Graph) Successors(id string) []string {
	return g.successors[id]
}

// Predecessors returns the ordered list of direct predecessors of the given
// node. Unknown nodes yield an empty slice rather than an error.
func (g *Graph) Predecessors(id string) []string {
	return g.predecessors[id]
}

// InDegree returns the number of incoming edges for the given node.
func (g *Graph) InDegree(id string) int {
	return len(g.predecessors[id])
}

// OutDegree returns the number of outgoing edges for the given node.
func (g *Graph) OutDegree(id string) int {
	return len(g.successors[id])
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph, counting duplicates.
func (g *Graph) EdgeCount() int {
	return g.edgeCount
}

// Nodes returns the node IDs in insertion order. The returned slice is a
// copy and may be modified freely.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Copy returns a copy of the graph that shares no mutable state with the
// original. Mutating the copy's adjacency never affects the source graph.
func (g *Graph) Copy() *Graph {
	dup := &Graph{
		order:        make([]string, len(g.order)),
		nodes:        make(map[string]struct{}, len(g.nodes)),
		successors:   make(map[string][]string, len(g.successors)),
		predecessors: make(map[string][]string, len(g.predecessors)),
		edgeCount:    g.edgeCount,
	}
	copy(dup.order, g.order)
	for id := range g.nodes {
		dup.nodes[id] = struct{}{}
	}
	for id, succ := range g.successors {
		dup.successors[id] = append([]string(nil), succ...)
	}
	for id, pred := range g.predecessors {
		dup.predecessors[id] = append([]string(nil), pred...)
	}
	return dup
}
