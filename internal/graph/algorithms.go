package graph

// Algorithms in this file are pure functions over a Graph: none of them
// mutate their input, and all visit nodes in insertion order so that the
// results are reproducible across runs on identical input.

// node colors for depth-first cycle detection.
const (
	white = iota // unvisited
	gray         // in the current recursion stack
	black        // fully explored
)

// FindCycle runs a three-color depth-first search over the graph and
// returns the first cycle found as a closed walk (the first and last
// elements are the same node). It returns nil if the graph is acyclic.
func FindCycle(g *Graph) []string {
	color := make(map[string]int, g.NodeCount())
	parent := make(map[string]string, g.NodeCount())

	var dfs func(id string) []string
	dfs = func(id string) []string {
		color[id] = gray

		for _, succ := range g.Successors(id) {
			switch color[succ] {
			case white:
				parent[succ] = id
				if cycle := dfs(succ); cycle != nil {
					return cycle
				}
			case gray:
				// Back edge: walk the parent chain from id back to succ
				// to reconstruct the cycle.
				cycle := []string{succ}
				for cur := id; cur != succ; cur = parent[cur] {
					cycle = append([]string{cur}, cycle...)
				}
				return append([]string{succ}, cycle...)
			}
		}

		color[id] = black
		return nil
	}

	for _, id := range g.Nodes() {
		if color[id] == white {
			if cycle := dfs(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// TopologicalSort orders the graph's nodes using Kahn's algorithm. Nodes
// with equal in-degree are emitted in insertion order, giving users a
// predictable execution order for independent nodes. Returns ok=false if
// the graph contains a cycle and not every node could be consumed.
func TopologicalSort(g *Graph) (order []string, ok bool) {
	inDegree := make(map[string]int, g.NodeCount())
	for _, id := range g.Nodes() {
		inDegree[id] = g.InDegree(id)
	}

	var queue []string
	for _, id := range g.Nodes() {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order = make([]string, 0, g.NodeCount())
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		for _, succ := range g.Successors(current) {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if len(order) != g.NodeCount() {
		return nil, false
	}
	return order, true
}

// Depths computes the dependency depth of every node: roots have depth 0
// and every other node sits one level below its deepest predecessor. The
// graph must be acyclic; ok=false is returned otherwise.
func Depths(g *Graph) (map[string]int, bool) {
	order, ok := TopologicalSort(g)
	if !ok {
		return nil, false
	}

	depths := make(map[string]int, len(order))
	for _, id := range order {
		depth := 0
		for _, pred := range g.Predecessors(id) {
			if d := depths[pred] + 1; d > depth {
				depth = d
			}
		}
		depths[id] = depth
	}
	return depths, true
}

// Reachable returns the set of nodes reachable from the given roots,
// including the roots themselves, using breadth-first traversal.
func Reachable(g *Graph, roots []string) map[string]bool {
	visited := make(map[string]bool, g.NodeCount())
	var queue []string
	for _, root := range roots {
		if g.HasNode(root) && !visited[root] {
			visited[root] = true
			queue = append(queue, root)
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, succ := range g.Successors(current) {
			if !visited[succ] {
				visited[succ] = true
				queue = append(queue, succ)
			}
		}
	}
	return visited
}

// Unreachable returns, in insertion order, the nodes that cannot be
// reached from any of the given roots.
func Unreachable(g *Graph, roots []string) []string {
	reachable := Reachable(g, roots)
	var out []string
	for _, id := range g.Nodes() {
		if !reachable[id] {
			out = append(out, id)
		}
	}
	return out
}

// Roots returns the nodes with no incoming edges, in insertion order.
func Roots(g *Graph) []string {
	var out []string
	for _, id := range g.Nodes() {
		if g.InDegree(id) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// Terminals returns the nodes with no outgoing edges, in insertion order.
func Terminals(g *Graph) []string {
	var out []string
	for _, id := range g.Nodes() {
		if g.OutDegree(id) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// DanglingNodes returns the nodes with no outgoing edges that the caller's
// predicate does not consider terminal-capable. These are flagged as
// warnings: their output is produced and then silently dropped.
func DanglingNodes(g *Graph, terminalCapable func(id string) bool) []string {
	var out []string
	for _, id := range g.Nodes() {
		if g.OutDegree(id) == 0 && !terminalCapable(id) {
			out = append(out, id)
		}
	}
	return out
}

// DeadEnds returns the nodes that are reachable from the given roots but
// have no path to any of the given terminal nodes. Terminal nodes
// themselves are never reported.
func DeadEnds(g *Graph, roots, terminals []string) []string {
	reachable := Reachable(g, roots)

	// Walk backwards from the terminals over the reverse adjacency to find
	// every node with a path to a terminal.
	leadsToTerminal := make(map[string]bool, g.NodeCount())
	var queue []string
	for _, id := range terminals {
		if g.HasNode(id) && !leadsToTerminal[id] {
			leadsToTerminal[id] = true
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, pred := range g.Predecessors(current) {
			if !leadsToTerminal[pred] {
				leadsToTerminal[pred] = true
				queue = append(queue, pred)
			}
		}
	}

	var out []string
	for _, id := range g.Nodes() {
		if reachable[id] && !leadsToTerminal[id] {
			out = append(out, id)
		}
	}
	return out
}

// CriticalPath computes the longest path from any root to any terminal,
// weighting each node by the given function (pass nil to count every node
// as 1). The path and its total weight are returned; an acyclic graph is
// required and ok=false is returned otherwise.
//
// The result is informational: it feeds estimated-duration reporting, not
// scheduling decisions.
func CriticalPath(g *Graph, weight func(id string) float64) (path []string, total float64, ok bool) {
	order, sorted := TopologicalSort(g)
	if !sorted {
		return nil, 0, false
	}
	if weight == nil {
		weight = func(string) float64 { return 1 }
	}

	best := make(map[string]float64, len(order))
	prev := make(map[string]string, len(order))
	for _, id := range order {
		best[id] = weight(id)
		for _, pred := range g.Predecessors(id) {
			if cand := best[pred] + weight(id); cand > best[id] {
				best[id] = cand
				prev[id] = pred
			}
		}
	}

	var end string
	found := false
	for _, id := range order {
		if g.OutDegree(id) != 0 {
			continue
		}
		if !found || best[id] > best[end] {
			end = id
			found = true
		}
	}
	if !found {
		return nil, 0, true
	}

	for cur := end; ; {
		path = append([]string{cur}, path...)
		next, has := prev[cur]
		if !has {
			break
		}
		cur = next
	}
	return path, best[end], true
}
