package graph

import (
	"sync"

	"github.com/xtxerr/pyrometer/internal/errors"
)

// Graph holds analysis nodes and their dependency edges. An edge a -> b
// means b consumes a's output: within one scheduler tick, a evaluates
// before b. Nodes without a path between them fall into separate connected
// components, which carry no ordering constraints between each other.
//
// Graph is safe for concurrent use. Topology changes and evaluation ticks
// may interleave freely.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	order []string            // insertion order, for deterministic iteration
	edges map[string][]string // from -> to
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		edges: make(map[string][]string),
	}
}

// AddNode inserts a node. Node names are unique within a graph.
func (g *Graph) AddNode(n *Node) error {
	if err := n.validate(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[n.Name]; ok {
		return errors.Wrapf(errors.ErrDuplicateNode, "node %s", n.Name)
	}
	g.nodes[n.Name] = n
	g.order = append(g.order, n.Name)

	log.Debug("node added", "node", n.Name, "interval_sec", n.IntervalSec)
	return nil
}

// Node looks up a node by name.
func (g *Graph) Node(name string) (*Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[name]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNodeNotFound, "node %s", name)
	}
	return n, nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Connect adds a dependency edge: from evaluates before to. The edge is
// rejected if either endpoint is missing or if it would close a cycle; the
// graph is unchanged on error.
func (g *Graph) Connect(from, to string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[from]; !ok {
		return errors.Wrapf(errors.ErrNodeNotFound, "node %s", from)
	}
	if _, ok := g.nodes[to]; !ok {
		return errors.Wrapf(errors.ErrNodeNotFound, "node %s", to)
	}
	if from == to {
		return errors.Wrapf(errors.ErrCycle, "self edge %s", from)
	}
	for _, existing := range g.edges[from] {
		if existing == to {
			return nil
		}
	}
	if g.reachable(to, from) {
		return errors.Wrapf(errors.ErrCycle, "edge %s -> %s", from, to)
	}

	g.edges[from] = append(g.edges[from], to)
	log.Debug("edge added", "from", from, "to", to)
	return nil
}

// reachable reports whether dst can be reached from src along edges.
// Caller holds the lock.
func (g *Graph) reachable(src, dst string) bool {
	seen := map[string]bool{src: true}
	stack := []string{src}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == dst {
			return true
		}
		for _, next := range g.edges[cur] {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// Components partitions the graph into connected components, treating edges
// as undirected for grouping. Each component's nodes come back in
// topological order over the directed edges; ties break by insertion order
// so evaluation order is deterministic.
func (g *Graph) Components() [][]*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	// Undirected adjacency for grouping.
	adj := make(map[string][]string, len(g.nodes))
	for from, tos := range g.edges {
		for _, to := range tos {
			adj[from] = append(adj[from], to)
			adj[to] = append(adj[to], from)
		}
	}

	seen := make(map[string]bool, len(g.nodes))
	var components [][]*Node
	for _, start := range g.order {
		if seen[start] {
			continue
		}
		members := map[string]bool{start: true}
		seen[start] = true
		stack := []string{start}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, next := range adj[cur] {
				if !members[next] {
					members[next] = true
					seen[next] = true
					stack = append(stack, next)
				}
			}
		}
		components = append(components, g.sortComponent(members))
	}
	return components
}

// sortComponent orders one component's members topologically (Kahn), with
// insertion order as the tiebreak. Caller holds the lock. Connect keeps the
// graph acyclic, so every member is always emitted.
func (g *Graph) sortComponent(members map[string]bool) []*Node {
	indeg := make(map[string]int, len(members))
	for name := range members {
		indeg[name] = 0
	}
	for from, tos := range g.edges {
		if !members[from] {
			continue
		}
		for _, to := range tos {
			indeg[to]++
		}
	}

	sorted := make([]*Node, 0, len(members))
	for len(sorted) < len(members) {
		for _, name := range g.order {
			if !members[name] || indeg[name] != 0 {
				continue
			}
			indeg[name] = -1
			sorted = append(sorted, g.nodes[name])
			for _, to := range g.edges[name] {
				indeg[to]--
			}
		}
	}
	return sorted
}
