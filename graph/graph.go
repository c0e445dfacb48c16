package graph

import (
	"fmt"
	"sort"
)

// node wraps one Execution with its graph membership. Generalizes
// spok/graph's Vertex (parents/children name sets) by deriving edges from
// data dependencies (FileID producer/consumer) instead of manually
// declared task-name edges.
type node struct {
	exec *Execution
}

// Graph is a DAG of Executions wired together by FileID producer/consumer
// relationships: an edge id1 -> id2 exists whenever id2 depends on a
// FileID that id1 produces ("Deps() must be a subset of IDs
// produced by prior nodes").
type Graph struct {
	nodes      map[ExecutionID]*node
	producedBy map[FileID]ExecutionID
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		nodes:      make(map[ExecutionID]*node),
		producedBy: make(map[FileID]ExecutionID),
	}
}

// AddExecution registers exec under id. It is an error to add the same id
// twice, or for two Executions to both claim to produce the same FileID
// ("A FileRef ID is produced by at most one Execution").
func (g *Graph) AddExecution(id ExecutionID, exec *Execution) error {
	if _, exists := g.nodes[id]; exists {
		return fmt.Errorf("graph: execution %d already added", id)
	}
	for _, out := range exec.Produces() {
		if owner, ok := g.producedBy[out]; ok {
			return fmt.Errorf("graph: file %d already produced by execution %d", out, owner)
		}
	}
	g.nodes[id] = &node{exec: exec}
	for _, out := range exec.Produces() {
		g.producedBy[out] = id
	}
	return nil
}

// Execution returns the Execution registered under id, if any.
func (g *Graph) Execution(id ExecutionID) (*Execution, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, false
	}
	return n.exec, true
}

// Len reports how many Executions are registered.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// edges computes each node's in-degree (how many distinct producer nodes
// it depends on) and the children each node unblocks once it completes.
// FileIDs with no known producer are treated as externally seeded inputs
// (already Set when the graph was built) and contribute no edge.
func (g *Graph) edges() (indegree map[ExecutionID]int, children map[ExecutionID][]ExecutionID) {
	indegree = make(map[ExecutionID]int, len(g.nodes))
	children = make(map[ExecutionID][]ExecutionID)
	for id := range g.nodes {
		indegree[id] = 0
	}
	for id, n := range g.nodes {
		seen := make(map[ExecutionID]bool)
		for _, dep := range n.exec.Deps() {
			producer, ok := g.producedBy[dep]
			if !ok || producer == id || seen[producer] {
				continue
			}
			seen[producer] = true
			children[producer] = append(children[producer], id)
			indegree[id]++
		}
	}
	return indegree, children
}

// Sort returns a topological order over every Execution, failing if the
// graph contains a cycle ("the graph is acyclic").
func (g *Graph) Sort() ([]ExecutionID, error) {
	layers, err := g.Layers()
	if err != nil {
		return nil, err
	}
	order := make([]ExecutionID, 0, len(g.nodes))
	for _, layer := range layers {
		order = append(order, layer...)
	}
	return order, nil
}

// Layers groups Executions into topological layers: every id in layer N
// depends only on ids in layers < N, so every id within one layer can run
// concurrently. Ids within a layer are returned in ascending order for
// deterministic iteration.
func (g *Graph) Layers() ([][]ExecutionID, error) {
	indegree, children := g.edges()
	remaining := make(map[ExecutionID]int, len(indegree))
	for id, d := range indegree {
		remaining[id] = d
	}

	var layers [][]ExecutionID
	for len(remaining) > 0 {
		var layer []ExecutionID
		for id, d := range remaining {
			if d == 0 {
				layer = append(layer, id)
			}
		}
		if len(layer) == 0 {
			return nil, fmt.Errorf("graph: cycle detected among %d executions", len(remaining))
		}
		sort.Slice(layer, func(i, j int) bool { return layer[i] < layer[j] })
		for _, id := range layer {
			delete(remaining, id)
			for _, child := range children[id] {
				remaining[child]--
			}
		}
		layers = append(layers, layer)
	}
	return layers, nil
}
