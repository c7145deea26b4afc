// Package depgraph implements the planner's dependency graph: a Kahn-style
// topological structure over operations, with cycle detection at
// construction and a concurrency-safe complete() that returns the newly
// unblocked frontier.
package depgraph

import (
	"fmt"
	"sync"

	"github.com/bamops/reconciler/internal/core"
)

// Node is one graph entry. Callers attach their own payload (typically a
// *planner.Operation) via the Payload field; the graph itself only cares
// about RowID and Dependencies for ordering.
type Node struct {
	RowID        string
	Dependencies []string // RowIDs that must complete before this node
	Payload      any
}

// Graph is the constructed, cycle-checked dependency graph. Safe for
// concurrent Complete calls.
type Graph struct {
	mu        sync.Mutex
	nodes     map[string]*Node
	indegree  map[string]int
	successors map[string][]string // rowID -> rowIDs depending on it
	done      map[string]bool
}

// Build constructs a Graph from nodes, failing if a cycle exists. Nodes
// referencing an unknown dependency are treated as having no incoming
// edge from that (missing) dependency — the planner is responsible for
// only emitting dependencies on row_ids it itself planned.
func Build(nodes []*Node) (*Graph, error) {
	g := &Graph{
		nodes:      make(map[string]*Node, len(nodes)),
		indegree:   make(map[string]int, len(nodes)),
		successors: make(map[string][]string),
		done:       make(map[string]bool, len(nodes)),
	}

	for _, n := range nodes {
		if _, dup := g.nodes[n.RowID]; dup {
			return nil, fmt.Errorf("depgraph: duplicate row_id %q", n.RowID)
		}
		g.nodes[n.RowID] = n
		g.indegree[n.RowID] = 0
	}

	for _, n := range nodes {
		for _, dep := range n.Dependencies {
			if _, ok := g.nodes[dep]; !ok {
				continue
			}
			g.successors[dep] = append(g.successors[dep], n.RowID)
			g.indegree[n.RowID]++
		}
	}

	if err := g.detectCycle(); err != nil {
		return nil, err
	}

	return g, nil
}

// detectCycle runs a Kahn pass in isolation (not consuming g.indegree) to
// verify the graph is acyclic before any caller starts consuming it.
func (g *Graph) detectCycle() error {
	indegree := make(map[string]int, len(g.indegree))
	for k, v := range g.indegree {
		indegree[k] = v
	}

	queue := make([]string, 0, len(indegree))
	for id, d := range indegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, succ := range g.successors[id] {
			indegree[succ]--
			if indegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if visited != len(g.nodes) {
		return core.ErrCyclicDependency
	}
	return nil
}

// Ready returns the initial frontier: nodes with no incoming edges.
func (g *Graph) Ready() []*Node {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ready []*Node
	for id, d := range g.indegree {
		if d == 0 {
			ready = append(ready, g.nodes[id])
		}
	}
	return ready
}

// Complete marks rowID done and returns the successors whose indegree just
// hit zero. Calling Complete twice on the same rowID is a no-op returning
// nil the second time.
func (g *Graph) Complete(rowID string) []*Node {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.done[rowID] {
		return nil
	}
	g.done[rowID] = true

	var unblocked []*Node
	for _, succ := range g.successors[rowID] {
		g.indegree[succ]--
		if g.indegree[succ] == 0 {
			unblocked = append(unblocked, g.nodes[succ])
		}
	}
	return unblocked
}

// Successors returns the row_ids that directly depend on rowID, used by
// the executor's fail_group policy to transitively cancel dependents.
func (g *Graph) Successors(rowID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.successors[rowID]...)
}

// Node looks up a node by row_id.
func (g *Graph) Node(rowID string) (*Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[rowID]
	return n, ok
}

// Len returns the total node count.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}
