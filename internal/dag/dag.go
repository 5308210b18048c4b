// SPDX-License-Identifier: MPL-2.0

// Package dag provides directed graph operations for dependency resolution:
// topological ordering of packages by their hard dependencies and reachability
// (dependency closure) queries used by game-support inference.
package dag

import (
	"fmt"
	"strings"
)

type (
	// CycleError indicates that the graph contains a cycle, preventing
	// topological ordering.
	CycleError struct {
		// Cycle contains the nodes involved in the cycle (enough of them
		// to identify the problem, not necessarily all).
		Cycle []string
	}

	// Graph is a directed graph keyed by string identifiers. An edge from
	// A to B means A depends on B.
	Graph struct {
		// adjacency maps each node to the nodes it depends on.
		adjacency map[string][]string
		// nodes tracks insertion order for deterministic output.
		nodes []string
		// nodeSet provides O(1) node existence lookup.
		nodeSet map[string]bool
	}
)

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		adjacency: make(map[string][]string),
		nodeSet:   make(map[string]bool),
	}
}

// AddNode adds a node to the graph. Adding an existing node is a no-op.
func (g *Graph) AddNode(name string) {
	if g.nodeSet[name] {
		return
	}
	g.nodeSet[name] = true
	g.nodes = append(g.nodes, name)
}

// AddEdge records that from depends on to. Both nodes are implicitly added.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	g.adjacency[from] = append(g.adjacency[from], to)
}

// Dependencies returns the direct dependencies of a node.
func (g *Graph) Dependencies(name string) []string {
	return g.adjacency[name]
}

// Reachable returns every node reachable from start by following dependency
// edges, excluding start itself. Cycles are tolerated; each node appears at
// most once, in breadth-first discovery order.
func (g *Graph) Reachable(start string) []string {
	seen := map[string]bool{start: true}
	queue := append([]string(nil), g.adjacency[start]...)

	var result []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if seen[node] {
			continue
		}
		seen[node] = true
		result = append(result, node)
		queue = append(queue, g.adjacency[node]...)
	}
	return result
}

// TopologicalSort returns an order in which every node appears after all of
// its dependencies, using Kahn's algorithm. Returns CycleError if the graph
// contains a cycle. Nodes at the same level appear in insertion order.
func (g *Graph) TopologicalSort() ([]string, error) {
	if len(g.nodes) == 0 {
		return nil, nil
	}

	// outstanding counts unprocessed dependencies per node.
	outstanding := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))
	for _, node := range g.nodes {
		outstanding[node] = len(g.adjacency[node])
		for _, dep := range g.adjacency[node] {
			dependents[dep] = append(dependents[dep], node)
		}
	}

	queue := make([]string, 0)
	for _, node := range g.nodes {
		if outstanding[node] == 0 {
			queue = append(queue, node)
		}
	}

	var result []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		for _, dependent := range dependents[node] {
			outstanding[dependent]--
			if outstanding[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) != len(g.nodes) {
		var cycleNodes []string
		for _, node := range g.nodes {
			if outstanding[node] > 0 {
				cycleNodes = append(cycleNodes, node)
			}
		}
		return nil, &CycleError{Cycle: cycleNodes}
	}

	return result, nil
}
