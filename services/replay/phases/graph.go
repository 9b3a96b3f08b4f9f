// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package phases

import "fmt"

// Graph is the validated, immutable phase transition graph.
//
// Description:
//
//	Phases are stored in declaration order and referenced by index.
//	Outgoing and incoming adjacency are both kept so that transition tools
//	can be resolved from a source phase and prompts can be checked per
//	destination phase.
//
// Invariants:
//   - No duplicate phases, no duplicate edges.
//   - Every edge endpoint is a declared phase.
//   - At most one outgoing edge per phase.
//   - The graph is acyclic.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type Graph struct {
	phases   []Phase
	index    map[Phase]int
	edges    []Edge
	outgoing [][]int
	incoming [][]int
}

// NewGraph validates phases and edges and builds a Graph.
//
// Description:
//
//	Validation order: phase declarations, then each edge (endpoints,
//	duplicates, outgoing fan-out), then cycles. The first violation found
//	is returned.
//
// Inputs:
//   - phases: Declared phases in order. Must be non-empty and unique.
//   - edges: Agent-driven transitions between declared phases.
//
// Outputs:
//   - *Graph: The validated graph.
//   - error: *GraphError (wrapping ErrInvalidGraph) on any violation.
func NewGraph(phases []Phase, edges []Edge) (*Graph, error) {
	if len(phases) == 0 {
		return nil, &GraphError{Kind: GraphErrorEmpty}
	}

	g := &Graph{
		phases:   make([]Phase, 0, len(phases)),
		index:    make(map[Phase]int, len(phases)),
		edges:    make([]Edge, 0, len(edges)),
		outgoing: make([][]int, len(phases)),
		incoming: make([][]int, len(phases)),
	}

	for _, p := range phases {
		if p == "" {
			return nil, &GraphError{Kind: GraphErrorUnknownPhase, Phase: p}
		}
		if _, dup := g.index[p]; dup {
			return nil, &GraphError{Kind: GraphErrorDuplicatePhase, Phase: p}
		}
		g.index[p] = len(g.phases)
		g.phases = append(g.phases, p)
	}

	seen := make(map[Edge]struct{}, len(edges))
	for _, e := range edges {
		from, ok := g.index[e.From]
		if !ok {
			return nil, &GraphError{Kind: GraphErrorUnknownPhase, Phase: e.From, Edge: e}
		}
		to, ok := g.index[e.To]
		if !ok {
			return nil, &GraphError{Kind: GraphErrorUnknownPhase, Phase: e.To, Edge: e}
		}
		if _, dup := seen[e]; dup {
			return nil, &GraphError{Kind: GraphErrorDuplicateEdge, Edge: e}
		}
		if len(g.outgoing[from]) > 0 {
			return nil, &GraphError{Kind: GraphErrorMultipleOutgoing, Phase: e.From, Edge: e}
		}
		seen[e] = struct{}{}

		idx := len(g.edges)
		g.edges = append(g.edges, e)
		g.outgoing[from] = append(g.outgoing[from], idx)
		g.incoming[to] = append(g.incoming[to], idx)
	}

	if path := g.findCycle(); path != nil {
		return nil, &GraphError{Kind: GraphErrorCycle, Phase: path[0], Path: path}
	}

	return g, nil
}

// MustNewGraph is like NewGraph but panics on error. Intended for tests and
// package-level defaults.
func MustNewGraph(phases []Phase, edges []Edge) *Graph {
	g, err := NewGraph(phases, edges)
	if err != nil {
		panic(fmt.Sprintf("phases: %v", err))
	}
	return g
}

// findCycle walks forward from every phase. Because fan-out is at most one,
// each walk is a simple chain and a revisit within the same walk is a cycle.
func (g *Graph) findCycle() []Phase {
	const (
		unvisited = iota
		inWalk
		done
	)
	state := make([]int, len(g.phases))

	for start := range g.phases {
		if state[start] != unvisited {
			continue
		}
		var walk []int
		cur := start
		for {
			if state[cur] == done {
				break
			}
			if state[cur] == inWalk {
				path := make([]Phase, 0, len(walk)+1)
				pos := 0
				for i, n := range walk {
					if n == cur {
						pos = i
						break
					}
				}
				for _, n := range walk[pos:] {
					path = append(path, g.phases[n])
				}
				return append(path, g.phases[cur])
			}
			state[cur] = inWalk
			walk = append(walk, cur)
			if len(g.outgoing[cur]) == 0 {
				break
			}
			cur = g.index[g.edges[g.outgoing[cur][0]].To]
		}
		for _, n := range walk {
			state[n] = done
		}
	}
	return nil
}

// Phases returns the declared phases in declaration order.
func (g *Graph) Phases() []Phase {
	out := make([]Phase, len(g.phases))
	copy(out, g.phases)
	return out
}

// Edges returns all edges in declaration order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Contains reports whether p is a declared phase.
func (g *Graph) Contains(p Phase) bool {
	_, ok := g.index[p]
	return ok
}

// HasEdge reports whether e is an edge of the graph.
func (g *Graph) HasEdge(e Edge) bool {
	from, ok := g.index[e.From]
	if !ok {
		return false
	}
	for _, idx := range g.outgoing[from] {
		if g.edges[idx].To == e.To {
			return true
		}
	}
	return false
}

// OutgoingEdges returns the edges leaving p. Unknown phases yield nil.
func (g *Graph) OutgoingEdges(p Phase) []Edge {
	i, ok := g.index[p]
	if !ok {
		return nil
	}
	return g.collect(g.outgoing[i])
}

// IncomingEdges returns the edges entering p. Unknown phases yield nil.
func (g *Graph) IncomingEdges(p Phase) []Edge {
	i, ok := g.index[p]
	if !ok {
		return nil
	}
	return g.collect(g.incoming[i])
}

// Destinations returns every phase that is the target of at least one edge,
// in declaration order.
func (g *Graph) Destinations() []Phase {
	var out []Phase
	for i, p := range g.phases {
		if len(g.incoming[i]) > 0 {
			out = append(out, p)
		}
	}
	return out
}

// NextPhase returns the unique successor of current.
//
// Description:
//
//	Returns (next, true, nil) when current has exactly one outgoing edge and
//	("", false, nil) when it has none.
//
// Inputs:
//   - current: A declared phase.
//
// Outputs:
//   - Phase: The successor, if any.
//   - bool: Whether a successor exists.
//   - error: ErrUnknownPhase (wrapped) for undeclared phases, or
//     *AmbiguousPhaseError if more than one edge leaves current.
func (g *Graph) NextPhase(current Phase) (Phase, bool, error) {
	i, ok := g.index[current]
	if !ok {
		return "", false, fmt.Errorf("next phase of %q: %w", current, ErrUnknownPhase)
	}
	out := g.outgoing[i]
	switch len(out) {
	case 0:
		return "", false, nil
	case 1:
		return g.edges[out[0]].To, true, nil
	default:
		candidates := make([]Phase, len(out))
		for j, idx := range out {
			candidates[j] = g.edges[idx].To
		}
		return "", false, &AmbiguousPhaseError{Phase: current, Candidates: candidates}
	}
}

func (g *Graph) collect(indices []int) []Edge {
	if len(indices) == 0 {
		return nil
	}
	out := make([]Edge, len(indices))
	for j, idx := range indices {
		out[j] = g.edges[idx]
	}
	return out
}
