// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"fmt"
	"sync"

	"github.com/AleutianAI/AleutianReplay/services/replay/phases"
)

// Registry holds the replay tools of one workflow catalog.
//
// Description:
//
//	Tools are registered during catalog construction and the registry is
//	then sealed against the phase graph. Sealing verifies the edge
//	partition; after that the registry is read-only.
//
// Thread Safety: Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tools  []Tool
	byName map[string]Tool
	graph  *phases.Graph
}

// NewRegistry creates an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Tool),
	}
}

// Register adds a tool.
//
// Description:
//
//	Rejects nil tools, empty names, invalid parameter schemas, transition
//	tools with no bound edges, and duplicate names.
//
// Inputs:
//   - t: The tool to add.
//
// Outputs:
//   - error: *DuplicateToolNameError, ErrRegistrySealed, or ErrInvalidTool (wrapped).
//
// Thread Safety: This method is safe for concurrent use.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("%w: nil tool", ErrInvalidTool)
	}
	if t.Name() == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidTool)
	}
	if err := t.Parameters().Validate(); err != nil {
		return fmt.Errorf("%w: %s parameters: %v", ErrInvalidTool, t.Name(), err)
	}
	if t.Parameters().Type != TypeObject {
		return fmt.Errorf("%w: %s parameters must be an object schema", ErrInvalidTool, t.Name())
	}
	if tt, ok := t.(*TransitionTool); ok && len(tt.edges) == 0 {
		return fmt.Errorf("%w: transition tool %s has no bound edges", ErrInvalidTool, t.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.graph != nil {
		return ErrRegistrySealed
	}
	if _, dup := r.byName[t.Name()]; dup {
		return &DuplicateToolNameError{Name: t.Name()}
	}
	r.byName[t.Name()] = t
	r.tools = append(r.tools, t)
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(fmt.Sprintf("tools: %v", err))
	}
}

// Seal verifies that the transition tools partition g and freezes the registry.
//
// Description:
//
//	Every edge of g must be bound to exactly one transition tool, and no
//	transition tool may bind an edge outside g. All violations are
//	collected into a single *PartitionError.
//
// Inputs:
//   - g: The validated phase graph.
//
// Outputs:
//   - error: *PartitionError, or ErrRegistrySealed if already sealed.
//
// Thread Safety: This method is safe for concurrent use.
func (r *Registry) Seal(g *phases.Graph) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.graph != nil {
		return ErrRegistrySealed
	}
	if err := checkPartition(g, r.tools); err != nil {
		return err
	}
	r.graph = g
	return nil
}

// checkPartition collects every edge-partition violation.
func checkPartition(g *phases.Graph, registered []Tool) error {
	claims := make(map[phases.Edge][]string)
	var order []phases.Edge
	for _, t := range registered {
		tt, ok := t.(*TransitionTool)
		if !ok {
			continue
		}
		for _, e := range tt.edges {
			if _, seen := claims[e]; !seen {
				order = append(order, e)
			}
			claims[e] = append(claims[e], tt.name)
		}
	}

	perr := &PartitionError{}
	for _, e := range g.Edges() {
		switch owners := claims[e]; len(owners) {
		case 0:
			perr.Unclaimed = append(perr.Unclaimed, e)
		case 1:
		default:
			perr.Overclaimed = append(perr.Overclaimed, EdgeClaim{Edge: e, Tools: owners})
		}
	}
	for _, e := range order {
		if !g.HasEdge(e) {
			perr.Foreign = append(perr.Foreign, EdgeClaim{Edge: e, Tools: claims[e]})
		}
	}

	if perr.empty() {
		return nil
	}
	return perr
}

// Sealed reports whether Seal has succeeded.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.graph != nil
}

// Graph returns the graph the registry was sealed against, or nil.
func (r *Registry) Graph() *phases.Graph {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.graph
}

// ToolByName returns the tool registered under name.
//
// Thread Safety: This method is safe for concurrent use.
func (r *Registry) ToolByName(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// All returns every registered tool in registration order.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// AnalysisTools returns the analysis tools in registration order.
func (r *Registry) AnalysisTools() []*AnalysisTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*AnalysisTool
	for _, t := range r.tools {
		if at, ok := t.(*AnalysisTool); ok {
			out = append(out, at)
		}
	}
	return out
}

// TransitionToolsFromPhase returns, in registration order, the transition tools
// bound to an edge leaving from.
func (r *Registry) TransitionToolsFromPhase(from phases.Phase) []*TransitionTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*TransitionTool
	for _, t := range r.tools {
		tt, ok := t.(*TransitionTool)
		if !ok {
			continue
		}
		if _, bound := tt.EdgeFrom(from); bound {
			out = append(out, tt)
		}
	}
	return out
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
