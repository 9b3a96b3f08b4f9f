// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools holds the replay tool catalog.
//
// A replay tool is either an AnalysisTool, which inspects the recording and
// never changes the phase, or a TransitionTool, which moves the session
// along exactly the graph edges it is bound to. The Registry enforces that
// transition tools partition the phase graph's edges, and the Resolver
// computes which tools the model may call in a given phase.
package tools

import (
	"github.com/AleutianAI/AleutianReplay/services/replay/phases"
)

// Kind names a tool variant.
type Kind string

const (
	KindAnalysis   Kind = "analysis"
	KindTransition Kind = "transition"
)

// Tool is the closed set of replay tool variants.
//
// Only *AnalysisTool and *TransitionTool implement it. Callers switch on
// the concrete type.
type Tool interface {
	// Name is the unique tool name exposed to the model.
	Name() string

	// Description is the human readable purpose shown to the model.
	Description() string

	// Parameters is the root object schema of the tool arguments.
	Parameters() *Schema

	// Kind returns the variant name.
	Kind() Kind

	sealed()
}

// AnalysisTool inspects recording data. Calling it never changes the phase.
type AnalysisTool struct {
	name        string
	description string
	params      *Schema
}

// NewAnalysisTool creates an analysis tool.
//
// Inputs:
//   - name: Unique, non-empty tool name.
//   - description: Shown to the model.
//   - params: Root object schema. Nil means "no arguments".
func NewAnalysisTool(name, description string, params *Schema) *AnalysisTool {
	if params == nil {
		params = Object(nil)
	}
	return &AnalysisTool{name: name, description: description, params: params}
}

func (t *AnalysisTool) Name() string        { return t.name }
func (t *AnalysisTool) Description() string { return t.description }
func (t *AnalysisTool) Parameters() *Schema { return t.params }
func (t *AnalysisTool) Kind() Kind          { return KindAnalysis }
func (t *AnalysisTool) sealed()             {}

// TransitionTool moves the session along one of its bound edges.
//
// Description:
//
//	A transition tool is bound to one or more graph edges. It is legal in
//	phase p exactly when one of its edges starts at p, and calling it there
//	requests the transition along that edge.
type TransitionTool struct {
	name        string
	description string
	params      *Schema
	edges       []phases.Edge
}

// NewTransitionTool creates a transition tool bound to the given edges.
func NewTransitionTool(name, description string, params *Schema, edges ...phases.Edge) *TransitionTool {
	if params == nil {
		params = Object(nil)
	}
	bound := make([]phases.Edge, len(edges))
	copy(bound, edges)
	return &TransitionTool{name: name, description: description, params: params, edges: bound}
}

func (t *TransitionTool) Name() string        { return t.name }
func (t *TransitionTool) Description() string { return t.description }
func (t *TransitionTool) Parameters() *Schema { return t.params }
func (t *TransitionTool) Kind() Kind          { return KindTransition }
func (t *TransitionTool) sealed()             {}

// Edges returns a copy of the bound edges.
func (t *TransitionTool) Edges() []phases.Edge {
	out := make([]phases.Edge, len(t.edges))
	copy(out, t.edges)
	return out
}

// EdgeFrom returns the bound edge that starts at from, if any.
func (t *TransitionTool) EdgeFrom(from phases.Phase) (phases.Edge, bool) {
	for _, e := range t.edges {
		if e.From == from {
			return e, true
		}
	}
	return phases.Edge{}, false
}
