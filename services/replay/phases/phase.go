// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package phases defines the workflow phases of a replay debugging session
// and the directed graph of allowed transitions between them.
//
// The graph is validated once at construction and is immutable afterwards.
// Every phase has at most one outgoing edge, so the workflow is always a
// forward-only chain (or a forest of chains) and the "next phase" of any
// phase is unambiguous.
//
// Thread Safety:
//
//	Graph is immutable after NewGraph returns and is safe for concurrent use.
package phases

import "fmt"

// Phase identifies a stage of the replay workflow.
//
// Phases are opaque names. The default catalog declares normal, analysis,
// confirm_analysis and edit, but a configured catalog may declare others.
type Phase string

const (
	// PhaseNormal is the initial phase before a recording has been analyzed.
	PhaseNormal Phase = "normal"

	// PhaseAnalysis is entered once the initial analysis of a recording completes.
	PhaseAnalysis Phase = "analysis"

	// PhaseConfirmAnalysis asks the agent to double check its hypothesis.
	PhaseConfirmAnalysis Phase = "confirm_analysis"

	// PhaseEdit is the terminal phase where the agent edits code.
	PhaseEdit Phase = "edit"
)

// String returns the phase name.
func (p Phase) String() string {
	return string(p)
}

// Edge is a directed transition between two phases.
type Edge struct {
	From Phase `json:"from" yaml:"from"`
	To   Phase `json:"to" yaml:"to"`
}

// String returns the edge formatted as "from -> to".
func (e Edge) String() string {
	return fmt.Sprintf("%s -> %s", e.From, e.To)
}

// DefaultPhases returns the phases of the default catalog in declaration order.
func DefaultPhases() []Phase {
	return []Phase{PhaseNormal, PhaseAnalysis, PhaseConfirmAnalysis, PhaseEdit}
}

// DefaultEdges returns the agent-driven edges of the default catalog.
//
// normal -> analysis is not an agent edge. It is taken only by the
// analysis-completed signal.
func DefaultEdges() []Edge {
	return []Edge{
		{From: PhaseAnalysis, To: PhaseConfirmAnalysis},
		{From: PhaseConfirmAnalysis, To: PhaseEdit},
	}
}
