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

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidGraph is wrapped by every GraphError.
	ErrInvalidGraph = errors.New("invalid phase graph")

	// ErrUnknownPhase indicates a phase that is not declared in the graph.
	ErrUnknownPhase = errors.New("unknown phase")

	// ErrAmbiguousPhase is wrapped by AmbiguousPhaseError.
	ErrAmbiguousPhase = errors.New("ambiguous next phase")
)

// GraphErrorKind classifies a construction failure.
type GraphErrorKind string

const (
	GraphErrorEmpty            GraphErrorKind = "empty"
	GraphErrorDuplicatePhase   GraphErrorKind = "duplicate_phase"
	GraphErrorUnknownPhase     GraphErrorKind = "unknown_phase"
	GraphErrorDuplicateEdge    GraphErrorKind = "duplicate_edge"
	GraphErrorMultipleOutgoing GraphErrorKind = "multiple_outgoing"
	GraphErrorCycle            GraphErrorKind = "cycle"
)

// GraphError reports why a phase graph failed validation.
//
// Description:
//
//	Returned by NewGraph. Construction errors are fatal: the host must not
//	start a session with an invalid catalog.
//
// Fields:
//   - Kind: What rule was violated.
//   - Phase: The phase involved, when the rule concerns a single phase.
//   - Edge: The offending edge, when the rule concerns an edge.
//   - Path: For cycles, the phases forming the cycle in traversal order.
type GraphError struct {
	Kind  GraphErrorKind
	Phase Phase
	Edge  Edge
	Path  []Phase
}

// Error implements the error interface.
func (e *GraphError) Error() string {
	switch e.Kind {
	case GraphErrorEmpty:
		return "phase graph: no phases declared"
	case GraphErrorDuplicatePhase:
		return fmt.Sprintf("phase graph: phase %q declared more than once", e.Phase)
	case GraphErrorUnknownPhase:
		return fmt.Sprintf("phase graph: edge %s references undeclared phase %q", e.Edge, e.Phase)
	case GraphErrorDuplicateEdge:
		return fmt.Sprintf("phase graph: edge %s declared more than once", e.Edge)
	case GraphErrorMultipleOutgoing:
		return fmt.Sprintf("phase graph: phase %q has more than one outgoing edge (second: %s)", e.Phase, e.Edge)
	case GraphErrorCycle:
		names := make([]string, len(e.Path))
		for i, p := range e.Path {
			names[i] = string(p)
		}
		return fmt.Sprintf("phase graph: cycle detected: %s", strings.Join(names, " -> "))
	default:
		return fmt.Sprintf("phase graph: %s", e.Kind)
	}
}

// Unwrap returns ErrInvalidGraph so callers can match with errors.Is.
func (e *GraphError) Unwrap() error {
	return ErrInvalidGraph
}

// AmbiguousPhaseError is returned by NextPhase when a phase has more than
// one outgoing edge. A graph built by NewGraph never produces it.
type AmbiguousPhaseError struct {
	Phase      Phase
	Candidates []Phase
}

// Error implements the error interface.
func (e *AmbiguousPhaseError) Error() string {
	return fmt.Sprintf("phase %q has %d candidate next phases: %v", e.Phase, len(e.Candidates), e.Candidates)
}

// Unwrap returns ErrAmbiguousPhase.
func (e *AmbiguousPhaseError) Unwrap() error {
	return ErrAmbiguousPhase
}
