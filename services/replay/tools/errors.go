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
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianReplay/services/replay/phases"
)

var (
	// ErrInvalidTool indicates a tool that fails basic validation.
	ErrInvalidTool = errors.New("invalid tool")

	// ErrRegistrySealed is returned by Register after Seal succeeded.
	ErrRegistrySealed = errors.New("tool registry is sealed")

	// ErrRegistryNotSealed is returned by NewResolver for an unsealed registry.
	ErrRegistryNotSealed = errors.New("tool registry is not sealed")

	// ErrUnknownTool is returned by policy validation for unregistered names.
	ErrUnknownTool = errors.New("unknown tool")
)

// DuplicateToolNameError reports two tools sharing one name.
//
// Raised when registering a replay tool, and when a default tool provided
// by the host collides with a replay tool.
type DuplicateToolNameError struct {
	Name string
}

func (e *DuplicateToolNameError) Error() string {
	return fmt.Sprintf("duplicate tool name %q", e.Name)
}

// EdgeClaim pairs an edge with the transition tools that claim it.
type EdgeClaim struct {
	Edge  phases.Edge
	Tools []string
}

// PartitionError reports that the transition tools do not exactly
// partition the graph's edge set.
//
// Fields:
//   - Unclaimed: Graph edges no transition tool is bound to.
//   - Overclaimed: Graph edges claimed by two or more bindings.
//   - Foreign: Edges bound by a tool that are not in the graph.
type PartitionError struct {
	Unclaimed   []phases.Edge
	Overclaimed []EdgeClaim
	Foreign     []EdgeClaim
}

func (e *PartitionError) Error() string {
	var parts []string
	if len(e.Unclaimed) > 0 {
		edges := make([]string, len(e.Unclaimed))
		for i, edge := range e.Unclaimed {
			edges[i] = edge.String()
		}
		parts = append(parts, "unclaimed edges: "+strings.Join(edges, ", "))
	}
	for _, c := range e.Overclaimed {
		parts = append(parts, fmt.Sprintf("edge %s claimed by %s", c.Edge, strings.Join(c.Tools, ", ")))
	}
	for _, c := range e.Foreign {
		parts = append(parts, fmt.Sprintf("edge %s bound by %s is not in the phase graph", c.Edge, strings.Join(c.Tools, ", ")))
	}
	return "transition tools do not partition the phase graph: " + strings.Join(parts, "; ")
}

// empty reports whether no violation was recorded.
func (e *PartitionError) empty() bool {
	return len(e.Unclaimed) == 0 && len(e.Overclaimed) == 0 && len(e.Foreign) == 0
}
