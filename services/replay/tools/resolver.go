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

	"github.com/AleutianAI/AleutianReplay/services/llm"
	"github.com/AleutianAI/AleutianReplay/services/replay/phases"
)

// DefaultToolProvider supplies the host agent's own tools (shell, editor,
// browser, ...). The replay layer never executes them; it only decides in
// which phases they are offered.
type DefaultToolProvider interface {
	DefaultTools() []llm.ToolDef
}

// StaticDefaults is a DefaultToolProvider over a fixed list.
type StaticDefaults []llm.ToolDef

// DefaultTools implements DefaultToolProvider.
func (s StaticDefaults) DefaultTools() []llm.ToolDef {
	return s
}

// PhasePolicy is the static tool allowance of one phase.
type PhasePolicy struct {
	// DefaultTools includes the host's default tools.
	DefaultTools bool `yaml:"default_tools" json:"default_tools"`

	// AnalysisTools names the analysis tools offered, in order.
	AnalysisTools []string `yaml:"analysis_tools" json:"analysis_tools"`
}

// Policy maps each phase to its allowance. Phases without an entry get no
// default or analysis tools (transition tools still apply).
type Policy map[phases.Phase]PhasePolicy

// Entry is one legal tool. Tool is nil for host default tools.
type Entry struct {
	Def  llm.ToolDef
	Tool Tool
}

// IsDefault reports whether the entry is a host default tool.
func (e Entry) IsDefault() bool {
	return e.Tool == nil
}

// ToolSet is the ordered set of tools legal in one phase.
//
// Order: default tools (if enabled), then analysis tools in policy order,
// then transition tools in registration order.
type ToolSet struct {
	phase   phases.Phase
	entries []Entry
	byName  map[string]int
}

// Phase returns the phase the set was computed for.
func (s *ToolSet) Phase() phases.Phase { return s.phase }

// Len returns the number of legal tools.
func (s *ToolSet) Len() int { return len(s.entries) }

// Entries returns a copy of the entries in order.
func (s *ToolSet) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Lookup finds a legal tool by name.
func (s *ToolSet) Lookup(name string) (Entry, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

// Names returns the tool names in order.
func (s *ToolSet) Names() []string {
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Def.Function.Name
	}
	return out
}

// Defs returns the tool definitions to send to the model, in order.
func (s *ToolSet) Defs() []llm.ToolDef {
	out := make([]llm.ToolDef, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Def
	}
	return out
}

func (s *ToolSet) add(def llm.ToolDef, t Tool) error {
	name := def.Function.Name
	if _, dup := s.byName[name]; dup {
		return &DuplicateToolNameError{Name: name}
	}
	s.byName[name] = len(s.entries)
	s.entries = append(s.entries, Entry{Def: def, Tool: t})
	return nil
}

// Resolver computes legal tool sets from a sealed registry and a policy.
//
// Thread Safety: Resolver is immutable after construction and safe for
// concurrent use, provided the DefaultToolProvider is.
type Resolver struct {
	graph    *phases.Graph
	registry *Registry
	policy   Policy
	defaults DefaultToolProvider
}

// NewResolver validates the policy against the registry and graph.
//
// Description:
//
//	The registry must be sealed. Every policy phase must be declared in
//	the graph, and every analysis tool named by the policy must be a
//	registered AnalysisTool. Default tools must not collide with replay
//	tool names.
//
// Inputs:
//   - registry: A sealed registry.
//   - policy: Per-phase allowance.
//   - defaults: Host default tools. May be nil.
//
// Outputs:
//   - *Resolver: The resolver.
//   - error: ErrRegistryNotSealed, ErrUnknownTool, phases.ErrUnknownPhase,
//     or *DuplicateToolNameError.
func NewResolver(registry *Registry, policy Policy, defaults DefaultToolProvider) (*Resolver, error) {
	g := registry.Graph()
	if g == nil {
		return nil, ErrRegistryNotSealed
	}
	if defaults == nil {
		defaults = StaticDefaults(nil)
	}

	for phase, pp := range policy {
		if !g.Contains(phase) {
			return nil, fmt.Errorf("policy for %q: %w", phase, phases.ErrUnknownPhase)
		}
		seen := make(map[string]struct{}, len(pp.AnalysisTools))
		for _, name := range pp.AnalysisTools {
			t, ok := registry.ToolByName(name)
			if !ok {
				return nil, fmt.Errorf("policy for %q names %q: %w", phase, name, ErrUnknownTool)
			}
			if _, isAnalysis := t.(*AnalysisTool); !isAnalysis {
				return nil, fmt.Errorf("policy for %q names %q: %w: not an analysis tool", phase, name, ErrInvalidTool)
			}
			if _, dup := seen[name]; dup {
				return nil, &DuplicateToolNameError{Name: name}
			}
			seen[name] = struct{}{}
		}
	}

	for _, def := range defaults.DefaultTools() {
		if _, clash := registry.ToolByName(def.Function.Name); clash {
			return nil, &DuplicateToolNameError{Name: def.Function.Name}
		}
	}

	return &Resolver{graph: g, registry: registry, policy: policy, defaults: defaults}, nil
}

// Graph returns the phase graph.
func (r *Resolver) Graph() *phases.Graph { return r.graph }

// Registry returns the sealed registry.
func (r *Resolver) Registry() *Registry { return r.registry }

// NextPhase delegates to the graph.
func (r *Resolver) NextPhase(current phases.Phase) (phases.Phase, bool, error) {
	return r.graph.NextPhase(current)
}

// LegalToolSet computes the tools legal in phase.
//
// Description:
//
//	Combines the phase policy with every transition tool bound to an edge
//	leaving phase. The result is a pure function of (catalog, phase,
//	default tools).
//
// Inputs:
//   - phase: A declared phase.
//
// Outputs:
//   - *ToolSet: The ordered legal tools.
//   - error: phases.ErrUnknownPhase (wrapped) for undeclared phases,
//     *DuplicateToolNameError if host defaults collide.
func (r *Resolver) LegalToolSet(phase phases.Phase) (*ToolSet, error) {
	if !r.graph.Contains(phase) {
		return nil, fmt.Errorf("legal tools for %q: %w", phase, phases.ErrUnknownPhase)
	}

	set := &ToolSet{phase: phase, byName: make(map[string]int)}
	pp := r.policy[phase]

	if pp.DefaultTools {
		for _, def := range r.defaults.DefaultTools() {
			if _, clash := r.registry.ToolByName(def.Function.Name); clash {
				return nil, &DuplicateToolNameError{Name: def.Function.Name}
			}
			if err := set.add(def, nil); err != nil {
				return nil, err
			}
		}
	}

	for _, name := range pp.AnalysisTools {
		t, _ := r.registry.ToolByName(name)
		if err := set.add(ToToolDef(t), t); err != nil {
			return nil, err
		}
	}

	for _, tt := range r.registry.TransitionToolsFromPhase(phase) {
		if err := set.add(ToToolDef(tt), tt); err != nil {
			return nil, err
		}
	}

	return set, nil
}
