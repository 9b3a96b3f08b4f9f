// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dispatch turns a model tool call into a replay action.
//
// The dispatcher is stateless with respect to the session: it reads the
// current phase and context identifiers from a State snapshot and never
// mutates them. Phase changes are returned as PhaseTransitionRequest and
// committed by the session applier.
package dispatch

import (
	"github.com/AleutianAI/AleutianReplay/services/replay/phases"
)

// ActionKind names an Action variant. Used as a metric label.
type ActionKind string

const (
	KindInspection   ActionKind = "inspection"
	KindTransition   ActionKind = "transition"
	KindDefaultTool  ActionKind = "default_tool"
	KindUnrecognized ActionKind = "unrecognized"
)

// Action is the closed result of dispatching one tool call.
//
// Implementations: InspectionRequest, PhaseTransitionRequest,
// DefaultToolRequest, Unrecognized.
type Action interface {
	Kind() ActionKind
	action()
}

// InspectionRequest asks the execution collaborator to run an analysis tool.
type InspectionRequest struct {
	// CallID is the model's tool call id, echoed in the result message.
	CallID string `json:"call_id,omitempty"`

	// ToolName is the analysis tool to run.
	ToolName string `json:"tool_name"`

	// Arguments are the model arguments with explanation keys removed and
	// context fields (recordingId, sessionId) injected.
	Arguments map[string]any `json:"arguments"`
}

// PhaseTransitionRequest asks the applier to move from From to To.
type PhaseTransitionRequest struct {
	CallID   string       `json:"call_id,omitempty"`
	ToolName string       `json:"tool_name"`
	From     phases.Phase `json:"from"`
	To       phases.Phase `json:"to"`

	// Arguments are the transition tool arguments, unmodified. They are
	// the payload for the destination phase prompt.
	Arguments map[string]any `json:"arguments"`
}

// DefaultToolRequest forwards a call to one of the host's default tools.
type DefaultToolRequest struct {
	CallID    string         `json:"call_id,omitempty"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// Unrecognized reports a call to a tool that is not legal in Phase. It is
// not an error: the host logs it and tells the model.
type Unrecognized struct {
	CallID   string       `json:"call_id,omitempty"`
	ToolName string       `json:"tool_name"`
	Phase    phases.Phase `json:"phase"`
}

func (InspectionRequest) Kind() ActionKind      { return KindInspection }
func (PhaseTransitionRequest) Kind() ActionKind { return KindTransition }
func (DefaultToolRequest) Kind() ActionKind     { return KindDefaultTool }
func (Unrecognized) Kind() ActionKind           { return KindUnrecognized }

func (InspectionRequest) action()      {}
func (PhaseTransitionRequest) action() {}
func (DefaultToolRequest) action()     {}
func (Unrecognized) action()           {}

// Edge returns the transition as a graph edge.
func (r PhaseTransitionRequest) Edge() phases.Edge {
	return phases.Edge{From: r.From, To: r.To}
}

// State is the per-turn session snapshot the dispatcher reads.
type State struct {
	Phase       phases.Phase
	RecordingID string

	// ReplaySessionID is the replay backend's session handle, if any. It is
	// distinct from the agent session id.
	ReplaySessionID string
}
