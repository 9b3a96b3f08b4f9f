// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package replay

import (
	"encoding/json"

	"github.com/AleutianAI/AleutianReplay/services/llm"
	"github.com/AleutianAI/AleutianReplay/services/replay/agent"
	"github.com/AleutianAI/AleutianReplay/services/replay/phases"
	"github.com/AleutianAI/AleutianReplay/services/replay/session"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`

	// TraceID links a server error to its trace.
	TraceID string `json:"trace_id,omitempty"`
}

// CreateSessionRequest is the body of POST /v1/replay/sessions.
type CreateSessionRequest struct {
	// ReplaySessionID is the replay backend session handle.
	ReplaySessionID string `json:"replay_session_id" binding:"omitempty,max=256"`

	// Message is the first user message. When it links a recording, the
	// initial analysis runs before the response is sent.
	Message string `json:"message" binding:"omitempty,max=1000000"`
}

// SessionResponse describes a session.
type SessionResponse struct {
	ID              string               `json:"id"`
	Phase           phases.Phase         `json:"phase"`
	RecordingID     string               `json:"recording_id,omitempty"`
	ReplaySessionID string               `json:"replay_session_id,omitempty"`
	Tools           []string             `json:"tools"`
	History         []session.Transition `json:"history"`

	// Prompt is the (possibly enhanced) first user message.
	Prompt string `json:"prompt,omitempty"`
}

// ToolsResponse is the body of GET /v1/replay/sessions/:id/tools.
type ToolsResponse struct {
	Phase phases.Phase  `json:"phase"`
	Tools []llm.ToolDef `json:"tools"`
}

// DispatchRequest is one model tool call.
type DispatchRequest struct {
	ID        string          `json:"id" binding:"omitempty,max=256"`
	Name      string          `json:"name" binding:"required,max=256"`
	Arguments json.RawMessage `json:"arguments"`
}

// DispatchResponse is the observation of a dispatched tool call.
type DispatchResponse struct {
	Observation agent.Observation `json:"observation"`
	Phase       phases.Phase      `json:"phase"`
}

// SignalResponse is the body of a successful analysis-completed signal.
type SignalResponse struct {
	Transition session.Transition `json:"transition"`
	Phase      phases.Phase       `json:"phase"`
}

// UserCommandRequest is a replay command issued by the user directly.
type UserCommandRequest struct {
	Command string         `json:"command" binding:"required,max=256"`
	Args    map[string]any `json:"args"`
}

// UserCommandResponse carries the formatted command output.
type UserCommandResponse struct {
	Message string `json:"message"`
}

// HealthResponse is the body of GET /v1/replay/health.
type HealthResponse struct {
	Status   string         `json:"status"`
	Sessions int            `json:"sessions"`
	Phases   []phases.Phase `json:"phases"`
}
