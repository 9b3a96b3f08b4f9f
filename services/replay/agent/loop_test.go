// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianReplay/services/llm"
	"github.com/AleutianAI/AleutianReplay/services/replay/phases"
	"github.com/AleutianAI/AleutianReplay/services/replay/runner"
	"github.com/AleutianAI/AleutianReplay/services/replay/session"
)

// scriptedClient returns canned responses in order and records the tool
// names offered on each call.
type scriptedClient struct {
	responses []*llm.ChatWithToolsResult
	offered   [][]string
	repeat    bool
}

func (c *scriptedClient) ChatWithTools(_ context.Context, _ []llm.ChatMessage,
	_ llm.GenerationParams, defs []llm.ToolDef) (*llm.ChatWithToolsResult, error) {
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Function.Name
	}
	c.offered = append(c.offered, names)

	if len(c.responses) == 0 {
		return nil, errors.New("script exhausted")
	}
	r := c.responses[0]
	if !c.repeat {
		c.responses = c.responses[1:]
	}
	return r, nil
}

func callsTool(calls ...llm.ToolCallResponse) *llm.ChatWithToolsResult {
	return &llm.ChatWithToolsResult{ToolCalls: calls, StopReason: "tool_use"}
}

func finalAnswer(text string) *llm.ChatWithToolsResult {
	return &llm.ChatWithToolsResult{Content: text, StopReason: "end"}
}

func TestLoop_DefaultWorkflowEndToEnd(t *testing.T) {
	exec := newRecordingExecutor()
	sess := newTestSession(t, exec, stubDefaults{out: "ok"})
	client := &scriptedClient{responses: []*llm.ChatWithToolsResult{
		callsTool(toolCall("c1", "inspect-data", `{"expression":"items[0]","point":"p1","explanation":"why","explanation_source":"notes"}`)),
		callsTool(toolCall("c2", "submit", `{"problem":"p","rootCauseHypothesis":"h"}`)),
		callsTool(toolCall("c3", "confirm", `{"hypothesis":"guard the read"}`)),
		finalAnswer("done"),
	}}

	result, err := NewLoop(client, sess, WithSystemPrompt("You are a debugger.")).Run(context.Background(), recordingPrompt)
	require.NoError(t, err)

	assert.Equal(t, "done", result.FinalContent)
	assert.Equal(t, 4, result.Steps)
	assert.Equal(t, phases.PhaseEdit, result.Phase)
	assert.Equal(t, []string{runner.InitialAnalysisCommand, "inspect-data"}, exec.names())
	assert.NotContains(t, exec.commands[1].Args, "explanation")
	assert.Equal(t, "r1", exec.commands[1].Args["recordingId"])

	require.Len(t, client.offered, 4)
	assert.Equal(t, []string{"inspect-data", "inspect-point", "submit"}, client.offered[0])
	assert.Equal(t, []string{"inspect-data", "inspect-point", "submit"}, client.offered[1])
	assert.Equal(t, []string{"inspect-data", "inspect-point", "confirm"}, client.offered[2])
	assert.Equal(t, []string{ShellToolName, "inspect-data", "inspect-point"}, client.offered[3])

	history := sess.History()
	require.Len(t, history, 3)
	assert.Equal(t, session.CauseAnalysisCompleted, history[0].Cause)
	assert.Equal(t, "submit", history[1].ToolName)
	assert.Equal(t, "confirm", history[2].ToolName)

	var enterPrompts []string
	for i, m := range result.Messages {
		if m.Role == "user" && i > 1 {
			enterPrompts = append(enterPrompts, m.Content)
		}
	}
	require.Len(t, enterPrompts, 2)
	assert.Contains(t, enterPrompts[0], "Problem: p")
	assert.Contains(t, enterPrompts[1], "Confirmed hypothesis: guard the read")

	assert.Equal(t, "system", result.Messages[0].Role)
	assert.True(t, strings.HasPrefix(result.Messages[1].Content, recordingPrompt))
}

func TestLoop_HandlesOneToolCallPerTurn(t *testing.T) {
	exec := newRecordingExecutor()
	sess := newTestSession(t, exec, nil)
	_, err := sess.Signal(context.Background(), session.AnalysisCompletedSignal{RecordingID: "r1"})
	require.NoError(t, err)

	client := &scriptedClient{responses: []*llm.ChatWithToolsResult{
		callsTool(
			toolCall("c1", "inspect-point", `{"point":"p1"}`),
			toolCall("c2", "submit", `{"problem":"p","rootCauseHypothesis":"h"}`),
		),
		finalAnswer("stopping"),
	}}

	result, err := NewLoop(client, sess).Run(context.Background(), "continue")
	require.NoError(t, err)
	assert.Equal(t, phases.PhaseAnalysis, result.Phase, "the second call is not handled")
	assert.Equal(t, []string{"inspect-point"}, exec.names())

	var skipped int
	for _, m := range result.Messages {
		if m.Role == "tool" && m.Content == SkippedCallContent {
			skipped++
			assert.Equal(t, "c2", m.ToolCallID)
		}
	}
	assert.Equal(t, 1, skipped)
}

func TestLoop_AssignsMissingCallIDs(t *testing.T) {
	sess := newTestSession(t, newRecordingExecutor(), stubDefaults{out: "ok"})
	client := &scriptedClient{responses: []*llm.ChatWithToolsResult{
		callsTool(toolCall("", ShellToolName, `{"command":"ls"}`)),
		finalAnswer("done"),
	}}

	result, err := NewLoop(client, sess).Run(context.Background(), "hello")
	require.NoError(t, err)

	assistant := result.Messages[1]
	require.Len(t, assistant.ToolCalls, 1)
	id := assistant.ToolCalls[0].ID
	assert.True(t, strings.HasPrefix(id, "call_"))
	assert.Equal(t, id, result.Messages[2].ToolCallID)
}

func TestLoop_MaxSteps(t *testing.T) {
	sess := newTestSession(t, newRecordingExecutor(), stubDefaults{out: "ok"})
	client := &scriptedClient{
		responses: []*llm.ChatWithToolsResult{callsTool(toolCall("c", ShellToolName, `{"command":"ls"}`))},
		repeat:    true,
	}

	result, err := NewLoop(client, sess, WithMaxSteps(3)).Run(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrMaxSteps)
	assert.Equal(t, 3, result.Steps)
}

func TestLoop_ChatErrorStopsTheRun(t *testing.T) {
	sess := newTestSession(t, newRecordingExecutor(), nil)
	client := &scriptedClient{}

	result, err := NewLoop(client, sess).Run(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "script exhausted")
	assert.Equal(t, phases.PhaseNormal, result.Phase)
}
