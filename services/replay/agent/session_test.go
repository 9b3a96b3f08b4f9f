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
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianReplay/services/llm"
	"github.com/AleutianAI/AleutianReplay/services/replay/config"
	"github.com/AleutianAI/AleutianReplay/services/replay/dispatch"
	"github.com/AleutianAI/AleutianReplay/services/replay/phases"
	"github.com/AleutianAI/AleutianReplay/services/replay/prompts"
	"github.com/AleutianAI/AleutianReplay/services/replay/runner"
	"github.com/AleutianAI/AleutianReplay/services/replay/session"
)

const recordingPrompt = "The list crashes: https://app.replay.io/recording/r1"

// recordingExecutor answers commands from a table and records them.
type recordingExecutor struct {
	mu       sync.Mutex
	outputs  map[string]string
	errs     map[string]error
	commands []runner.Command
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{
		outputs: map[string]string{
			runner.InitialAnalysisCommand: `{"metadata":{"recordingId":"r1"},"IMPORTANT_NOTES":"check the empty list"}`,
			"inspect-data":                `{"value":1}`,
			"inspect-point":               `{"dependencies":[]}`,
		},
		errs: map[string]error{},
	}
}

func (e *recordingExecutor) Run(_ context.Context, cmd runner.Command) (runner.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands = append(e.commands, cmd)
	if err := e.errs[cmd.Name]; err != nil {
		return runner.Result{}, err
	}
	return runner.Result{Command: cmd.Name, Output: json.RawMessage(e.outputs[cmd.Name])}, nil
}

func (e *recordingExecutor) names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.commands))
	for i, c := range e.commands {
		out[i] = c.Name
	}
	return out
}

type stubDefaults struct{ out string }

func (s stubDefaults) HandleDefaultTool(_ context.Context, req dispatch.DefaultToolRequest) (string, error) {
	return s.out + ":" + req.ToolName, nil
}

func newTestSession(t *testing.T, exec runner.Executor, handler DefaultToolHandler) *Session {
	t.Helper()
	cfg, err := config.LoadWorkflowConfig(context.Background(), config.DefaultWorkflowYAML())
	require.NoError(t, err)
	cat, err := cfg.Build(ShellTools{})
	require.NoError(t, err)
	renderer, err := prompts.NewRenderer(cat.Graph, cat.EnterPrompts)
	require.NoError(t, err)

	sess, err := NewSession(Config{
		ID:                  "s-1",
		Catalog:             cat,
		Dispatcher:          dispatch.New(cat.Resolver, dispatch.WithStripPattern(cat.StripPattern)),
		Renderer:            renderer,
		Executor:            exec,
		DefaultTools:        handler,
		AnalysisInWorkspace: true,
	})
	require.NoError(t, err)
	return sess
}

func toolCall(id, name, args string) llm.ToolCallResponse {
	return llm.ToolCallResponse{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func TestNewSession_RequiresCollaborators(t *testing.T) {
	_, err := NewSession(Config{ID: "x"})
	assert.Error(t, err)
}

func TestSession_PrepareUserMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("recording link runs analysis once and enters analysis", func(t *testing.T) {
		exec := newRecordingExecutor()
		sess := newTestSession(t, exec, nil)

		prompt, err := sess.PrepareUserMessage(ctx, recordingPrompt)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(prompt, recordingPrompt+"\n\n# Instructions"))
		assert.Contains(t, prompt, `"IMPORTANT_NOTES": "check the empty list"`)
		assert.Equal(t, phases.PhaseAnalysis, sess.Phase())
		assert.Equal(t, "r1", sess.State().RecordingID)

		require.Len(t, exec.commands, 1)
		assert.Equal(t, runner.InitialAnalysisCommand, exec.commands[0].Name)
		assert.Equal(t, recordingPrompt, exec.commands[0].Args["prompt"])
		assert.True(t, exec.commands[0].InWorkspaceDir)

		again, err := sess.PrepareUserMessage(ctx, recordingPrompt)
		require.NoError(t, err)
		assert.Equal(t, recordingPrompt, again)
		assert.Len(t, exec.commands, 1)
	})

	t.Run("message without recording is unchanged", func(t *testing.T) {
		exec := newRecordingExecutor()
		sess := newTestSession(t, exec, nil)

		prompt, err := sess.PrepareUserMessage(ctx, "hello")
		require.NoError(t, err)
		assert.Equal(t, "hello", prompt)
		assert.Empty(t, exec.commands)
		assert.Equal(t, phases.PhaseNormal, sess.Phase())
	})

	t.Run("failed analysis keeps the prompt and the phase", func(t *testing.T) {
		exec := newRecordingExecutor()
		exec.errs[runner.InitialAnalysisCommand] = &runner.CommandError{Command: runner.InitialAnalysisCommand, Kind: runner.FailureExit, ExitCode: 2}
		sess := newTestSession(t, exec, nil)

		prompt, err := sess.PrepareUserMessage(ctx, recordingPrompt)
		require.NoError(t, err)
		assert.Equal(t, recordingPrompt, prompt)
		assert.Equal(t, phases.PhaseNormal, sess.Phase())

		_, err = sess.PrepareUserMessage(ctx, recordingPrompt)
		require.NoError(t, err)
		assert.Len(t, exec.commands, 1, "a failed analysis is not retried")
	})

	t.Run("context errors abort", func(t *testing.T) {
		exec := newRecordingExecutor()
		exec.errs[runner.InitialAnalysisCommand] = context.Canceled
		sess := newTestSession(t, exec, nil)

		_, err := sess.PrepareUserMessage(ctx, recordingPrompt)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSession_HandleToolCall(t *testing.T) {
	ctx := context.Background()

	t.Run("inspection strips explanations and injects the recording", func(t *testing.T) {
		exec := newRecordingExecutor()
		sess := newTestSession(t, exec, nil)
		_, err := sess.Signal(ctx, session.AnalysisCompletedSignal{RecordingID: "r1"})
		require.NoError(t, err)

		obs, err := sess.HandleToolCall(ctx, toolCall("c1", "inspect-data",
			`{"expression":"items[0]","point":"p1","explanation":"why","explanation_source":"notes"}`))
		require.NoError(t, err)
		assert.Equal(t, dispatch.KindInspection, obs.Action)
		assert.False(t, obs.IsError)
		assert.Equal(t, "c1", obs.CallID)
		assert.JSONEq(t, `{"value":1}`, obs.Content)

		require.Len(t, exec.commands, 1)
		cmd := exec.commands[0]
		assert.Equal(t, map[string]any{"expression": "items[0]", "point": "p1", "recordingId": "r1"}, cmd.Args)
		assert.Equal(t, "r1", cmd.RecordingID)
	})

	t.Run("transition commits and renders the enter prompt", func(t *testing.T) {
		sess := newTestSession(t, newRecordingExecutor(), nil)
		_, err := sess.Signal(ctx, session.AnalysisCompletedSignal{RecordingID: "r1"})
		require.NoError(t, err)

		obs, err := sess.HandleToolCall(ctx, toolCall("c2", "submit", `{"problem":"p","rootCauseHypothesis":"h"}`))
		require.NoError(t, err)
		require.NotNil(t, obs.Transition)
		assert.Equal(t, phases.PhaseAnalysis, obs.Transition.From)
		assert.Equal(t, phases.PhaseConfirmAnalysis, obs.Transition.To)
		assert.Contains(t, obs.EnterPrompt, "Problem: p")
		assert.Contains(t, obs.EnterPrompt, "Root cause hypothesis: h")
		assert.Equal(t, phases.PhaseConfirmAnalysis, sess.Phase())

		// The transition tool is not legal any more.
		again, err := sess.HandleToolCall(ctx, toolCall("c3", "submit", `{"problem":"p","rootCauseHypothesis":"h"}`))
		require.NoError(t, err)
		assert.Equal(t, dispatch.KindUnrecognized, again.Action)
		assert.True(t, again.IsError)
		assert.Equal(t, phases.PhaseConfirmAnalysis, sess.Phase())
		assert.Len(t, sess.History(), 2)
	})

	t.Run("unrecognized tool lists the legal tools", func(t *testing.T) {
		sess := newTestSession(t, newRecordingExecutor(), nil)
		obs, err := sess.HandleToolCall(ctx, toolCall("c4", "submit", `{}`))
		require.NoError(t, err)
		assert.Equal(t, dispatch.KindUnrecognized, obs.Action)
		assert.Contains(t, obs.Content, `not available in phase "normal"`)
		assert.Contains(t, obs.Content, ShellToolName)
	})

	t.Run("undecodable arguments", func(t *testing.T) {
		sess := newTestSession(t, newRecordingExecutor(), nil)
		obs, err := sess.HandleToolCall(ctx, toolCall("c5", "inspect-point", `[1,2]`))
		require.NoError(t, err)
		assert.Equal(t, ActionInvalidCall, obs.Action)
		assert.True(t, obs.IsError)
	})

	t.Run("command failure becomes an error observation", func(t *testing.T) {
		exec := newRecordingExecutor()
		exec.errs["inspect-point"] = &runner.CommandError{Command: "inspect-point", Kind: runner.FailureStatus, Message: "no such point"}
		sess := newTestSession(t, exec, nil)
		_, err := sess.Signal(ctx, session.AnalysisCompletedSignal{RecordingID: "r1"})
		require.NoError(t, err)

		obs, err := sess.HandleToolCall(ctx, toolCall("c6", "inspect-point", `{"point":"p9"}`))
		require.NoError(t, err)
		assert.True(t, obs.IsError)
		assert.Contains(t, obs.Content, "no such point")
	})

	t.Run("default tools", func(t *testing.T) {
		sess := newTestSession(t, newRecordingExecutor(), stubDefaults{out: "ran"})
		obs, err := sess.HandleToolCall(ctx, toolCall("c7", ShellToolName, `{"command":"ls"}`))
		require.NoError(t, err)
		assert.Equal(t, dispatch.KindDefaultTool, obs.Action)
		assert.Equal(t, "ran:"+ShellToolName, obs.Content)

		bare := newTestSession(t, newRecordingExecutor(), nil)
		obs, err = bare.HandleToolCall(ctx, toolCall("c8", ShellToolName, `{"command":"ls"}`))
		require.NoError(t, err)
		assert.True(t, obs.IsError)
		assert.Contains(t, obs.Content, ErrNoDefaultToolHandler.Error())
	})
}

func TestSession_SignalTwiceIsTolerated(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession(t, newRecordingExecutor(), nil)

	_, err := sess.Signal(ctx, session.AnalysisCompletedSignal{RecordingID: "r1"})
	require.NoError(t, err)
	_, err = sess.Signal(ctx, session.AnalysisCompletedSignal{RecordingID: "r1"})
	assert.ErrorIs(t, err, session.ErrAlreadyInPhase)
	assert.True(t, session.IsTolerated(err))
	assert.Equal(t, phases.PhaseAnalysis, sess.Phase())
}

func TestSession_RunUserCommand(t *testing.T) {
	ctx := context.Background()
	exec := newRecordingExecutor()
	sess := newTestSession(t, exec, nil)
	_, err := sess.Signal(ctx, session.AnalysisCompletedSignal{RecordingID: "r1"})
	require.NoError(t, err)

	out, err := sess.RunUserCommand(ctx, runner.Command{Name: "inspect-point", Args: map[string]any{"point": "p"}})
	require.NoError(t, err)
	assert.Equal(t, "\nObserved result of replay command executed by user:\n{\"dependencies\":[]}", out)
	assert.Equal(t, "r1", exec.commands[0].RecordingID)

	exec.errs["inspect-point"] = errors.New("boom")
	_, err = sess.RunUserCommand(ctx, runner.Command{Name: "inspect-point"})
	assert.Error(t, err)
}
