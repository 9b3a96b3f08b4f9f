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
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianReplay/services/llm"
	"github.com/AleutianAI/AleutianReplay/services/replay/phases"
)

// DefaultMaxSteps bounds a loop run when no limit is configured.
const DefaultMaxSteps = 50

// SkippedCallContent answers tool calls beyond the first in a turn.
const SkippedCallContent = "Skipped: only one tool call is handled per turn. Call it again if it is still needed."

// ErrMaxSteps is returned when the model is still calling tools after the
// step limit.
var ErrMaxSteps = errors.New("agent: step limit reached")

// RunResult is the outcome of a loop run.
type RunResult struct {
	// FinalContent is the last assistant message without tool calls.
	FinalContent string

	// Steps is the number of model calls made.
	Steps int

	// Phase is the session phase when the run ended.
	Phase phases.Phase

	// Messages is the full conversation.
	Messages []llm.ChatMessage
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithSystemPrompt prepends a system message to the conversation.
func WithSystemPrompt(prompt string) LoopOption {
	return func(l *Loop) { l.systemPrompt = prompt }
}

// WithMaxSteps sets the model call limit.
func WithMaxSteps(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.maxSteps = n
		}
	}
}

// WithGenerationParams sets the sampling parameters.
func WithGenerationParams(p llm.GenerationParams) LoopOption {
	return func(l *Loop) { l.params = p }
}

// WithLoopLogger sets the logger.
func WithLoopLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Loop drives a model through one session.
//
// Each turn offers the model exactly the tools legal in the current phase,
// handles the first tool call, and answers the rest with a skip notice.
//
// Thread Safety: A Loop runs one conversation at a time. Do not call Run
// concurrently on the same Loop.
type Loop struct {
	client       llm.ToolChatClient
	session      *Session
	systemPrompt string
	maxSteps     int
	params       llm.GenerationParams
	logger       *slog.Logger
}

// NewLoop creates a Loop.
func NewLoop(client llm.ToolChatClient, sess *Session, opts ...LoopOption) *Loop {
	l := &Loop{
		client:   client,
		session:  sess,
		maxSteps: DefaultMaxSteps,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run sends userMessage and loops until the model answers without a tool
// call.
//
// Description:
//
//	The user message first goes through the initial analysis, which may
//	enhance it and move the session into the analysis phase. Each turn then
//	calls the model with the legal tool set, appends the assistant message,
//	and handles its tool calls. Enter prompts of newly entered phases are
//	appended as user messages.
//
// Inputs:
//   - ctx: Context for cancellation and tracing.
//   - userMessage: The task, usually linking a recording.
//
// Outputs:
//   - *RunResult: The conversation so far. Non-nil even on error.
//   - error: ErrMaxSteps, a chat client error, or a fatal dispatch error.
func (l *Loop) Run(ctx context.Context, userMessage string) (*RunResult, error) {
	result := &RunResult{}
	if l.systemPrompt != "" {
		result.Messages = append(result.Messages, llm.ChatMessage{Role: "system", Content: l.systemPrompt})
	}

	prompt, err := l.session.PrepareUserMessage(ctx, userMessage)
	if err != nil {
		result.Phase = l.session.Phase()
		return result, fmt.Errorf("prepare user message: %w", err)
	}
	result.Messages = append(result.Messages, llm.ChatMessage{Role: "user", Content: prompt})

	for result.Steps < l.maxSteps {
		result.Steps++
		done, err := l.turn(ctx, result)
		if err != nil {
			turnsTotal.WithLabelValues("error").Inc()
			result.Phase = l.session.Phase()
			return result, err
		}
		if done {
			turnsTotal.WithLabelValues("final").Inc()
			result.Phase = l.session.Phase()
			l.logger.InfoContext(ctx, "Agent run finished",
				slog.String("session_id", l.session.ID()),
				slog.Int("steps", result.Steps),
				slog.String("phase", string(result.Phase)),
			)
			return result, nil
		}
		turnsTotal.WithLabelValues("tool_call").Inc()
	}

	result.Phase = l.session.Phase()
	return result, fmt.Errorf("%w after %d steps in phase %q", ErrMaxSteps, result.Steps, result.Phase)
}

// turn runs one model call. It returns true when the model gave a final
// answer.
func (l *Loop) turn(ctx context.Context, result *RunResult) (bool, error) {
	phase := l.session.Phase()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "agent.Loop.Turn",
		trace.WithAttributes(
			attribute.String("session.id", l.session.ID()),
			attribute.String("replay.phase", string(phase)),
			attribute.Int("agent.step", result.Steps),
		),
	)
	defer span.End()

	set, err := l.session.ToolSet()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool set")
		return false, err
	}

	resp, err := l.client.ChatWithTools(ctx, result.Messages, l.params, set.Defs())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat failed")
		return false, fmt.Errorf("chat: %w", err)
	}

	calls := make([]llm.ToolCallResponse, len(resp.ToolCalls))
	for i, tc := range resp.ToolCalls {
		if tc.ID == "" {
			tc.ID = "call_" + uuid.NewString()
		}
		calls[i] = tc
	}
	result.Messages = append(result.Messages, llm.ChatMessage{
		Role:      "assistant",
		Content:   resp.Content,
		ToolCalls: calls,
	})
	span.SetAttributes(attribute.Int("agent.tool_calls", len(calls)))

	if len(calls) == 0 {
		result.FinalContent = resp.Content
		return true, nil
	}

	obs, err := l.session.HandleToolCall(ctx, calls[0])
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool call failed")
		return false, err
	}
	result.Messages = append(result.Messages, llm.ChatMessage{
		Role:       "tool",
		Content:    obs.Content,
		ToolCallID: calls[0].ID,
		ToolName:   calls[0].Name,
	})

	for _, extra := range calls[1:] {
		skippedCallsTotal.Inc()
		result.Messages = append(result.Messages, llm.ChatMessage{
			Role:       "tool",
			Content:    SkippedCallContent,
			ToolCallID: extra.ID,
			ToolName:   extra.Name,
		})
	}

	if obs.EnterPrompt != "" {
		result.Messages = append(result.Messages, llm.ChatMessage{Role: "user", Content: obs.EnterPrompt})
	}
	return false, nil
}
