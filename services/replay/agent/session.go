// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent hosts replay sessions: it runs the initial analysis, hands
// tool calls to the dispatcher, executes the resulting actions, and drives
// the model through the phases in a turn loop.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianReplay/services/llm"
	"github.com/AleutianAI/AleutianReplay/services/replay/analysis"
	"github.com/AleutianAI/AleutianReplay/services/replay/config"
	"github.com/AleutianAI/AleutianReplay/services/replay/dispatch"
	"github.com/AleutianAI/AleutianReplay/services/replay/phases"
	"github.com/AleutianAI/AleutianReplay/services/replay/prompts"
	"github.com/AleutianAI/AleutianReplay/services/replay/runner"
	"github.com/AleutianAI/AleutianReplay/services/replay/session"
	"github.com/AleutianAI/AleutianReplay/services/replay/tools"
)

// ActionInvalidCall labels observations for tool calls that could not be
// decoded.
const ActionInvalidCall dispatch.ActionKind = "invalid_call"

// ErrNoDefaultToolHandler is returned in an observation when a default tool
// is called but the host registered no handler.
var ErrNoDefaultToolHandler = errors.New("no handler for default tools")

// DefaultToolHandler executes the host's default tools.
type DefaultToolHandler interface {
	HandleDefaultTool(ctx context.Context, req dispatch.DefaultToolRequest) (string, error)
}

// Observation is the outcome of one tool call, ready to be sent back to the
// model as a tool result.
type Observation struct {
	CallID   string              `json:"call_id,omitempty"`
	ToolName string              `json:"tool_name"`
	Action   dispatch.ActionKind `json:"action"`

	// Content is the tool result text.
	Content string `json:"content"`

	// IsError marks failed commands, unknown tools, and bad arguments.
	IsError bool `json:"is_error,omitempty"`

	// Warning marks tolerated transition rejections.
	Warning bool `json:"warning,omitempty"`

	// Cached is true when an inspection was served from the cache.
	Cached bool `json:"cached,omitempty"`

	// Transition is the committed phase change, if any.
	Transition *session.Transition `json:"transition,omitempty"`

	// EnterPrompt is the prompt for the phase just entered. The host sends
	// it to the model as a user message after the tool result.
	EnterPrompt string `json:"enter_prompt,omitempty"`
}

// Config configures a Session.
type Config struct {
	// ID is the agent session id.
	ID string

	Catalog    *config.Catalog
	Dispatcher *dispatch.Dispatcher
	Renderer   *prompts.Renderer
	Executor   runner.Executor

	// DefaultTools executes default tool calls. May be nil.
	DefaultTools DefaultToolHandler

	// AnalysisInWorkspace runs the initial analysis from the workspace dir.
	AnalysisInWorkspace bool

	// ReplaySessionID is the replay backend session handle, if known.
	ReplaySessionID string

	Logger *slog.Logger
}

// Session is one replay agent session.
//
// Description:
//
//	Owns the session applier and the initial-analysis state. Every
//	mutating call (user messages, tool calls, signals, user commands) is
//	serialized by a session lock, so one turn completes before the next
//	starts. Reads of the phase do not take the turn lock.
//
// Thread Safety: Safe for concurrent use.
type Session struct {
	cfg      Config
	applier  *session.Applier
	enhancer *analysis.Enhancer
	logger   *slog.Logger

	// mu serializes turns.
	mu sync.Mutex

	// enterPrompt is written by the transition listener. Guarded by mu.
	enterPrompt string
}

// NewSession creates a session in the entry phase of the catalog.
//
// Outputs:
//   - *Session: The session.
//   - error: Non-nil if a required collaborator is missing.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Catalog == nil || cfg.Dispatcher == nil || cfg.Renderer == nil || cfg.Executor == nil {
		return nil, fmt.Errorf("agent session %q: catalog, dispatcher, renderer and executor are required", cfg.ID)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("session_id", cfg.ID))

	s := &Session{cfg: cfg, logger: logger}

	applier, err := session.New(cfg.ID, cfg.Catalog.Graph, cfg.Catalog.AnalysisEntry,
		session.WithLogger(logger),
		session.WithReplaySessionID(cfg.ReplaySessionID),
		session.WithListener(s.onTransition),
	)
	if err != nil {
		return nil, err
	}
	s.applier = applier

	ia := cfg.Catalog.InitialAnalysis
	s.enhancer = analysis.NewEnhancer(analysis.Config{
		Command:        ia.Command,
		Instructions:   ia.Instructions,
		InWorkspaceDir: cfg.AnalysisInWorkspace,
		EntryPhase:     cfg.Catalog.AnalysisEntry.From,
		Logger:         logger,
	})
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.cfg.ID }

// Phase returns the current phase.
func (s *Session) Phase() phases.Phase { return s.applier.Phase() }

// State returns the dispatch snapshot of the session.
func (s *Session) State() dispatch.State { return s.applier.State() }

// History returns the committed transitions.
func (s *Session) History() []session.Transition { return s.applier.History() }

// SetReplaySessionID records the replay backend session handle.
func (s *Session) SetReplaySessionID(id string) { s.applier.SetReplaySessionID(id) }

// ToolSet returns the tools legal in the current phase.
func (s *Session) ToolSet() (*tools.ToolSet, error) {
	return s.cfg.Catalog.Resolver.LegalToolSet(s.applier.Phase())
}

// onTransition renders the enter prompt of the new phase. It runs on the
// goroutine that committed the transition, which holds s.mu.
func (s *Session) onTransition(ctx context.Context, t session.Transition) {
	prompt, err := s.cfg.Renderer.PhaseEnter(t.To, t.Arguments)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to render phase prompt",
			slog.String("phase", string(t.To)),
			slog.String("error", err.Error()),
		)
		return
	}
	s.enterPrompt = prompt
}

// takeEnterPrompt returns and clears the pending enter prompt.
// Caller must hold s.mu.
func (s *Session) takeEnterPrompt() string {
	p := s.enterPrompt
	s.enterPrompt = ""
	return p
}

// PrepareUserMessage runs the initial analysis for a user message.
//
// Description:
//
//	When the session is in the entry phase and the message links a
//	recording, the initial-analysis command runs once. Its result replaces
//	the message with the enhanced prompt and moves the session into the
//	analysis phase. A failed analysis command is logged and the message is
//	returned unchanged.
//
// Inputs:
//   - ctx: Context for cancellation and tracing.
//   - text: The user message.
//
// Outputs:
//   - string: The prompt to send to the model.
//   - error: Non-nil on context cancellation or a fatal transition error.
//
// Thread Safety: Safe for concurrent use.
func (s *Session) PrepareUserMessage(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, ok := s.enhancer.Start(s.applier.Phase(), text)
	if !ok {
		return text, nil
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "agent.Session.InitialAnalysis",
		trace.WithAttributes(attribute.String("session.id", s.cfg.ID)),
	)
	defer span.End()

	res, err := s.cfg.Executor.Run(ctx, cmd)
	if err != nil {
		var cerr *runner.CommandError
		if !errors.As(err, &cerr) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "initial analysis aborted")
			return "", err
		}
		s.enhancer.Fail(ctx, err)
		return text, nil
	}

	out, err := s.enhancer.HandleResult(ctx, res.Output)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	if out.Signal != nil {
		if _, err := s.applier.Signal(ctx, *out.Signal); err != nil && !session.IsTolerated(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "analysis signal rejected")
			return "", err
		}
		span.SetAttributes(attribute.String("replay.recording_id", out.Signal.RecordingID))
	}
	s.takeEnterPrompt()
	if out.EnhancedPrompt == "" {
		return text, nil
	}
	return out.EnhancedPrompt, nil
}

// Signal applies an analysis-completed signal from outside the turn loop.
//
// Thread Safety: Safe for concurrent use.
func (s *Session) Signal(ctx context.Context, sig session.AnalysisCompletedSignal) (session.Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.applier.Signal(ctx, sig)
	s.takeEnterPrompt()
	return t, err
}

// HandleToolCall dispatches one model tool call and executes the action.
//
// Description:
//
//	Inspections run on the executor; transitions go to the applier;
//	default tools go to the DefaultToolHandler. Unrecognized tools, bad
//	arguments, and failed commands become error observations. Tolerated
//	transition rejections become warning observations. Only broken
//	invariants are returned as errors.
//
// Inputs:
//   - ctx: Context for cancellation and tracing.
//   - tc: The provider tool call.
//
// Outputs:
//   - Observation: The tool result for the model.
//   - error: *dispatch.AssertionError, phases.ErrUnknownPhase,
//     session.ErrInvalidTransition, or context errors.
//
// Thread Safety: Safe for concurrent use. Calls are serialized.
func (s *Session) HandleToolCall(ctx context.Context, tc llm.ToolCallResponse) (Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "agent.Session.HandleToolCall",
		trace.WithAttributes(
			attribute.String("session.id", s.cfg.ID),
			attribute.String("replay.tool", tc.Name),
		),
	)
	defer span.End()

	obs, err := s.handleToolCall(ctx, tc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool call failed")
		return Observation{}, err
	}
	span.SetAttributes(
		attribute.String("replay.action", string(obs.Action)),
		attribute.Bool("replay.is_error", obs.IsError),
	)
	recordObservation(obs)
	return obs, nil
}

func (s *Session) handleToolCall(ctx context.Context, tc llm.ToolCallResponse) (Observation, error) {
	call, err := dispatch.DecodeToolCall(tc)
	if err != nil {
		s.logger.WarnContext(ctx, "Undecodable tool call", slog.String("tool", tc.Name), slog.String("error", err.Error()))
		return Observation{
			CallID:   tc.ID,
			ToolName: tc.Name,
			Action:   ActionInvalidCall,
			Content:  fmt.Sprintf("Invalid tool call: %v", err),
			IsError:  true,
		}, nil
	}

	state := s.applier.State()
	action, err := s.cfg.Dispatcher.Dispatch(ctx, call, state)
	if err != nil {
		return Observation{}, err
	}

	switch a := action.(type) {
	case dispatch.InspectionRequest:
		return s.runInspection(ctx, a, state)
	case dispatch.PhaseTransitionRequest:
		return s.applyTransition(ctx, a)
	case dispatch.DefaultToolRequest:
		return s.runDefaultTool(ctx, a), nil
	case dispatch.Unrecognized:
		return s.unrecognized(a), nil
	default:
		return Observation{}, &dispatch.AssertionError{Tool: call.Name, Phase: state.Phase, Detail: fmt.Sprintf("unhandled action %T", a)}
	}
}

func (s *Session) runInspection(ctx context.Context, req dispatch.InspectionRequest, state dispatch.State) (Observation, error) {
	obs := Observation{CallID: req.CallID, ToolName: req.ToolName, Action: dispatch.KindInspection}
	res, err := s.cfg.Executor.Run(ctx, runner.Command{
		Name:        req.ToolName,
		Args:        req.Arguments,
		RecordingID: state.RecordingID,
		SessionID:   state.ReplaySessionID,
	})
	if err != nil {
		var cerr *runner.CommandError
		if !errors.As(err, &cerr) {
			return Observation{}, err
		}
		obs.Content = err.Error()
		obs.IsError = true
		return obs, nil
	}
	obs.Content = prompts.Truncate(res.Content(), s.cfg.Catalog.InitialAnalysis.MaxMessageChars)
	obs.Cached = res.Cached
	return obs, nil
}

func (s *Session) applyTransition(ctx context.Context, req dispatch.PhaseTransitionRequest) (Observation, error) {
	obs := Observation{CallID: req.CallID, ToolName: req.ToolName, Action: dispatch.KindTransition}
	t, err := s.applier.Apply(ctx, req)
	if err != nil {
		if !session.IsTolerated(err) {
			return Observation{}, err
		}
		obs.Warning = true
		obs.Content = fmt.Sprintf("Phase transition ignored: %v. The current phase is %q.", err, s.applier.Phase())
		return obs, nil
	}
	obs.Transition = &t
	obs.EnterPrompt = s.takeEnterPrompt()
	obs.Content = fmt.Sprintf("Phase changed from %q to %q.", t.From, t.To)
	return obs, nil
}

func (s *Session) runDefaultTool(ctx context.Context, req dispatch.DefaultToolRequest) Observation {
	obs := Observation{CallID: req.CallID, ToolName: req.ToolName, Action: dispatch.KindDefaultTool}
	if s.cfg.DefaultTools == nil {
		obs.Content = fmt.Sprintf("Tool %q failed: %v", req.ToolName, ErrNoDefaultToolHandler)
		obs.IsError = true
		return obs
	}
	out, err := s.cfg.DefaultTools.HandleDefaultTool(ctx, req)
	if err != nil {
		obs.Content = fmt.Sprintf("Tool %q failed: %v", req.ToolName, err)
		obs.IsError = true
		return obs
	}
	obs.Content = out
	return obs
}

func (s *Session) unrecognized(u dispatch.Unrecognized) Observation {
	available := "none"
	if set, err := s.cfg.Catalog.Resolver.LegalToolSet(u.Phase); err == nil && set.Len() > 0 {
		available = strings.Join(set.Names(), ", ")
	}
	return Observation{
		CallID:   u.CallID,
		ToolName: u.ToolName,
		Action:   dispatch.KindUnrecognized,
		Content:  fmt.Sprintf("Tool %q is not available in phase %q. Available tools: %s.", u.ToolName, u.Phase, available),
		IsError:  true,
	}
}

// RunUserCommand runs a replay command the user issued directly and
// formats its output as a user message.
//
// Outputs:
//   - string: The prefixed, truncated output.
//   - error: The command error, if any.
//
// Thread Safety: Safe for concurrent use.
func (s *Session) RunUserCommand(ctx context.Context, cmd runner.Command) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.applier.State()
	if cmd.RecordingID == "" {
		cmd.RecordingID = state.RecordingID
	}
	if cmd.SessionID == "" {
		cmd.SessionID = state.ReplaySessionID
	}
	res, err := s.cfg.Executor.Run(ctx, cmd)
	if err != nil {
		return "", err
	}
	ia := s.cfg.Catalog.InitialAnalysis
	return prompts.UserCommandOutput(ia.UserCommandPrefix, res.Content(), ia.MaxMessageChars), nil
}
