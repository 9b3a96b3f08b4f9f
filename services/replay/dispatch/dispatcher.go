// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianReplay/services/llm"
	"github.com/AleutianAI/AleutianReplay/services/replay/phases"
	"github.com/AleutianAI/AleutianReplay/services/replay/tools"
)

const (
	// DefaultStripPattern removes model-facing reasoning fields before execution.
	DefaultStripPattern = "explanation"

	// RecordingIDKey is the argument key carrying the recording id.
	RecordingIDKey = "recordingId"

	// SessionIDKey is the argument key carrying the replay session id.
	SessionIDKey = "sessionId"
)

// AssertionError reports a broken internal invariant. It is a bug, never a
// recoverable condition.
type AssertionError struct {
	Tool   string
	Phase  phases.Phase
	Detail string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("dispatch invariant violated for tool %q in phase %q: %s", e.Tool, e.Phase, e.Detail)
}

// Dispatcher maps tool calls to actions.
//
// Thread Safety: Dispatcher is immutable and safe for concurrent use.
type Dispatcher struct {
	resolver     *tools.Resolver
	stripPattern string
	logger       *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithStripPattern sets the case-insensitive substring that marks argument
// keys to drop from inspection calls. Empty disables stripping.
func WithStripPattern(pattern string) Option {
	return func(d *Dispatcher) { d.stripPattern = strings.ToLower(pattern) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a Dispatcher over a resolver.
func New(resolver *tools.Resolver, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		resolver:     resolver,
		stripPattern: DefaultStripPattern,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch classifies one tool call against the tools legal in state.Phase.
//
// Description:
//
//	1. Computes the legal tool set for the current phase.
//	2. Unknown or illegal names yield Unrecognized (logged, not an error).
//	3. Analysis tools yield InspectionRequest with explanation keys removed
//	   and recordingId/sessionId injected when known.
//	4. Transition tools yield PhaseTransitionRequest along the tool's edge
//	   from the current phase.
//	5. Host default tools yield DefaultToolRequest.
//
//	Dispatch never changes the phase.
//
// Inputs:
//   - ctx: Context for tracing.
//   - call: The decoded tool call.
//   - state: Snapshot of the session.
//
// Outputs:
//   - Action: The classified action.
//   - error: Resolver failures (unknown phase) or *AssertionError.
//
// Thread Safety: This method is safe for concurrent use.
func (d *Dispatcher) Dispatch(ctx context.Context, call ToolCall, state State) (Action, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "dispatch.Dispatcher.Dispatch",
		trace.WithAttributes(
			attribute.String("replay.phase", string(state.Phase)),
			attribute.String("replay.tool", call.Name),
		),
	)
	defer span.End()
	start := time.Now()

	action, err := d.dispatch(call, state)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		dispatchTotal.WithLabelValues(string(state.Phase), "error").Inc()
		return nil, err
	}

	span.SetAttributes(attribute.String("replay.action", string(action.Kind())))
	recordDispatchMetrics(string(state.Phase), action.Kind(), time.Since(start))

	if u, ok := action.(Unrecognized); ok {
		d.logger.WarnContext(ctx, "Tool not legal in current phase",
			slog.String("tool", u.ToolName),
			slog.String("phase", string(u.Phase)),
		)
	} else {
		d.logger.DebugContext(ctx, "Dispatched tool call",
			slog.String("tool", call.Name),
			slog.String("phase", string(state.Phase)),
			slog.String("action", string(action.Kind())),
			slog.String("arguments", llm.SafeLogArgs(call.Arguments)),
		)
	}
	return action, nil
}

func (d *Dispatcher) dispatch(call ToolCall, state State) (Action, error) {
	set, err := d.resolver.LegalToolSet(state.Phase)
	if err != nil {
		return nil, err
	}

	entry, ok := set.Lookup(call.Name)
	if !ok {
		return Unrecognized{CallID: call.ID, ToolName: call.Name, Phase: state.Phase}, nil
	}

	switch t := entry.Tool.(type) {
	case nil:
		return DefaultToolRequest{CallID: call.ID, ToolName: call.Name, Arguments: copyArgs(call.Arguments)}, nil

	case *tools.AnalysisTool:
		return InspectionRequest{
			CallID:    call.ID,
			ToolName:  t.Name(),
			Arguments: d.inspectionArgs(call.Arguments, state),
		}, nil

	case *tools.TransitionTool:
		edge, bound := t.EdgeFrom(state.Phase)
		if !bound {
			return nil, &AssertionError{Tool: t.Name(), Phase: state.Phase, Detail: "legal transition tool has no edge from current phase"}
		}
		return PhaseTransitionRequest{
			CallID:    call.ID,
			ToolName:  t.Name(),
			From:      edge.From,
			To:        edge.To,
			Arguments: copyArgs(call.Arguments),
		}, nil

	default:
		return nil, &AssertionError{Tool: call.Name, Phase: state.Phase, Detail: fmt.Sprintf("unhandled tool variant %T", t)}
	}
}

// inspectionArgs drops keys containing the strip pattern and injects the
// recording and replay session ids.
func (d *Dispatcher) inspectionArgs(in map[string]any, state State) map[string]any {
	out := make(map[string]any, len(in)+2)
	for k, v := range in {
		if d.stripPattern != "" && strings.Contains(strings.ToLower(k), d.stripPattern) {
			continue
		}
		out[k] = v
	}
	if state.RecordingID != "" {
		out[RecordingIDKey] = state.RecordingID
	}
	if state.ReplaySessionID != "" {
		out[SessionIDKey] = state.ReplaySessionID
	}
	return out
}

func copyArgs(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// DispatchResponse decodes and dispatches a provider tool call in one step.
func (d *Dispatcher) DispatchResponse(ctx context.Context, tc llm.ToolCallResponse, state State) (Action, error) {
	call, err := DecodeToolCall(tc)
	if err != nil {
		return nil, err
	}
	return d.Dispatch(ctx, call, state)
}
