// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session owns the phase of one replay agent session.
//
// The Applier is the only writer of the phase. It commits transitions
// requested by transition tools and the out-of-band analysis-completed
// signal, and notifies listeners after each commit.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianReplay/services/replay/dispatch"
	"github.com/AleutianAI/AleutianReplay/services/replay/phases"
)

// Cause says what produced a transition.
type Cause string

const (
	// CauseTool is a transition requested by a transition tool call.
	CauseTool Cause = "tool"

	// CauseAnalysisCompleted is the analysis-entry transition.
	CauseAnalysisCompleted Cause = "analysis_completed"
)

// AnalysisCompletedSignal reports that the initial analysis of a recording
// finished and produced a recording id.
type AnalysisCompletedSignal struct {
	RecordingID string `json:"recording_id" binding:"required"`
}

// Transition is a committed phase change.
type Transition struct {
	From      phases.Phase   `json:"from"`
	To        phases.Phase   `json:"to"`
	Cause     Cause          `json:"cause"`
	ToolName  string         `json:"tool_name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	At        time.Time      `json:"at"`
}

// Listener is called after a transition is committed. Listeners run on the
// committing goroutine, outside the applier lock, in registration order.
type Listener func(ctx context.Context, t Transition)

// Applier holds the phase of one session and applies transitions to it.
//
// Thread Safety: Safe for concurrent use. Reads take a read lock; Apply and
// Signal serialize on the write lock.
type Applier struct {
	id     string
	graph  *phases.Graph
	entry  phases.Edge
	logger *slog.Logger

	mu              sync.RWMutex
	phase           phases.Phase
	recordingID     string
	replaySessionID string
	history         []Transition
	listeners       []Listener
}

// Option configures an Applier.
type Option func(*Applier)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Applier) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithListener registers a listener at construction.
func WithListener(l Listener) Option {
	return func(a *Applier) {
		if l != nil {
			a.listeners = append(a.listeners, l)
		}
	}
}

// WithReplaySessionID sets the replay backend session handle.
func WithReplaySessionID(id string) Option {
	return func(a *Applier) { a.replaySessionID = id }
}

// New creates an Applier starting in entry.From.
//
// Description:
//
//	entry is the out-of-band analysis-entry transition. It is taken only by
//	Signal and need not be an edge of graph, but both its phases must be.
//
// Inputs:
//   - id: Session id, used for logging.
//   - graph: The validated phase graph.
//   - entry: The analysis-entry transition. From is the initial phase.
//   - opts: Options.
//
// Outputs:
//   - *Applier: The applier.
//   - error: phases.ErrUnknownPhase if entry names a phase outside graph.
func New(id string, graph *phases.Graph, entry phases.Edge, opts ...Option) (*Applier, error) {
	if graph == nil {
		return nil, fmt.Errorf("session %s: graph must not be nil", id)
	}
	if !graph.Contains(entry.From) || !graph.Contains(entry.To) {
		return nil, fmt.Errorf("session %s: analysis entry %s: %w", id, entry, phases.ErrUnknownPhase)
	}
	a := &Applier{
		id:     id,
		graph:  graph,
		entry:  entry,
		logger: slog.Default(),
		phase:  entry.From,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// ID returns the session id.
func (a *Applier) ID() string { return a.id }

// Graph returns the phase graph.
func (a *Applier) Graph() *phases.Graph { return a.graph }

// Phase returns the current phase.
func (a *Applier) Phase() phases.Phase {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.phase
}

// RecordingID returns the recording id, empty until the analysis completed.
func (a *Applier) RecordingID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.recordingID
}

// State returns the dispatch snapshot of the session.
func (a *Applier) State() dispatch.State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return dispatch.State{
		Phase:           a.phase,
		RecordingID:     a.recordingID,
		ReplaySessionID: a.replaySessionID,
	}
}

// History returns committed transitions, oldest first.
func (a *Applier) History() []Transition {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Transition, len(a.history))
	copy(out, a.history)
	return out
}

// SetReplaySessionID records the replay backend session handle.
func (a *Applier) SetReplaySessionID(id string) {
	a.mu.Lock()
	a.replaySessionID = id
	a.mu.Unlock()
}

// OnTransition registers a listener.
func (a *Applier) OnTransition(l Listener) {
	if l == nil {
		return
	}
	a.mu.Lock()
	a.listeners = append(a.listeners, l)
	a.mu.Unlock()
}

// Apply commits a transition requested by a transition tool.
//
// Description:
//
//	Checks, in order:
//	  1. req.To is the current phase: ErrAlreadyInPhase.
//	  2. req.From is not the current phase: ErrStaleTransition.
//	  3. req is not an edge of the graph: ErrInvalidTransition.
//	On success the phase becomes req.To and listeners are notified.
//	Rejections leave the phase unchanged and are returned as
//	*TransitionError. There is no rollback.
//
// Inputs:
//   - ctx: Context for tracing, passed to listeners.
//   - req: The dispatched transition request.
//
// Outputs:
//   - Transition: The committed transition.
//   - error: *TransitionError on rejection.
//
// Thread Safety: Safe for concurrent use.
func (a *Applier) Apply(ctx context.Context, req dispatch.PhaseTransitionRequest) (Transition, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "session.Applier.Apply",
		trace.WithAttributes(
			attribute.String("session.id", a.id),
			attribute.String("replay.from", string(req.From)),
			attribute.String("replay.to", string(req.To)),
			attribute.String("replay.tool", req.ToolName),
		),
	)
	defer span.End()

	a.mu.Lock()
	current := a.phase
	var rejectErr error
	switch {
	case req.To == current:
		rejectErr = ErrAlreadyInPhase
	case req.From != current:
		rejectErr = ErrStaleTransition
	case !a.graph.HasEdge(req.Edge()):
		rejectErr = ErrInvalidTransition
	}
	if rejectErr != nil {
		a.mu.Unlock()
		return Transition{}, a.reject(ctx, span, req.Edge(), current, rejectErr)
	}

	t := Transition{
		From:      current,
		To:        req.To,
		Cause:     CauseTool,
		ToolName:  req.ToolName,
		Arguments: req.Arguments,
		At:        time.Now(),
	}
	listeners := a.commitLocked(t)
	a.mu.Unlock()

	a.notify(ctx, t, listeners)
	return t, nil
}

// Signal commits the analysis-entry transition and stores the recording id.
//
// Description:
//
//	Moves the session from the entry source (normal) to the entry target
//	(analysis). Rejected with ErrAlreadyInPhase when the session already
//	is in the entry target, and with ErrStaleTransition when it is in any
//	other phase.
//
// Inputs:
//   - ctx: Context for tracing, passed to listeners.
//   - sig: The signal. RecordingID must be non-empty.
//
// Outputs:
//   - Transition: The committed transition.
//   - error: ErrMissingRecordingID or *TransitionError.
//
// Thread Safety: Safe for concurrent use.
func (a *Applier) Signal(ctx context.Context, sig AnalysisCompletedSignal) (Transition, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "session.Applier.Signal",
		trace.WithAttributes(
			attribute.String("session.id", a.id),
			attribute.String("replay.recording_id", sig.RecordingID),
		),
	)
	defer span.End()

	if sig.RecordingID == "" {
		recordRejection(ErrMissingRecordingID)
		span.RecordError(ErrMissingRecordingID)
		span.SetStatus(codes.Error, "missing recording id")
		return Transition{}, ErrMissingRecordingID
	}

	a.mu.Lock()
	current := a.phase
	var rejectErr error
	switch current {
	case a.entry.To:
		rejectErr = ErrAlreadyInPhase
	case a.entry.From:
	default:
		rejectErr = ErrStaleTransition
	}
	if rejectErr != nil {
		a.mu.Unlock()
		return Transition{}, a.reject(ctx, span, a.entry, current, rejectErr)
	}

	a.recordingID = sig.RecordingID
	t := Transition{
		From:      current,
		To:        a.entry.To,
		Cause:     CauseAnalysisCompleted,
		Arguments: map[string]any{dispatch.RecordingIDKey: sig.RecordingID},
		At:        time.Now(),
	}
	listeners := a.commitLocked(t)
	a.mu.Unlock()

	a.notify(ctx, t, listeners)
	return t, nil
}

// commitLocked sets the phase and returns the listeners to notify.
// Caller must hold a.mu.
func (a *Applier) commitLocked(t Transition) []Listener {
	a.phase = t.To
	a.history = append(a.history, t)
	listeners := make([]Listener, len(a.listeners))
	copy(listeners, a.listeners)
	return listeners
}

func (a *Applier) notify(ctx context.Context, t Transition, listeners []Listener) {
	recordTransition(t)
	trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("replay.committed", true))
	a.logger.InfoContext(ctx, "Phase transition committed",
		slog.String("session_id", a.id),
		slog.String("from", string(t.From)),
		slog.String("to", string(t.To)),
		slog.String("cause", string(t.Cause)),
		slog.String("tool", t.ToolName),
	)
	for _, l := range listeners {
		l(ctx, t)
	}
}

func (a *Applier) reject(ctx context.Context, span trace.Span, requested phases.Edge, current phases.Phase, sentinel error) error {
	err := &TransitionError{Requested: requested, Current: current, Err: sentinel}
	recordRejection(sentinel)
	span.SetAttributes(attribute.String("replay.rejected", rejectReason(sentinel)))

	if IsTolerated(err) {
		a.logger.WarnContext(ctx, "Phase transition rejected",
			slog.String("session_id", a.id),
			slog.String("from", string(requested.From)),
			slog.String("to", string(requested.To)),
			slog.String("phase", string(current)),
			slog.String("error", sentinel.Error()),
		)
		return err
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "invalid transition")
	a.logger.ErrorContext(ctx, "Invalid phase transition",
		slog.String("session_id", a.id),
		slog.String("from", string(requested.From)),
		slog.String("to", string(requested.To)),
		slog.String("phase", string(current)),
	)
	return err
}
