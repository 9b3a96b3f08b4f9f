// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package replay serves phase-gated replay debugging sessions over HTTP.
//
// A Service owns the validated workflow catalog and the live sessions. Each
// session starts in the catalog's entry phase; clients fetch the legal tools,
// post model tool calls for dispatch, and signal analysis completion.
package replay

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianReplay/services/replay/agent"
	"github.com/AleutianAI/AleutianReplay/services/replay/config"
	"github.com/AleutianAI/AleutianReplay/services/replay/dispatch"
	"github.com/AleutianAI/AleutianReplay/services/replay/prompts"
	"github.com/AleutianAI/AleutianReplay/services/replay/runner"
)

// DefaultMaxSessions bounds the live sessions of a Service.
const DefaultMaxSessions = 1000

var (
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTooManySessions is returned when MaxSessions sessions are live.
	ErrTooManySessions = errors.New("too many sessions")
)

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// Catalog is the built workflow. Required.
	Catalog *config.Catalog

	// Executor runs replay commands. Required.
	Executor runner.Executor

	// DefaultTools executes host default tools. May be nil.
	DefaultTools agent.DefaultToolHandler

	// AnalysisInWorkspace runs the initial analysis in the workspace dir.
	AnalysisInWorkspace bool

	// MaxSessions bounds live sessions. Zero uses DefaultMaxSessions.
	MaxSessions int

	Logger *slog.Logger
}

// Service holds the live replay sessions.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	cfg        ServiceConfig
	dispatcher *dispatch.Dispatcher
	renderer   *prompts.Renderer
	logger     *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*agent.Session
}

// NewService validates the collaborators and builds the shared dispatcher
// and prompt renderer.
//
// Outputs:
//   - *Service: The service.
//   - error: A missing collaborator or *prompts.MissingPromptError.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Catalog == nil || cfg.Executor == nil {
		return nil, errors.New("replay service: catalog and executor are required")
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	renderer, err := prompts.NewRenderer(cfg.Catalog.Graph, cfg.Catalog.EnterPrompts)
	if err != nil {
		return nil, fmt.Errorf("replay service: %w", err)
	}

	return &Service{
		cfg: cfg,
		dispatcher: dispatch.New(cfg.Catalog.Resolver,
			dispatch.WithStripPattern(cfg.Catalog.StripPattern),
			dispatch.WithLogger(logger),
		),
		renderer: renderer,
		logger:   logger,
		sessions: make(map[string]*agent.Session),
	}, nil
}

// Catalog returns the workflow catalog.
func (s *Service) Catalog() *config.Catalog { return s.cfg.Catalog }

// CreateSession starts a session in the entry phase.
//
// Inputs:
//   - replaySessionID: The replay backend session handle. May be empty.
//
// Outputs:
//   - *agent.Session: The new session.
//   - error: ErrTooManySessions, or a construction error.
func (s *Service) CreateSession(replaySessionID string) (*agent.Session, error) {
	id := uuid.NewString()
	sess, err := agent.NewSession(agent.Config{
		ID:                  id,
		Catalog:             s.cfg.Catalog,
		Dispatcher:          s.dispatcher,
		Renderer:            s.renderer,
		Executor:            s.cfg.Executor,
		DefaultTools:        s.cfg.DefaultTools,
		AnalysisInWorkspace: s.cfg.AnalysisInWorkspace,
		ReplaySessionID:     replaySessionID,
		Logger:              s.logger,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions) >= s.cfg.MaxSessions {
		return nil, ErrTooManySessions
	}
	s.sessions[id] = sess
	s.logger.Info("Replay session created",
		slog.String("session_id", id),
		slog.String("phase", string(sess.Phase())),
	)
	return sess, nil
}

// GetSession returns a live session.
func (s *Service) GetSession(id string) (*agent.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// DeleteSession ends a session.
func (s *Service) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(s.sessions, id)
	s.logger.Info("Replay session deleted", slog.String("session_id", id))
	return nil
}

// SessionCount returns the number of live sessions.
func (s *Service) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
