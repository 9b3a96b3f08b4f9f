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
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianReplay/services/llm"
	"github.com/AleutianAI/AleutianReplay/services/replay/agent"
	"github.com/AleutianAI/AleutianReplay/services/replay/runner"
	"github.com/AleutianAI/AleutianReplay/services/replay/session"
	"github.com/AleutianAI/AleutianReplay/services/replay/telemetry"
)

// RequestIDHeader carries the client request id.
const RequestIDHeader = "X-Request-ID"

// Handlers serves the replay HTTP API.
//
// Thread Safety: Safe for concurrent use.
type Handlers struct {
	svc *Service
}

// NewHandlers creates Handlers for svc.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

func getOrCreateRequestID(c *gin.Context) string {
	id := c.GetHeader(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Header(RequestIDHeader, id)
	return id
}

// lookupSession writes a 404 and returns nil when the session is unknown.
func (h *Handlers) lookupSession(c *gin.Context) *agent.Session {
	sess, err := h.svc.GetSession(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "SESSION_NOT_FOUND"})
		return nil
	}
	return sess
}

func (h *Handlers) sessionResponse(sess *agent.Session) SessionResponse {
	state := sess.State()
	resp := SessionResponse{
		ID:              sess.ID(),
		Phase:           state.Phase,
		RecordingID:     state.RecordingID,
		ReplaySessionID: state.ReplaySessionID,
		Tools:           []string{},
		History:         sess.History(),
	}
	if set, err := sess.ToolSet(); err == nil {
		resp.Tools = set.Names()
	}
	if resp.History == nil {
		resp.History = []session.Transition{}
	}
	return resp
}

// HandleCreateSession handles POST /v1/replay/sessions.
//
// Description:
//
//	Creates a session in the entry phase. When the request carries a first
//	user message that links a recording, the initial analysis runs and the
//	enhanced prompt is returned.
//
// Response:
//
//	201 Created: SessionResponse
//	400 Bad Request: Invalid body
//	429 Too Many Requests: Session limit reached
//	502 Bad Gateway: The initial analysis could not run
func (h *Handlers) HandleCreateSession(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(),
		slog.With("request_id", requestID, "handler", "HandleCreateSession"))

	var req CreateSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
			return
		}
	}

	sess, err := h.svc.CreateSession(req.ReplaySessionID)
	if err != nil {
		if errors.Is(err, ErrTooManySessions) {
			c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: err.Error(), Code: "TOO_MANY_SESSIONS"})
			return
		}
		logger.Error("create session failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to create session", Code: "INTERNAL_ERROR"})
		return
	}

	var prompt string
	if req.Message != "" {
		prompt, err = sess.PrepareUserMessage(c.Request.Context(), req.Message)
		if err != nil {
			logger.Error("initial analysis failed",
				slog.String("session_id", sess.ID()),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error(), Code: "ANALYSIS_FAILED"})
			return
		}
	}

	resp := h.sessionResponse(sess)
	resp.Prompt = prompt
	c.JSON(http.StatusCreated, resp)
}

// HandleGetSession handles GET /v1/replay/sessions/:id.
func (h *Handlers) HandleGetSession(c *gin.Context) {
	getOrCreateRequestID(c)
	sess := h.lookupSession(c)
	if sess == nil {
		return
	}
	c.JSON(http.StatusOK, h.sessionResponse(sess))
}

// HandleDeleteSession handles DELETE /v1/replay/sessions/:id.
func (h *Handlers) HandleDeleteSession(c *gin.Context) {
	getOrCreateRequestID(c)
	if err := h.svc.DeleteSession(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "SESSION_NOT_FOUND"})
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleListTools handles GET /v1/replay/sessions/:id/tools.
//
// Returns the tool schema legal in the current phase, in dispatch order:
// work tools first, transition tools last.
func (h *Handlers) HandleListTools(c *gin.Context) {
	getOrCreateRequestID(c)
	sess := h.lookupSession(c)
	if sess == nil {
		return
	}
	set, err := sess.ToolSet()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "TOOLSET_FAILED"})
		return
	}
	c.JSON(http.StatusOK, ToolsResponse{Phase: set.Phase(), Tools: set.Defs()})
}

// HandleDispatch handles POST /v1/replay/sessions/:id/dispatch.
//
// Description:
//
//	Dispatches one model tool call and executes the resulting action.
//	Tool-level failures (unknown tool, failed command, tolerated
//	transition rejection) are part of the observation and return 200.
//
// Response:
//
//	200 OK: DispatchResponse
//	400 Bad Request: Invalid body
//	404 Not Found: Unknown session
//	500 Internal Server Error: A dispatch invariant was violated
func (h *Handlers) HandleDispatch(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(),
		slog.With("request_id", requestID, "handler", "HandleDispatch"))

	sess := h.lookupSession(c)
	if sess == nil {
		return
	}
	var req DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	obs, err := sess.HandleToolCall(c.Request.Context(), llm.ToolCallResponse{
		ID:        req.ID,
		Name:      req.Name,
		Arguments: req.Arguments,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			c.JSON(http.StatusRequestTimeout, ErrorResponse{Error: err.Error(), Code: "CANCELED"})
			return
		}
		logger.Error("dispatch failed",
			slog.String("session_id", sess.ID()),
			slog.String("tool", req.Name),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   err.Error(),
			Code:    "DISPATCH_FAILED",
			TraceID: telemetry.TraceID(c.Request.Context()),
		})
		return
	}
	c.JSON(http.StatusOK, DispatchResponse{Observation: obs, Phase: sess.Phase()})
}

// HandleAnalysisCompleted handles POST /v1/replay/sessions/:id/signals/analysis-completed.
//
// Response:
//
//	200 OK: SignalResponse
//	400 Bad Request: Missing recording id
//	409 Conflict: Already in the analysis phase, or past it
func (h *Handlers) HandleAnalysisCompleted(c *gin.Context) {
	getOrCreateRequestID(c)
	sess := h.lookupSession(c)
	if sess == nil {
		return
	}
	var sig session.AnalysisCompletedSignal
	if err := c.ShouldBindJSON(&sig); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	t, err := sess.Signal(c.Request.Context(), sig)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, SignalResponse{Transition: t, Phase: sess.Phase()})
	case errors.Is(err, session.ErrAlreadyInPhase):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "ALREADY_IN_PHASE"})
	case errors.Is(err, session.ErrStaleTransition):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "STALE_TRANSITION"})
	case errors.Is(err, session.ErrMissingRecordingID):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "MISSING_RECORDING_ID"})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "SIGNAL_FAILED"})
	}
}

// HandleUserCommand handles POST /v1/replay/sessions/:id/commands.
//
// Runs a replay command the user issued directly and returns its output
// formatted as a user message.
func (h *Handlers) HandleUserCommand(c *gin.Context) {
	getOrCreateRequestID(c)
	sess := h.lookupSession(c)
	if sess == nil {
		return
	}
	var req UserCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	msg, err := sess.RunUserCommand(c.Request.Context(), runner.Command{Name: req.Command, Args: req.Args})
	if err != nil {
		var cerr *runner.CommandError
		if errors.As(err, &cerr) {
			c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error(), Code: "COMMAND_FAILED"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "INTERNAL_ERROR"})
		return
	}
	c.JSON(http.StatusOK, UserCommandResponse{Message: msg})
}

// HandleHealth handles GET /v1/replay/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:   "healthy",
		Sessions: h.svc.SessionCount(),
		Phases:   h.svc.Catalog().Graph.Phases(),
	})
}
