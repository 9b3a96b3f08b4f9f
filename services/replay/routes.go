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
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// ServiceName identifies the replay server in traces.
const ServiceName = "aleutian-replay"

// RegisterRoutes registers all replay routes with the router.
//
// Description:
//
//	Registers all /v1/replay/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST   /v1/replay/sessions - Create a session
//	GET    /v1/replay/sessions/:id - Session phase, recording and history
//	DELETE /v1/replay/sessions/:id - End a session
//	GET    /v1/replay/sessions/:id/tools - Tools legal in the current phase
//	POST   /v1/replay/sessions/:id/dispatch - Dispatch one model tool call
//	POST   /v1/replay/sessions/:id/signals/analysis-completed - Enter analysis
//	POST   /v1/replay/sessions/:id/commands - Run a user-issued replay command
//	GET    /v1/replay/health - Health check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	replay := rg.Group("/replay")
	{
		replay.POST("/sessions", handlers.HandleCreateSession)
		replay.GET("/sessions/:id", handlers.HandleGetSession)
		replay.DELETE("/sessions/:id", handlers.HandleDeleteSession)
		replay.GET("/sessions/:id/tools", handlers.HandleListTools)
		replay.POST("/sessions/:id/dispatch", handlers.HandleDispatch)
		replay.POST("/sessions/:id/signals/analysis-completed", handlers.HandleAnalysisCompleted)
		replay.POST("/sessions/:id/commands", handlers.HandleUserCommand)

		replay.GET("/health", handlers.HandleHealth)
	}
}

// NewRouter builds the Gin engine with recovery and tracing middleware,
// the replay routes, and optional extra handlers such as /metrics.
func NewRouter(handlers *Handlers, extra map[string]http.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(ServiceName))

	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)

	for path, h := range extra {
		router.GET(path, gin.WrapH(h))
	}
	return router
}
