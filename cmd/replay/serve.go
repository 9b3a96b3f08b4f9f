// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianReplay/services/replay"
	"github.com/AleutianAI/AleutianReplay/services/replay/agent"
	"github.com/AleutianAI/AleutianReplay/services/replay/config"
	"github.com/AleutianAI/AleutianReplay/services/replay/telemetry"
	"github.com/AleutianAI/AleutianReplay/services/replay/tools"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	runtime     config.RuntimeConfig
	enableShell bool
	maxSessions int
	debug       bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{runtime: config.RuntimeFromEnv()}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the replay session API",
		Long: `Serve the replay session API under /v1/replay.

Example requests:

  # Create a session from the first user message
  curl -X POST http://localhost:12230/v1/replay/sessions \
    -d '{"message": "Fix https://app.replay.io/recording/<id>"}'

  # Legal tools for the session's phase
  curl http://localhost:12230/v1/replay/sessions/<sid>/tools

  # Dispatch and execute a model tool call
  curl -X POST http://localhost:12230/v1/replay/sessions/<sid>/dispatch \
    -d '{"id": "call_1", "name": "inspect-point", "arguments": {"point": "p1"}}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), root, opts)
		},
	}

	fs := cmd.Flags()
	addRuntimeFlags(fs, &opts.runtime)
	fs.StringVar(&opts.runtime.ListenAddr, "listen", opts.runtime.ListenAddr, "HTTP listen address")
	fs.BoolVar(&opts.enableShell, "shell", false, "Offer the execute_bash default tool and run it in the workspace")
	fs.IntVar(&opts.maxSessions, "max-sessions", replay.DefaultMaxSessions, "Maximum live sessions")
	fs.BoolVar(&opts.debug, "debug", false, "Enable gin debug mode")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, opts *serveOptions) error {
	logger := root.logger
	rc := opts.runtime
	if err := rc.Validate(); err != nil {
		return err
	}

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	var (
		provider tools.DefaultToolProvider
		handler  agent.DefaultToolHandler
	)
	if opts.enableShell {
		shell := agent.ShellTools{
			Dir:            rc.WorkspaceDir,
			Timeout:        rc.CommandTimeout,
			MaxOutputChars: config.DefaultMaxMessageChars,
		}
		provider, handler = shell, shell
	}

	cat, err := root.loadCatalog(ctx, provider)
	if err != nil {
		return err
	}

	exec, closeCache, err := buildExecutor(rc, cat, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeCache(); err != nil {
			logger.Warn("Failed to close inspection cache", slog.String("error", err.Error()))
		}
	}()

	svc, err := replay.NewService(replay.ServiceConfig{
		Catalog:             cat,
		Executor:            exec,
		DefaultTools:        handler,
		AnalysisInWorkspace: rc.WorkspaceIsRepo,
		MaxSessions:         opts.maxSessions,
		Logger:              logger,
	})
	if err != nil {
		return err
	}

	if opts.debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	extra := map[string]http.Handler{}
	if h := telemetry.MetricsHandler(); h != nil {
		extra["/metrics"] = h
	}
	router := replay.NewRouter(replay.NewHandlers(svc), extra)

	srv := &http.Server{
		Addr:              rc.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting replay server",
			slog.String("address", rc.ListenAddr),
			slog.Bool("shell", opts.enableShell),
			slog.Any("phases", cat.Graph.Phases()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down replay server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
