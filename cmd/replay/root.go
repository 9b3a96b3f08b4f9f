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
	"fmt"
	"log/slog"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/AleutianAI/AleutianReplay/services/replay/config"
	"github.com/AleutianAI/AleutianReplay/services/replay/telemetry"
	"github.com/AleutianAI/AleutianReplay/services/replay/tools"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	logFormat    string
	logLevel     string
	workflowPath string

	logger *slog.Logger
}

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7C3AED")).Bold(true)
	phaseStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#06B6D4")).Bold(true)
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
)

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "replay",
		Short:         "Phase-gated replay debugging workflow",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			opts.logger = telemetry.NewLogger(cmd.ErrOrStderr(), opts.logFormat, opts.logLevel)
			slog.SetDefault(opts.logger)
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")
	pf.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&opts.workflowPath, "workflow", "", "Workflow catalog YAML (overrides "+config.WorkflowPathEnv+")")

	cmd.AddCommand(
		newGraphCmd(opts),
		newToolsCmd(opts),
		newDispatchCmd(opts),
		newServeCmd(opts),
		newRunCmd(opts),
		newCacheCmd(opts),
	)
	return cmd
}

// loadCatalog builds the workflow catalog from --workflow, or from the
// environment and embedded default.
func (o *rootOptions) loadCatalog(ctx context.Context, defaults tools.DefaultToolProvider) (*config.Catalog, error) {
	if o.workflowPath == "" {
		return config.LoadCatalog(ctx, defaults)
	}
	info, err := os.Stat(o.workflowPath)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", o.workflowPath, err)
	}
	if info.Size() > config.MaxYAMLFileSize {
		return nil, fmt.Errorf("workflow %s: file too large (%d bytes)", o.workflowPath, info.Size())
	}
	data, err := os.ReadFile(o.workflowPath)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", o.workflowPath, err)
	}
	wf, err := config.LoadWorkflowConfig(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", o.workflowPath, err)
	}
	return wf.Build(defaults)
}

// addRuntimeFlags binds the replay command runtime settings.
func addRuntimeFlags(fs *pflag.FlagSet, rc *config.RuntimeConfig) {
	fs.StringVar(&rc.ToolScript, "tool-script", rc.ToolScript, "Replay command entry point")
	fs.StringVar(&rc.WorkspaceDir, "workspace", rc.WorkspaceDir, "Agent workspace directory")
	fs.BoolVar(&rc.WorkspaceIsRepo, "workspace-is-repo", rc.WorkspaceIsRepo, "Run the initial analysis inside the workspace")
	fs.DurationVar(&rc.CommandTimeout, "command-timeout", rc.CommandTimeout, "Timeout for one replay command")
	fs.Float64Var(&rc.CommandRate, "command-rate", rc.CommandRate, "Replay command launches per second")
	fs.IntVar(&rc.CommandBurst, "command-burst", rc.CommandBurst, "Replay command launch burst")
	fs.StringVar(&rc.CacheDir, "cache-dir", rc.CacheDir, "Persistent inspection cache directory (empty keeps it in memory)")
	fs.DurationVar(&rc.CacheTTL, "cache-ttl", rc.CacheTTL, "Lifetime of a cached inspection result")
	fs.BoolVar(&rc.DisableCache, "no-cache", rc.DisableCache, "Disable the inspection cache")
}
