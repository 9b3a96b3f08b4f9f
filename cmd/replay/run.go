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
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianReplay/services/llm"
	"github.com/AleutianAI/AleutianReplay/services/replay"
	"github.com/AleutianAI/AleutianReplay/services/replay/agent"
	"github.com/AleutianAI/AleutianReplay/services/replay/config"
	"github.com/AleutianAI/AleutianReplay/services/replay/telemetry"
)

// defaultSystemPrompt frames the model for the debugging workflow.
const defaultSystemPrompt = `You are a debugging agent working on a web application.
You investigate bugs with the replay inspection tools, state a hypothesis, and then fix the code in the workspace.
Only the tools offered on each turn are available. Call one tool at a time.`

type runOptions struct {
	runtime      config.RuntimeConfig
	baseURL      string
	systemPrompt string
	temperature  float32
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{runtime: config.RuntimeFromEnv(), temperature: -1}

	cmd := &cobra.Command{
		Use:   "run [message]",
		Short: "Run the debugging agent against an OpenAI-compatible model",
		Long: `Run the agent loop on one task.

The message is the first user message; when it links a recording
(https://app.replay.io/recording/<id>), the initial analysis runs first and
the session starts in the analysis phase. Pass "-" to read the message
from stdin.

Requires OPENAI_API_KEY (or --base-url for a compatible local server).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := readMessage(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return runAgent(cmd.Context(), cmd.OutOrStdout(), root, opts, msg)
		},
	}

	fs := cmd.Flags()
	addRuntimeFlags(fs, &opts.runtime)
	fs.StringVar(&opts.runtime.Model, "model", opts.runtime.Model, "Chat model")
	fs.IntVar(&opts.runtime.MaxSteps, "max-steps", opts.runtime.MaxSteps, "Maximum model calls")
	fs.StringVar(&opts.baseURL, "base-url", "", "OpenAI-compatible API base URL")
	fs.StringVar(&opts.systemPrompt, "system-prompt", defaultSystemPrompt, "System prompt")
	fs.Float32Var(&opts.temperature, "temperature", opts.temperature, "Sampling temperature (negative uses the model default)")
	return cmd
}

// readMessage joins args, or reads stdin when the only arg is "-".
func readMessage(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		args = []string{string(data)}
	}
	msg := strings.TrimSpace(strings.Join(args, " "))
	if msg == "" {
		return "", errors.New("message is empty")
	}
	return msg, nil
}

// newChatClient uses explicit credentials when given and the environment
// (including the mounted secret) otherwise.
func newChatClient(model, baseURL string) (llm.ToolChatClient, error) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" || baseURL != "" {
		return llm.NewOpenAIClientWithConfig(key, model, baseURL), nil
	}
	return llm.NewOpenAIClient()
}

func runAgent(ctx context.Context, out io.Writer, root *rootOptions, opts *runOptions, msg string) error {
	logger := root.logger
	rc := opts.runtime
	if err := rc.Validate(); err != nil {
		return err
	}

	telCfg := telemetry.DefaultConfig()
	telCfg.ServiceName = "aleutian-replay-run"
	telCfg.MetricExporter = "none"
	shutdownTelemetry, err := telemetry.Init(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	shell := agent.ShellTools{
		Dir:            rc.WorkspaceDir,
		Timeout:        rc.CommandTimeout,
		MaxOutputChars: config.DefaultMaxMessageChars,
	}
	cat, err := root.loadCatalog(ctx, shell)
	if err != nil {
		return err
	}

	exec, closeCache, err := buildExecutor(rc, cat, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeCache() }()

	svc, err := replay.NewService(replay.ServiceConfig{
		Catalog:             cat,
		Executor:            exec,
		DefaultTools:        shell,
		AnalysisInWorkspace: rc.WorkspaceIsRepo,
		MaxSessions:         1,
		Logger:              logger,
	})
	if err != nil {
		return err
	}
	sess, err := svc.CreateSession("")
	if err != nil {
		return err
	}

	client, err := newChatClient(rc.Model, opts.baseURL)
	if err != nil {
		return err
	}

	params := llm.GenerationParams{ModelOverride: rc.Model}
	if opts.temperature >= 0 {
		t := opts.temperature
		params.Temperature = &t
	}

	logger.Info("Starting agent run",
		slog.String("session_id", sess.ID()),
		slog.String("model", rc.Model),
		slog.Int("max_steps", rc.MaxSteps),
	)
	loop := agent.NewLoop(client, sess,
		agent.WithSystemPrompt(opts.systemPrompt),
		agent.WithMaxSteps(rc.MaxSteps),
		agent.WithGenerationParams(params),
		agent.WithLoopLogger(logger),
	)
	result, runErr := loop.Run(ctx, msg)
	printRunResult(out, sess, result)
	return runErr
}

// printRunResult writes the phase history and the final answer.
func printRunResult(w io.Writer, sess *agent.Session, result *agent.RunResult) {
	fmt.Fprintln(w, headerStyle.Render("Phase history"))
	history := sess.History()
	if len(history) == 0 {
		fmt.Fprintln(w, dimStyle.Render("  (no transitions)"))
	}
	for _, t := range history {
		via := t.ToolName
		if via == "" {
			via = string(t.Cause)
		}
		fmt.Fprintf(w, "  %s -> %s %s\n", phaseStyle.Render(string(t.From)), phaseStyle.Render(string(t.To)), dimStyle.Render("("+via+")"))
	}
	fmt.Fprintln(w)

	if result == nil {
		return
	}
	fmt.Fprintf(w, "%s %d   %s %s\n\n",
		dimStyle.Render("steps:"), result.Steps,
		dimStyle.Render("phase:"), phaseStyle.Render(string(result.Phase)),
	)
	if result.FinalContent != "" {
		fmt.Fprintln(w, okStyle.Render("Final answer"))
		fmt.Fprintln(w, result.FinalContent)
	} else {
		fmt.Fprintln(w, warnStyle.Render("No final answer"))
	}
}
