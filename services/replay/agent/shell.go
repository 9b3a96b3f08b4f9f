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
	"os/exec"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianReplay/services/llm"
	"github.com/AleutianAI/AleutianReplay/services/replay/dispatch"
	"github.com/AleutianAI/AleutianReplay/services/replay/prompts"
)

// ShellToolName is the default tool that runs a shell command.
const ShellToolName = "execute_bash"

// ErrUnknownDefaultTool is returned for default tool names the handler does
// not own.
var ErrUnknownDefaultTool = errors.New("unknown default tool")

// ShellTools is the minimal host toolbox for `replay run`: a single bash
// tool that runs in the workspace.
//
// It implements tools.DefaultToolProvider and DefaultToolHandler.
type ShellTools struct {
	// Dir is the working directory of every command.
	Dir string

	// Timeout bounds one command. Zero means no limit beyond ctx.
	Timeout time.Duration

	// MaxOutputChars truncates the combined output. Zero disables it.
	MaxOutputChars int
}

// DefaultTools returns the bash tool definition.
func (ShellTools) DefaultTools() []llm.ToolDef {
	return []llm.ToolDef{{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        ShellToolName,
			Description: "Run a bash command in the workspace and return its combined output and exit code.",
			Parameters: llm.ToolParameters{
				Type: "object",
				Properties: map[string]llm.ToolParamDef{
					"command": {Type: "string", Description: "The bash command to run."},
				},
				Required: []string{"command"},
			},
		},
	}}
}

// HandleDefaultTool runs the command. A nonzero exit is reported in the
// output, not as an error.
func (s ShellTools) HandleDefaultTool(ctx context.Context, req dispatch.DefaultToolRequest) (string, error) {
	if req.ToolName != ShellToolName {
		return "", fmt.Errorf("%w: %s", ErrUnknownDefaultTool, req.ToolName)
	}
	command, _ := req.Arguments["command"].(string)
	if strings.TrimSpace(command) == "" {
		return "", errors.New("command is required")
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = s.Dir
	cmd.WaitDelay = time.Second
	out, err := cmd.CombinedOutput()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			return "", fmt.Errorf("command did not finish: %w", ctx.Err())
		case errors.As(err, &exitErr):
			exitCode = exitErr.ExitCode()
		default:
			return "", err
		}
	}
	return prompts.Truncate(fmt.Sprintf("%s\n[exit code: %d]", strings.TrimRight(string(out), "\n"), exitCode), s.MaxOutputChars), nil
}
