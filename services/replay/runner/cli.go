// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// maxStdoutInError bounds the script output kept in a CommandError.
const maxStdoutInError = 4096

// waitDelay bounds how long a killed script's children may hold its output open.
const waitDelay = 5 * time.Second

// CLIConfig configures a CLIRunner.
type CLIConfig struct {
	// Script is the replay tool entry point, run as `<Script> <in> <out>`.
	Script string

	// WorkspaceDir is the agent workspace. It is the working directory of
	// commands with InWorkspaceDir and the workspacePath of the initial
	// analysis.
	WorkspaceDir string

	// Timeout bounds one command. Zero means no timeout beyond ctx.
	Timeout time.Duration

	// Rate is the sustained launch rate per second. Zero disables limiting.
	Rate float64

	// Burst is the launch burst size. Values below 1 are treated as 1.
	Burst int

	// Logger may be nil.
	Logger *slog.Logger
}

// CLIRunner runs replay commands through the replay tool script.
//
// Description:
//
//	For each command the runner writes {"command","args"} to a temporary
//	input file, runs the script with the input and output paths, and reads
//	{"status","result","error","errorDetails"} from the output file.
//	Launches are rate limited; runs are not retried.
//
// Thread Safety: Safe for concurrent use. Each run uses its own files.
type CLIRunner struct {
	script       string
	workspaceDir string
	timeout      time.Duration
	limiter      *rate.Limiter
	logger       *slog.Logger
}

// NewCLIRunner creates a CLIRunner.
//
// Inputs:
//   - cfg: Runner configuration. Script is required.
//
// Outputs:
//   - *CLIRunner: The runner.
//   - error: Non-nil if Script is empty.
func NewCLIRunner(cfg CLIConfig) (*CLIRunner, error) {
	if strings.TrimSpace(cfg.Script) == "" {
		return nil, errors.New("runner: tool script is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}
	return &CLIRunner{
		script:       cfg.Script,
		workspaceDir: cfg.WorkspaceDir,
		timeout:      cfg.Timeout,
		limiter:      limiter,
		logger:       logger,
	}, nil
}

// Run executes one replay command.
//
// Description:
//
//	Waits for the launch limiter, prepares arguments (context ids, and the
//	workspace path for the initial analysis), runs the script and parses
//	its output file.
//
// Inputs:
//   - ctx: Context for cancellation. Cancelling kills the script.
//   - cmd: The command.
//
// Outputs:
//   - Result: The command result on success.
//   - error: *CommandError for script failures, ErrEmptyCommand, or a
//     context error.
//
// Thread Safety: Safe for concurrent use.
func (r *CLIRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "runner.CLIRunner.Run",
		trace.WithAttributes(
			attribute.String("replay.command", cmd.Name),
			attribute.Bool("replay.in_workspace", cmd.InWorkspaceDir),
		),
	)
	defer span.End()
	start := time.Now()

	res, err := r.run(ctx, cmd)
	status := classifyError(err)
	recordCommandMetrics(cmd.Name, status, time.Since(start))
	span.SetAttributes(attribute.String("replay.status", status))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "replay command failed")
		r.logger.WarnContext(ctx, "Replay command failed",
			slog.String("command", cmd.Name),
			slog.String("status", status),
			slog.String("error", err.Error()),
		)
		return Result{}, err
	}

	r.logger.InfoContext(ctx, "Replay command completed",
		slog.String("command", cmd.Name),
		slog.Duration("duration", res.Duration),
		slog.Int("result_bytes", len(res.Output)),
	)
	return res, nil
}

func (r *CLIRunner) run(ctx context.Context, cmd Command) (Result, error) {
	if cmd.Name == "" {
		return Result{}, ErrEmptyCommand
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("wait for launch slot: %w", err)
	}

	input, err := json.Marshal(struct {
		Command string         `json:"command"`
		Args    map[string]any `json:"args"`
	}{Command: cmd.Name, Args: r.prepareArgs(cmd)})
	if err != nil {
		return Result{}, fmt.Errorf("encode replay command %s: %w", cmd.Name, err)
	}

	inPath, err := writeTempFile("replay-in-*.json", input)
	if err != nil {
		return Result{}, &CommandError{Command: cmd.Name, Kind: FailureStart, Err: err}
	}
	defer os.Remove(inPath)

	outPath, err := writeTempFile("replay-out-*.json", nil)
	if err != nil {
		return Result{}, &CommandError{Command: cmd.Name, Kind: FailureStart, Err: err}
	}
	defer os.Remove(outPath)

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	proc := exec.CommandContext(runCtx, r.script, inPath, outPath)
	if cmd.InWorkspaceDir && r.workspaceDir != "" {
		proc.Dir = r.workspaceDir
	}
	proc.WaitDelay = waitDelay
	var stdout bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = &stdout

	r.logger.DebugContext(ctx, "Running replay command",
		slog.String("command", cmd.Name),
		slog.String("script", r.script),
		slog.String("input_path", inPath),
	)

	start := time.Now()
	runErr := proc.Run()
	duration := time.Since(start)

	if runErr != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return Result{}, &CommandError{Command: cmd.Name, Kind: FailureTimeout, ExitCode: -1, Stdout: clip(stdout.String()), Err: runCtx.Err()}
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return Result{}, &CommandError{Command: cmd.Name, Kind: FailureExit, ExitCode: exitErr.ExitCode(), Stdout: clip(stdout.String())}
		}
		return Result{}, &CommandError{Command: cmd.Name, Kind: FailureStart, ExitCode: -1, Err: runErr}
	}

	out, err := readOutput(cmd.Name, outPath, stdout.String())
	if err != nil {
		return Result{}, err
	}
	return Result{Command: cmd.Name, Output: out, Duration: duration}, nil
}

// prepareArgs copies the arguments and adds context fields.
func (r *CLIRunner) prepareArgs(cmd Command) map[string]any {
	args := make(map[string]any, len(cmd.Args)+3)
	for k, v := range cmd.Args {
		args[k] = v
	}
	if cmd.RecordingID != "" {
		args[ArgRecordingID] = cmd.RecordingID
	}
	if cmd.SessionID != "" {
		args[ArgSessionID] = cmd.SessionID
	}
	if cmd.Name == InitialAnalysisCommand && r.workspaceDir != "" {
		args[ArgWorkspacePath] = r.workspaceDir
	}
	return args
}

// toolOutput is the output file written by the replay tool script.
type toolOutput struct {
	Status       string          `json:"status"`
	Result       json.RawMessage `json:"result"`
	Error        json.RawMessage `json:"error"`
	ErrorDetails json.RawMessage `json:"errorDetails"`
}

func readOutput(command, path, stdout string) (json.RawMessage, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, &CommandError{Command: command, Kind: FailureBadOutput, Stdout: clip(stdout), Err: fmt.Errorf("read result: %w", err)}
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, &CommandError{Command: command, Kind: FailureEmptyOutput, Stdout: clip(stdout)}
	}

	var out toolOutput
	if err := json.Unmarshal(content, &out); err != nil {
		return nil, &CommandError{Command: command, Kind: FailureBadOutput, Stdout: clip(stdout), Err: err}
	}
	if out.Status != StatusSuccess {
		return nil, &CommandError{
			Command: command,
			Kind:    FailureStatus,
			Message: rawText(out.Error),
			Details: rawText(out.ErrorDetails),
		}
	}
	return out.Result, nil
}

// writeTempFile creates a temp file holding data. The tool script may run as
// another user, so the file is world read-writable.
func writeTempFile(pattern string, data []byte) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(name, 0o666); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("chmod temp file: %w", err)
	}
	return name, nil
}

// rawText renders a JSON value for an error message. Strings are unquoted.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func clip(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStdoutInError {
		return s[:maxStdoutInError] + "...(truncated)"
	}
	return s
}
