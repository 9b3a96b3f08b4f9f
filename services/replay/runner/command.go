// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runner executes replay commands.
//
// A replay command is a named request to the replay tool script, which
// reads a JSON input file and writes a JSON output file. Inspection tools
// and the initial analysis both run through an Executor.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// InitialAnalysisCommand is the internal command that analyzes a recording.
const InitialAnalysisCommand = "initial-analysis"

// StatusSuccess is the output status of a successful command.
const StatusSuccess = "success"

// Argument keys injected by the runner.
const (
	ArgRecordingID   = "recordingId"
	ArgSessionID     = "sessionId"
	ArgWorkspacePath = "workspacePath"
)

// Command is one replay command.
type Command struct {
	// Name is the command name, e.g. "inspect-data" or "initial-analysis".
	Name string `json:"command"`

	// Args are the command arguments.
	Args map[string]any `json:"args"`

	// InWorkspaceDir runs the script from the workspace directory.
	InWorkspaceDir bool `json:"-"`

	// RecordingID and SessionID are added to Args when non-empty.
	RecordingID string `json:"-"`
	SessionID   string `json:"-"`
}

// Result is the successful output of a command.
type Result struct {
	// Command is the command name.
	Command string

	// Output is the JSON "result" field of the tool output.
	Output json.RawMessage

	// Duration is the wall time of the run. Zero for cache hits.
	Duration time.Duration

	// Cached is true when Output came from the inspection cache.
	Cached bool
}

// Content returns Output as text for a model message. A missing result
// renders as "null".
func (r Result) Content() string {
	if len(r.Output) == 0 {
		return "null"
	}
	return string(r.Output)
}

// Executor runs replay commands.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Executor interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, cmd Command) (Result, error)

// Run calls f.
func (f ExecutorFunc) Run(ctx context.Context, cmd Command) (Result, error) {
	return f(ctx, cmd)
}

// =============================================================================
// Errors
// =============================================================================

// ErrEmptyCommand is returned for a command without a name.
var ErrEmptyCommand = errors.New("replay command name is empty")

// FailureKind classifies a command failure.
type FailureKind string

const (
	FailureStart       FailureKind = "start"
	FailureExit        FailureKind = "exit"
	FailureTimeout     FailureKind = "timeout"
	FailureEmptyOutput FailureKind = "empty_output"
	FailureBadOutput   FailureKind = "bad_output"
	FailureStatus      FailureKind = "status"
)

// CommandError reports a failed replay command. It is propagated to the
// host, which turns it into an error observation for the model.
type CommandError struct {
	Command  string
	Kind     FailureKind
	ExitCode int

	// Stdout is the captured script output, truncated.
	Stdout string

	// Message and Details are the tool's "error" and "errorDetails" fields
	// for FailureStatus.
	Message string
	Details string

	Err error
}

func (e *CommandError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "replay command %q ", e.Command)
	switch e.Kind {
	case FailureExit:
		fmt.Fprintf(&b, "failed with exit code %d", e.ExitCode)
	case FailureTimeout:
		b.WriteString("timed out")
	case FailureEmptyOutput:
		b.WriteString("produced an empty result")
	case FailureBadOutput:
		b.WriteString("produced an unparseable result")
	case FailureStatus:
		fmt.Fprintf(&b, "was not a success: %s", e.Message)
		if e.Details != "" {
			fmt.Fprintf(&b, " (errorDetails=%s)", e.Details)
		}
	default:
		b.WriteString("could not run")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Stdout != "" && e.Kind != FailureStatus {
		fmt.Fprintf(&b, ": STDOUT=%s", e.Stdout)
	}
	return b.String()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
