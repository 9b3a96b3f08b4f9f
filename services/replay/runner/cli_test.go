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
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript writes an executable shell script to a temp dir. The script
// copies its input file to input.json next to itself before running body.
func writeScript(t *testing.T, body string) (script string, dir string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tool script tests need a POSIX shell")
	}
	dir = t.TempDir()
	script = filepath.Join(dir, "main-tool.sh")
	content := "#!/bin/sh\ncp \"$1\" \"" + filepath.Join(dir, "input.json") + "\"\n" + body + "\n"
	require.NoError(t, os.WriteFile(script, []byte(content), 0o755))
	return script, dir
}

func readInput(t *testing.T, dir string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "input.json"))
	require.NoError(t, err)
	var in map[string]any
	require.NoError(t, json.Unmarshal(data, &in))
	return in
}

func TestCLIRunner_Success(t *testing.T) {
	script, dir := writeScript(t, `printf '%s' '{"status":"success","result":{"value":42}}' > "$2"`)
	r, err := NewCLIRunner(CLIConfig{Script: script, Timeout: 10 * time.Second})
	require.NoError(t, err)

	res, err := r.Run(context.Background(), Command{
		Name:        "inspect-point",
		Args:        map[string]any{"point": "p1"},
		RecordingID: "r1",
		SessionID:   "s1",
	})
	require.NoError(t, err)
	assert.Equal(t, "inspect-point", res.Command)
	assert.JSONEq(t, `{"value":42}`, res.Content())
	assert.False(t, res.Cached)

	in := readInput(t, dir)
	assert.Equal(t, "inspect-point", in["command"])
	assert.Equal(t, map[string]any{"point": "p1", "recordingId": "r1", "sessionId": "s1"}, in["args"])
}

func TestCLIRunner_InitialAnalysisInWorkspace(t *testing.T) {
	workspace := t.TempDir()
	script, dir := writeScript(t, `pwd > "`+"$(dirname \"$0\")"+`/pwd.txt"
printf '%s' '{"status":"success","result":{"metadata":{"recordingId":"r1"}}}' > "$2"`)
	r, err := NewCLIRunner(CLIConfig{Script: script, WorkspaceDir: workspace})
	require.NoError(t, err)

	_, err = r.Run(context.Background(), Command{
		Name:           InitialAnalysisCommand,
		Args:           map[string]any{"prompt": "fix https://app.replay.io/recording/r1"},
		InWorkspaceDir: true,
	})
	require.NoError(t, err)

	in := readInput(t, dir)
	args := in["args"].(map[string]any)
	assert.Equal(t, workspace, args["workspacePath"])

	pwd, err := os.ReadFile(filepath.Join(dir, "pwd.txt"))
	require.NoError(t, err)
	gotDir, err := filepath.EvalSymlinks(strings.TrimSpace(string(pwd)))
	require.NoError(t, err)
	wantDir, err := filepath.EvalSymlinks(workspace)
	require.NoError(t, err)
	assert.Equal(t, wantDir, gotDir)
}

func TestCLIRunner_Failures(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantKind FailureKind
		check    func(t *testing.T, e *CommandError)
	}{
		{
			name:     "nonzero exit",
			body:     "echo broken; exit 3",
			wantKind: FailureExit,
			check: func(t *testing.T, e *CommandError) {
				assert.Equal(t, 3, e.ExitCode)
				assert.Contains(t, e.Stdout, "broken")
			},
		},
		{
			name:     "empty output",
			body:     ": > \"$2\"",
			wantKind: FailureEmptyOutput,
		},
		{
			name:     "bad json",
			body:     "printf 'not json' > \"$2\"",
			wantKind: FailureBadOutput,
		},
		{
			name:     "error status",
			body:     `printf '%s' '{"status":"error","error":"no such point","errorDetails":{"code":4}}' > "$2"`,
			wantKind: FailureStatus,
			check: func(t *testing.T, e *CommandError) {
				assert.Equal(t, "no such point", e.Message)
				assert.JSONEq(t, `{"code":4}`, e.Details)
				assert.Contains(t, e.Error(), "was not a success: no such point")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script, _ := writeScript(t, tt.body)
			r, err := NewCLIRunner(CLIConfig{Script: script, Timeout: 10 * time.Second})
			require.NoError(t, err)

			_, err = r.Run(context.Background(), Command{Name: "inspect-data", Args: map[string]any{}})
			var cerr *CommandError
			require.True(t, errors.As(err, &cerr), "got %v", err)
			assert.Equal(t, tt.wantKind, cerr.Kind)
			assert.Equal(t, string(tt.wantKind), classifyError(err))
			if tt.check != nil {
				tt.check(t, cerr)
			}
		})
	}
}

func TestCLIRunner_Timeout(t *testing.T) {
	script, _ := writeScript(t, "exec sleep 5")
	r, err := NewCLIRunner(CLIConfig{Script: script, Timeout: 100 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	_, err = r.Run(context.Background(), Command{Name: "inspect-data"})
	var cerr *CommandError
	require.True(t, errors.As(err, &cerr), "got %v", err)
	assert.Equal(t, FailureTimeout, cerr.Kind)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestCLIRunner_CancelledWhileWaitingForLaunch(t *testing.T) {
	script, _ := writeScript(t, `printf '%s' '{"status":"success","result":null}' > "$2"`)
	r, err := NewCLIRunner(CLIConfig{Script: script, Rate: 0.001, Burst: 1})
	require.NoError(t, err)

	_, err = r.Run(context.Background(), Command{Name: "inspect-point"})
	require.NoError(t, err, "first launch uses the burst")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = r.Run(ctx, Command{Name: "inspect-point"})
	assert.Error(t, err)
	var cerr *CommandError
	assert.False(t, errors.As(err, &cerr), "limiter errors are not command errors")
}

func TestCLIRunner_Validation(t *testing.T) {
	_, err := NewCLIRunner(CLIConfig{})
	assert.Error(t, err)

	script, _ := writeScript(t, "exit 0")
	r, err := NewCLIRunner(CLIConfig{Script: script})
	require.NoError(t, err)
	_, err = r.Run(context.Background(), Command{})
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestResult_Content(t *testing.T) {
	assert.Equal(t, "null", Result{}.Content())
	assert.Equal(t, `{"a":1}`, Result{Output: json.RawMessage(`{"a":1}`)}.Content())
}
