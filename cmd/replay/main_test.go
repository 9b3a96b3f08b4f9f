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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianReplay/services/llm"
	"github.com/AleutianAI/AleutianReplay/services/replay/runner"
	badgerstore "github.com/AleutianAI/AleutianReplay/services/replay/storage/badger"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestGraphCmd(t *testing.T) {
	out, err := execute(t, "graph")
	require.NoError(t, err)

	for _, want := range []string{
		"normal", "analysis", "confirm_analysis", "edit",
		"submit", "confirm", "inspect-data", "inspect-point",
		"catalog is valid",
	} {
		assert.Contains(t, out, want)
	}
}

func TestGraphCmd_InvalidWorkflow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\nphases: []\n"), 0o600))

	_, err := execute(t, "graph", "--workflow", path)
	assert.Error(t, err)

	_, err = execute(t, "graph", "--workflow", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestToolsCmd(t *testing.T) {
	t.Run("one phase", func(t *testing.T) {
		out, err := execute(t, "tools", "--phase", "analysis")
		require.NoError(t, err)

		var defs []llm.ToolDef
		require.NoError(t, json.Unmarshal([]byte(out), &defs))
		var names []string
		for _, d := range defs {
			names = append(names, d.Function.Name)
		}
		assert.Equal(t, []string{"inspect-data", "inspect-point", "submit"}, names)
	})

	t.Run("all phases", func(t *testing.T) {
		out, err := execute(t, "tools")
		require.NoError(t, err)

		var all map[string][]llm.ToolDef
		require.NoError(t, json.Unmarshal([]byte(out), &all))
		assert.Len(t, all, 4)
		require.Len(t, all["normal"], 1)
		assert.Equal(t, "execute_bash", all["normal"][0].Function.Name)
	})

	t.Run("unknown phase", func(t *testing.T) {
		_, err := execute(t, "tools", "--phase", "review")
		assert.Error(t, err)
	})
}

func TestDispatchCmd(t *testing.T) {
	t.Run("inspection strips explanations and injects the recording", func(t *testing.T) {
		out, err := execute(t, "dispatch",
			"--phase", "analysis",
			"--recording", "r1",
			"--call", `{"id":"c1","name":"inspect-data","arguments":{"expression":"x","point":"p","explanation":"why"}}`,
		)
		require.NoError(t, err)

		var got struct {
			Kind   string `json:"kind"`
			Action struct {
				ToolName  string         `json:"tool_name"`
				Arguments map[string]any `json:"arguments"`
			} `json:"action"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, "inspection", got.Kind)
		assert.Equal(t, "inspect-data", got.Action.ToolName)
		assert.NotContains(t, got.Action.Arguments, "explanation")
		assert.Equal(t, "r1", got.Action.Arguments["recordingId"])
	})

	t.Run("tool of another phase is unrecognized", func(t *testing.T) {
		out, err := execute(t, "dispatch", "--phase", "edit", "--call", `{"name":"submit","arguments":{}}`)
		require.NoError(t, err)
		assert.Contains(t, out, `"kind": "unrecognized"`)
	})

	t.Run("missing call", func(t *testing.T) {
		_, err := execute(t, "dispatch", "--phase", "analysis")
		assert.Error(t, err)
	})

	t.Run("bad call JSON", func(t *testing.T) {
		_, err := execute(t, "dispatch", "--call", "{")
		assert.Error(t, err)
	})
}

func TestCacheDumpCmd(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		out, err := execute(t, "cache", "dump", "--path", filepath.Join(t.TempDir(), "none"))
		require.NoError(t, err)
		assert.Contains(t, out, "does not exist")
	})

	t.Run("entries", func(t *testing.T) {
		dir := t.TempDir()
		db, err := badgerstore.Open(badgerstore.DefaultConfig(dir))
		require.NoError(t, err)
		cache := runner.NewInspectionCache(db, 0, nil)
		require.NoError(t, cache.Put(context.Background(),
			runner.Command{Name: "inspect-point", Args: map[string]any{"point": "p1"}, RecordingID: "r1"},
			json.RawMessage(`{"dependencies":[]}`),
		))
		require.NoError(t, db.Close())

		out, err := execute(t, "cache", "dump", "--path", dir)
		require.NoError(t, err)
		assert.Contains(t, out, "Found 1 cache entry")
		assert.Contains(t, out, "inspect-point")
		assert.Contains(t, out, "Recording: r1")
		assert.Contains(t, out, "remaining")
		assert.Contains(t, out, `{"dependencies":[]}`)
	})
}

func TestReadMessage(t *testing.T) {
	msg, err := readMessage([]string{"fix", "it"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "fix it", msg)

	msg, err = readMessage([]string{"-"}, strings.NewReader("  from stdin\n"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", msg)

	_, err = readMessage([]string{"  "}, nil)
	assert.Error(t, err)
}

func TestRunCmd_RequiresMessage(t *testing.T) {
	_, err := execute(t, "run")
	assert.Error(t, err)
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "ab ...", sample("ab  cd", 2))
	assert.Equal(t, "a b", sample("a\n b", 10))
	assert.Equal(t, "12 bytes", formatBytes(12))
	assert.Equal(t, "2.0 KB (2048 bytes)", formatBytes(2048))
	assert.Equal(t, "y", plural(1, "y", "ies"))
	assert.Equal(t, "ies", plural(2, "y", "ies"))
}
