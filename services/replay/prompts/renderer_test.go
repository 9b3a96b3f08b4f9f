// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prompts

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianReplay/services/replay/config"
	"github.com/AleutianAI/AleutianReplay/services/replay/phases"
)

func defaultRenderer(t *testing.T) *Renderer {
	t.Helper()
	cfg, err := config.LoadWorkflowConfig(context.Background(), config.DefaultWorkflowYAML())
	require.NoError(t, err)
	cat, err := cfg.Build(nil)
	require.NoError(t, err)
	r, err := NewRenderer(cat.Graph, cat.EnterPrompts)
	require.NoError(t, err)
	return r
}

func TestNewRenderer_Coverage(t *testing.T) {
	g := phases.MustNewGraph(phases.DefaultPhases(), phases.DefaultEdges())

	_, err := NewRenderer(g, map[phases.Phase]string{phases.PhaseEdit: "edit now"})
	var missing *MissingPromptError
	require.True(t, errors.As(err, &missing), "got %v", err)
	assert.Equal(t, []phases.Phase{phases.PhaseConfirmAnalysis}, missing.Phases)

	_, err = NewRenderer(g, map[phases.Phase]string{
		phases.PhaseConfirmAnalysis: "ok",
		phases.PhaseEdit:            "ok",
		"review":                    "ok",
	})
	assert.ErrorIs(t, err, phases.ErrUnknownPhase)

	_, err = NewRenderer(g, map[phases.Phase]string{
		phases.PhaseConfirmAnalysis: "{{.problem",
		phases.PhaseEdit:            "ok",
	})
	assert.Error(t, err)
}

func TestPhaseEnter_ConfirmAnalysis(t *testing.T) {
	r := defaultRenderer(t)

	out, err := r.PhaseEnter(phases.PhaseConfirmAnalysis, map[string]any{
		"problem":             "The list crashes on empty input.",
		"rootCauseHypothesis": "items[0] is read before the length check.",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Problem: The list crashes on empty input.")
	assert.Contains(t, out, "Root cause hypothesis: items[0] is read before the length check.")
	assert.NotContains(t, out, "Edit suggestions")
	assert.NotContains(t, out, "<no value>")
	assert.Contains(t, out, "call `confirm`")

	out, err = r.PhaseEnter(phases.PhaseConfirmAnalysis, map[string]any{
		"problem":         "p",
		"editSuggestions": "guard the read",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Edit suggestions: guard the read")
	assert.Contains(t, out, "Root cause hypothesis: (not provided)")
}

func TestPhaseEnter_Edit(t *testing.T) {
	r := defaultRenderer(t)

	out, err := r.PhaseEnter(phases.PhaseEdit, map[string]any{"hypothesis": "Guard the read."})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "You have concluded the analysis."))
	assert.Contains(t, out, "Confirmed hypothesis: Guard the read.")

	out, err = r.PhaseEnter(phases.PhaseEdit, nil)
	require.NoError(t, err)
	assert.NotContains(t, out, "Confirmed hypothesis")
	assert.Contains(t, out, "NOW implement the hypothesized changes")
}

func TestPhaseEnter_NoPrompt(t *testing.T) {
	r := defaultRenderer(t)
	assert.False(t, r.HasPrompt(phases.PhaseAnalysis))
	out, err := r.PhaseEnter(phases.PhaseAnalysis, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestEnhanceWithAnalysis(t *testing.T) {
	out, err := EnhanceWithAnalysis("Fix the bug.", "# Initial Analysis\n", map[string]any{
		"IMPORTANT_NOTES": "check the loop",
		"thisPoint":       "p1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Fix the bug.\n\n# Initial Analysis\n{\n  \"IMPORTANT_NOTES\": \"check the loop\",\n  \"thisPoint\": \"p1\"\n}", out)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "unbounded", Truncate("unbounded", 0))

	long := strings.Repeat("a", 50) + strings.Repeat("b", 50)
	out := Truncate(long, 20)
	assert.True(t, strings.HasPrefix(out, strings.Repeat("a", 10)+TruncationNotice))
	assert.True(t, strings.HasSuffix(out, strings.Repeat("b", 10)))

	// Multi-byte runes are never split.
	out = Truncate(strings.Repeat("é", 30), 11)
	assert.True(t, utf8.ValidString(out))
}

func TestUserCommandOutput(t *testing.T) {
	out := UserCommandOutput("Observed result of replay command executed by user:", `{"ok":true}`, 0)
	assert.Equal(t, "\nObserved result of replay command executed by user:\n{\"ok\":true}", out)
}
