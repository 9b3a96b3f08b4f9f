// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompts renders the fixed replay prompts: phase-enter prompts,
// the initial-analysis enhancement of the user prompt, and the message for
// command output the user triggered directly.
package prompts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianReplay/services/replay/phases"
)

// TruncationNotice replaces the middle of an over-long message.
const TruncationNotice = "\n[... Observation truncated due to length ...]\n"

// MissingPromptError reports agent-edge destinations without an enter prompt.
type MissingPromptError struct {
	Phases []phases.Phase
}

func (e *MissingPromptError) Error() string {
	names := make([]string, len(e.Phases))
	for i, p := range e.Phases {
		names[i] = string(p)
	}
	return fmt.Sprintf("no enter prompt for phase(s): %s", strings.Join(names, ", "))
}

// Renderer renders phase-enter prompts.
//
// Thread Safety: Immutable after NewRenderer; safe for concurrent use.
type Renderer struct {
	templates map[phases.Phase]*template.Template
}

// NewRenderer parses enter prompts and checks that every destination of an
// agent edge has one.
//
// Inputs:
//   - graph: The phase graph.
//   - enterPrompts: text/template sources keyed by phase. Templates are
//     executed with the arguments of the transition tool.
//
// Outputs:
//   - *Renderer: The renderer.
//   - error: *MissingPromptError, a template parse error, or
//     phases.ErrUnknownPhase for a prompt on an undeclared phase.
func NewRenderer(graph *phases.Graph, enterPrompts map[phases.Phase]string) (*Renderer, error) {
	r := &Renderer{templates: make(map[phases.Phase]*template.Template, len(enterPrompts))}
	for phase, src := range enterPrompts {
		if !graph.Contains(phase) {
			return nil, fmt.Errorf("enter prompt for %q: %w", phase, phases.ErrUnknownPhase)
		}
		tmpl, err := template.New(string(phase)).Option("missingkey=zero").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("parse enter prompt for %q: %w", phase, err)
		}
		r.templates[phase] = tmpl
	}

	var missing []phases.Phase
	for _, dest := range graph.Destinations() {
		if _, ok := r.templates[dest]; !ok {
			missing = append(missing, dest)
		}
	}
	if len(missing) > 0 {
		sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
		return nil, &MissingPromptError{Phases: missing}
	}
	return r, nil
}

// HasPrompt reports whether phase has an enter prompt.
func (r *Renderer) HasPrompt(phase phases.Phase) bool {
	_, ok := r.templates[phase]
	return ok
}

// PhaseEnter renders the prompt shown when the session enters phase.
//
// Returns "" for phases without an enter prompt, such as the analysis
// phase, which is entered through the enhanced user prompt.
func (r *Renderer) PhaseEnter(phase phases.Phase, payload map[string]any) (string, error) {
	tmpl, ok := r.templates[phase]
	if !ok {
		return "", nil
	}
	if payload == nil {
		payload = map[string]any{}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, payload); err != nil {
		return "", fmt.Errorf("render enter prompt for %q: %w", phase, err)
	}
	return strings.TrimRight(buf.String(), "\n") + "\n", nil
}

// EnhanceWithAnalysis appends the analysis instructions and the analysis
// result, as indented JSON, to the user prompt.
func EnhanceWithAnalysis(prompt, instructions string, result map[string]any) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode analysis result: %w", err)
	}
	suffix := instructions + string(data)
	if suffix == "" {
		return prompt, nil
	}
	return prompt + "\n\n" + suffix, nil
}

// UserCommandOutput formats the output of a replay command the user ran
// without a tool call, truncated to maxChars.
func UserCommandOutput(prefix, content string, maxChars int) string {
	return Truncate("\n"+prefix+"\n"+content, maxChars)
}

// Truncate keeps the head and tail of s when it is longer than maxChars
// bytes, joined by TruncationNotice. maxChars <= 0 disables truncation.
// Cuts fall on rune boundaries.
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	half := maxChars / 2
	head := half
	for head > 0 && !utf8.RuneStart(s[head]) {
		head--
	}
	tail := len(s) - half
	for tail < len(s) && !utf8.RuneStart(s[tail]) {
		tail++
	}
	return s[:head] + TruncationNotice + s[tail:]
}
