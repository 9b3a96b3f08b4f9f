// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis drives the initial analysis of a recording.
//
// When the first user message of a session links a recording, the host runs
// the initial-analysis command once. Its result enhances the user prompt and
// yields the recording id that moves the session into the analysis phase.
package analysis

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianReplay/services/replay/phases"
	"github.com/AleutianAI/AleutianReplay/services/replay/prompts"
	"github.com/AleutianAI/AleutianReplay/services/replay/runner"
	"github.com/AleutianAI/AleutianReplay/services/replay/session"
)

// MetadataKey is the result field carrying analysis metadata.
const MetadataKey = "metadata"

var (
	recordingURLPattern = regexp.MustCompile(`\.replay\.io\/recording\/([a-zA-Z0-9-]+)`)

	// Recording slugs may carry a title: "my-title--<id>".
	titledIDPattern = regexp.MustCompile(`^.*?--([a-zA-Z0-9-]+)$`)
)

var analysisResults = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "replay",
		Subsystem: "analysis",
		Name:      "results_total",
		Help:      "Initial analysis results by outcome (signal, no_recording_id, no_metadata, bad_json, command_failed).",
	},
	[]string{"outcome"},
)

// ScanRecordingID returns the recording id linked in text.
//
// Matches ".replay.io/recording/<slug>". When the slug is "<title>--<id>",
// the id after the first "--" is returned.
func ScanRecordingID(text string) (string, bool) {
	m := recordingURLPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	slug := m[1]
	if t := titledIDPattern.FindStringSubmatch(slug); t != nil {
		return t[1], true
	}
	return slug, true
}

// Config configures an Enhancer.
type Config struct {
	// Command is the analysis command name. Empty uses
	// runner.InitialAnalysisCommand.
	Command string

	// Instructions precede the analysis result in the enhanced prompt.
	Instructions string

	// InWorkspaceDir runs the command from the workspace directory.
	InWorkspaceDir bool

	// EntryPhase is the only phase the analysis may start in.
	EntryPhase phases.Phase

	Logger *slog.Logger
}

// Outcome is the processed analysis result.
type Outcome struct {
	// Handled is false when no analysis was pending.
	Handled bool

	// EnhancedPrompt replaces the user prompt. Empty when the result had no
	// metadata.
	EnhancedPrompt string

	// Signal is set when the result carried a recording id.
	Signal *session.AnalysisCompletedSignal

	// Metadata is the metadata object of the result.
	Metadata map[string]any
}

// Enhancer tracks the initial analysis of one session. It starts at most
// once and processes at most one result.
//
// Thread Safety: Safe for concurrent use.
type Enhancer struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	started  bool
	observed bool
	prompt   string
}

// NewEnhancer creates an Enhancer.
func NewEnhancer(cfg Config) *Enhancer {
	if cfg.Command == "" {
		cfg.Command = runner.InitialAnalysisCommand
	}
	if cfg.EntryPhase == "" {
		cfg.EntryPhase = phases.PhaseNormal
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Enhancer{cfg: cfg, logger: logger}
}

// Start returns the analysis command for the latest user message.
//
// Description:
//
//	Returns false when the analysis already started, the session is not in
//	the entry phase, or the message links no recording. On true, the
//	message is kept as the prompt to enhance.
//
// Thread Safety: Safe for concurrent use.
func (e *Enhancer) Start(current phases.Phase, userMessage string) (runner.Command, bool) {
	if current != e.cfg.EntryPhase {
		return runner.Command{}, false
	}
	recordingID, ok := ScanRecordingID(userMessage)
	if !ok {
		return runner.Command{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return runner.Command{}, false
	}
	e.started = true
	e.prompt = userMessage

	e.logger.Info("Starting initial analysis", slog.String("recording_id", recordingID))
	return runner.Command{
		Name:           e.cfg.Command,
		Args:           map[string]any{"prompt": userMessage},
		InWorkspaceDir: e.cfg.InWorkspaceDir,
	}, true
}

// Pending reports whether the analysis started and its result has not been
// processed.
func (e *Enhancer) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started && !e.observed
}

// Fail marks the pending analysis as finished without a result. The session
// stays in the entry phase and the user prompt is used unchanged.
func (e *Enhancer) Fail(ctx context.Context, err error) {
	e.mu.Lock()
	if !e.started || e.observed {
		e.mu.Unlock()
		return
	}
	e.observed = true
	e.mu.Unlock()

	analysisResults.WithLabelValues("command_failed").Inc()
	e.logger.WarnContext(ctx, "Initial analysis failed", slog.String("error", err.Error()))
}

// HandleResult processes the analysis command output.
//
// Description:
//
//	The output must be a JSON object with a "metadata" field. Metadata is
//	split off; the rest enhances the user prompt. metadata.recordingId
//	produces the analysis-completed signal. Unparseable output or missing
//	metadata is logged and yields no signal. Only the first call after
//	Start is processed.
//
// Inputs:
//   - ctx: Context for logging.
//   - output: The command result.
//
// Outputs:
//   - Outcome: The processed result. Handled is false if nothing was pending.
//   - error: Non-nil only if the enhanced prompt cannot be encoded.
func (e *Enhancer) HandleResult(ctx context.Context, output json.RawMessage) (Outcome, error) {
	e.mu.Lock()
	if !e.started || e.observed {
		e.mu.Unlock()
		return Outcome{}, nil
	}
	e.observed = true
	prompt := e.prompt
	e.mu.Unlock()

	var result map[string]any
	if err := json.Unmarshal(output, &result); err != nil || result == nil {
		analysisResults.WithLabelValues("bad_json").Inc()
		e.logger.WarnContext(ctx, "Initial analysis result cannot be interpreted",
			slog.String("content", string(output)),
		)
		return Outcome{Handled: true}, nil
	}

	rawMeta, ok := result[MetadataKey]
	if !ok {
		analysisResults.WithLabelValues("no_metadata").Inc()
		e.logger.WarnContext(ctx, "Initial analysis result missing metadata",
			slog.String("content", string(output)),
		)
		return Outcome{Handled: true}, nil
	}
	metadata, _ := rawMeta.(map[string]any)
	rest := make(map[string]any, len(result)-1)
	for k, v := range result {
		if k != MetadataKey {
			rest[k] = v
		}
	}

	enhanced, err := prompts.EnhanceWithAnalysis(prompt, e.cfg.Instructions, rest)
	if err != nil {
		return Outcome{Handled: true}, err
	}
	out := Outcome{Handled: true, EnhancedPrompt: enhanced, Metadata: metadata}

	recordingID, _ := metadata["recordingId"].(string)
	if recordingID == "" {
		analysisResults.WithLabelValues("no_recording_id").Inc()
		e.logger.WarnContext(ctx, "Initial analysis metadata has no recording id")
		return out, nil
	}

	analysisResults.WithLabelValues("signal").Inc()
	e.logger.InfoContext(ctx, "Initial analysis completed", slog.String("recording_id", recordingID))
	out.Signal = &session.AnalysisCompletedSignal{RecordingID: recordingID}
	return out, nil
}
