// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the replay workflow catalog and runtime settings.
//
// The workflow catalog (phases, edges, tools, per-phase policy, prompts) is
// embedded as YAML and may be overridden by an external file. It is parsed
// and validated once and cached for the life of the process.
//
// Thread Safety:
//
//	All exported functions and types are safe for concurrent use.
package config

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianReplay/services/replay/phases"
	"github.com/AleutianAI/AleutianReplay/services/replay/tools"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxYAMLFileSize is the maximum allowed workflow YAML size (1MB).
	MaxYAMLFileSize = 1024 * 1024

	// WorkflowPathEnv overrides the embedded workflow catalog.
	WorkflowPathEnv = "REPLAY_WORKFLOW_PATH"

	// DefaultInitialAnalysisCommand is the replay command run on the first turn.
	DefaultInitialAnalysisCommand = "initial-analysis"

	// DefaultMaxMessageChars bounds user-triggered command output.
	DefaultMaxMessageChars = 30000

	// DefaultStripArgumentPattern marks model-facing reasoning arguments.
	DefaultStripArgumentPattern = "explanation"

	// DefaultUserCommandPrefix precedes output of user-triggered commands.
	DefaultUserCommandPrefix = "Observed result of replay command executed by user:"
)

// =============================================================================
// Embedded Default Catalog
// =============================================================================

//go:embed workflow.yaml
var defaultWorkflowYAML []byte

// DefaultWorkflowYAML returns a copy of the embedded catalog.
func DefaultWorkflowYAML() []byte {
	out := make([]byte, len(defaultWorkflowYAML))
	copy(out, defaultWorkflowYAML)
	return out
}

// =============================================================================
// Metrics and Tracing
// =============================================================================

var (
	workflowLoadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "replay",
		Subsystem: "config",
		Name:      "workflow_load_errors_total",
		Help:      "Total workflow catalog load errors",
	})

	workflowLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "replay",
		Subsystem: "config",
		Name:      "workflow_load_duration_seconds",
		Help:      "Duration of workflow catalog loading",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5},
	})
)

var workflowTracer = otel.Tracer("replay.config.workflow")

// validate is the shared struct validator.
var validate = validator.New()

// =============================================================================
// Types
// =============================================================================

// WorkflowConfig is the root of the workflow catalog YAML.
type WorkflowConfig struct {
	Version              int                                 `yaml:"version" validate:"required,eq=1"`
	Phases               []PhaseConfig                       `yaml:"phases" validate:"required,min=1,dive"`
	AnalysisEntry        phases.Edge                         `yaml:"analysis_entry"`
	Edges                []phases.Edge                       `yaml:"edges"`
	StripArgumentPattern string                              `yaml:"strip_argument_pattern"`
	Tools                []ToolConfig                        `yaml:"tools" validate:"required,min=1,dive"`
	Policy               map[phases.Phase]tools.PhasePolicy `yaml:"policy"`
	InitialAnalysis      InitialAnalysisConfig               `yaml:"initial_analysis"`
}

// PhaseConfig declares one phase. EnterPrompt is a text/template rendered
// with the arguments of the transition tool that entered the phase.
type PhaseConfig struct {
	Name        phases.Phase `yaml:"name" validate:"required"`
	EnterPrompt string       `yaml:"enter_prompt"`
}

// ToolConfig declares one replay tool.
type ToolConfig struct {
	Name        string        `yaml:"name" validate:"required"`
	Kind        tools.Kind    `yaml:"kind" validate:"required,oneof=analysis transition"`
	Description string        `yaml:"description" validate:"required"`
	Parameters  *tools.Schema `yaml:"parameters"`
	Edges       []phases.Edge `yaml:"edges"`
}

// InitialAnalysisConfig controls the first-turn recording analysis.
type InitialAnalysisConfig struct {
	// Command is the replay command name.
	Command string `yaml:"command"`

	// Instructions precede the JSON analysis result appended to the user prompt.
	Instructions string `yaml:"instructions"`

	// UserCommandPrefix precedes output of commands the user ran directly.
	UserCommandPrefix string `yaml:"user_command_prefix"`

	// MaxMessageChars truncates user-triggered command output.
	MaxMessageChars int `yaml:"max_message_chars" validate:"gte=0"`
}

// Catalog is a validated, ready-to-use workflow.
//
// Thread Safety: Immutable after Build; safe for concurrent use.
type Catalog struct {
	Graph           *phases.Graph
	Registry        *tools.Registry
	Resolver        *tools.Resolver
	AnalysisEntry   phases.Edge
	EnterPrompts    map[phases.Phase]string
	StripPattern    string
	InitialAnalysis InitialAnalysisConfig
}

// =============================================================================
// Singleton
// =============================================================================

var (
	workflowMu      sync.RWMutex
	workflowOnce    sync.Once
	cachedWorkflow  *WorkflowConfig
	workflowLoadErr error
)

// GetWorkflowConfig returns the cached workflow catalog.
//
// Description:
//
//	Loads the catalog on first call: the file named by REPLAY_WORKFLOW_PATH,
//	else ./config/workflow.yaml, else the embedded default. An external file
//	that cannot be read falls back to the embedded default with a warning;
//	an external file that is read but invalid is an error.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//
// Outputs:
//
//	*WorkflowConfig - The validated catalog. Never nil on success.
//	error - Non-nil if parsing or validation failed.
//
// Thread Safety: Safe for concurrent use.
func GetWorkflowConfig(ctx context.Context) (*WorkflowConfig, error) {
	if ctx == nil {
		return nil, fmt.Errorf("GetWorkflowConfig: ctx must not be nil")
	}

	workflowMu.RLock()
	if cachedWorkflow != nil || workflowLoadErr != nil {
		cfg, err := cachedWorkflow, workflowLoadErr
		workflowMu.RUnlock()
		return cfg, err
	}
	workflowMu.RUnlock()

	workflowMu.Lock()
	defer workflowMu.Unlock()

	if cachedWorkflow != nil || workflowLoadErr != nil {
		return cachedWorkflow, workflowLoadErr
	}

	workflowOnce.Do(func() {
		cachedWorkflow, workflowLoadErr = loadWorkflow(ctx)
	})

	return cachedWorkflow, workflowLoadErr
}

// ResetWorkflowConfig clears the cached catalog.
//
// WARNING: Intended for tests only.
func ResetWorkflowConfig() {
	workflowMu.Lock()
	defer workflowMu.Unlock()
	workflowOnce = sync.Once{}
	cachedWorkflow = nil
	workflowLoadErr = nil
}

// =============================================================================
// Loading
// =============================================================================

func loadWorkflow(ctx context.Context) (*WorkflowConfig, error) {
	ctx, span := workflowTracer.Start(ctx, "config.LoadWorkflow")
	defer span.End()

	start := time.Now()
	defer func() {
		workflowLoadDuration.Observe(time.Since(start).Seconds())
	}()

	data := defaultWorkflowYAML
	source := "embedded"
	if path := externalWorkflowPath(); path != "" {
		external, err := loadExternalYAML(ctx, path)
		if err == nil {
			data = external
			source = "external"
			slog.Info("Loaded workflow catalog from external file", slog.String("path", path))
		} else {
			slog.Warn("External workflow catalog not available, using embedded default",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}
	span.SetAttributes(attribute.String("source", source))

	cfg, err := LoadWorkflowConfig(ctx, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		workflowLoadErrors.Inc()
		return nil, err
	}
	return cfg, nil
}

// externalWorkflowPath returns the override path, or "" when none exists.
func externalWorkflowPath() string {
	if path := os.Getenv(WorkflowPathEnv); path != "" {
		return path
	}
	const loc = "./config/workflow.yaml"
	if _, err := os.Stat(loc); err == nil {
		abs, _ := filepath.Abs(loc)
		return abs
	}
	return ""
}

// loadExternalYAML reads an override file with path and size checks.
func loadExternalYAML(ctx context.Context, path string) ([]byte, error) {
	_, span := workflowTracer.Start(ctx, "config.LoadExternal",
		trace.WithAttributes(attribute.String("path", path)),
	)
	defer span.End()

	if strings.Contains(filepath.ToSlash(path), "../") {
		return nil, fmt.Errorf("loadExternalYAML: path traversal not allowed: %s", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.Size() > MaxYAMLFileSize {
		return nil, fmt.Errorf("YAML file too large: %d bytes (max %d)", info.Size(), MaxYAMLFileSize)
	}
	span.SetAttributes(attribute.Int64("file_size", info.Size()))

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// LoadWorkflowConfig parses and validates a catalog from YAML bytes.
//
// Description:
//
//	Parses the YAML, applies defaults for missing fields, runs struct
//	validation, then checks cross references (tool kinds vs edges, policy
//	names). Graph and partition checks run in Build.
//
// Inputs:
//
//	ctx - Context for tracing.
//	data - Raw YAML bytes.
//
// Outputs:
//
//	*WorkflowConfig - The validated catalog.
//	error - Non-nil if parsing or validation fails.
func LoadWorkflowConfig(ctx context.Context, data []byte) (*WorkflowConfig, error) {
	_, span := workflowTracer.Start(ctx, "config.LoadWorkflowConfig")
	defer span.End()

	if len(data) == 0 {
		return nil, fmt.Errorf("LoadWorkflowConfig: empty YAML data")
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("LoadWorkflowConfig: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var cfg WorkflowConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("LoadWorkflowConfig: parsing YAML: %w", err)
	}

	if cfg.StripArgumentPattern == "" {
		cfg.StripArgumentPattern = DefaultStripArgumentPattern
	}
	if cfg.InitialAnalysis.Command == "" {
		cfg.InitialAnalysis.Command = DefaultInitialAnalysisCommand
	}
	if cfg.InitialAnalysis.MaxMessageChars == 0 {
		cfg.InitialAnalysis.MaxMessageChars = DefaultMaxMessageChars
	}
	if cfg.InitialAnalysis.UserCommandPrefix == "" {
		cfg.InitialAnalysis.UserCommandPrefix = DefaultUserCommandPrefix
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("LoadWorkflowConfig: validation: %w", err)
	}
	if err := validateWorkflowConfig(&cfg); err != nil {
		return nil, fmt.Errorf("LoadWorkflowConfig: validation: %w", err)
	}

	span.SetAttributes(
		attribute.Int("phases", len(cfg.Phases)),
		attribute.Int("edges", len(cfg.Edges)),
		attribute.Int("tools", len(cfg.Tools)),
	)

	slog.Info("workflow catalog loaded",
		slog.Int("phases", len(cfg.Phases)),
		slog.Int("edges", len(cfg.Edges)),
		slog.Int("tools", len(cfg.Tools)),
	)

	return &cfg, nil
}

// validateWorkflowConfig checks cross references the struct tags cannot express.
func validateWorkflowConfig(cfg *WorkflowConfig) error {
	if cfg.AnalysisEntry.From == "" || cfg.AnalysisEntry.To == "" {
		return fmt.Errorf("analysis_entry: from and to must not be empty")
	}
	if cfg.AnalysisEntry.From == cfg.AnalysisEntry.To {
		return fmt.Errorf("analysis_entry: from and to must differ (%s)", cfg.AnalysisEntry.From)
	}

	for i, tc := range cfg.Tools {
		switch tc.Kind {
		case tools.KindAnalysis:
			if len(tc.Edges) > 0 {
				return fmt.Errorf("tools[%d] (%s): analysis tools must not bind edges", i, tc.Name)
			}
		case tools.KindTransition:
			if len(tc.Edges) == 0 {
				return fmt.Errorf("tools[%d] (%s): transition tools must bind at least one edge", i, tc.Name)
			}
		}
		if tc.Parameters != nil {
			if err := tc.Parameters.Validate(); err != nil {
				return fmt.Errorf("tools[%d] (%s): parameters: %w", i, tc.Name, err)
			}
		}
	}

	for phase, pp := range cfg.Policy {
		for j, name := range pp.AnalysisTools {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("policy.%s.analysis_tools[%d]: name must not be empty", phase, j)
			}
		}
	}
	return nil
}

// =============================================================================
// Build
// =============================================================================

// Build turns the catalog into a graph, sealed registry and resolver.
//
// Description:
//
//	Builds the phase graph, registers every tool in declaration order,
//	seals the registry (edge partition check) and validates the policy.
//	Also checks that the analysis entry names declared phases and that
//	adding it to the agent edges neither forks a phase nor closes a cycle.
//
// Inputs:
//
//	defaults - Host default tools. May be nil.
//
// Outputs:
//
//	*Catalog - The ready workflow.
//	error - *phases.GraphError, *tools.PartitionError,
//	        *tools.DuplicateToolNameError, or a wrapped validation error.
func (c *WorkflowConfig) Build(defaults tools.DefaultToolProvider) (*Catalog, error) {
	names := make([]phases.Phase, len(c.Phases))
	prompts := make(map[phases.Phase]string)
	for i, pc := range c.Phases {
		names[i] = pc.Name
		if pc.EnterPrompt != "" {
			prompts[pc.Name] = pc.EnterPrompt
		}
	}

	graph, err := phases.NewGraph(names, c.Edges)
	if err != nil {
		return nil, err
	}
	if !graph.Contains(c.AnalysisEntry.From) || !graph.Contains(c.AnalysisEntry.To) {
		return nil, fmt.Errorf("analysis_entry %s: %w", c.AnalysisEntry, phases.ErrUnknownPhase)
	}
	// The entry is not an agent edge, but together with them it must still
	// form a graph with one exit per phase and no cycle.
	withEntry := append(slices.Clone(c.Edges), c.AnalysisEntry)
	if _, err := phases.NewGraph(names, withEntry); err != nil {
		return nil, fmt.Errorf("analysis_entry %s: %w", c.AnalysisEntry, err)
	}

	registry := tools.NewRegistry()
	for _, tc := range c.Tools {
		var tool tools.Tool
		switch tc.Kind {
		case tools.KindAnalysis:
			tool = tools.NewAnalysisTool(tc.Name, tc.Description, tc.Parameters)
		case tools.KindTransition:
			tool = tools.NewTransitionTool(tc.Name, tc.Description, tc.Parameters, tc.Edges...)
		default:
			return nil, fmt.Errorf("tool %s: %w: unknown kind %q", tc.Name, tools.ErrInvalidTool, tc.Kind)
		}
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}
	if err := registry.Seal(graph); err != nil {
		return nil, err
	}

	resolver, err := tools.NewResolver(registry, tools.Policy(c.Policy), defaults)
	if err != nil {
		return nil, err
	}

	return &Catalog{
		Graph:           graph,
		Registry:        registry,
		Resolver:        resolver,
		AnalysisEntry:   c.AnalysisEntry,
		EnterPrompts:    prompts,
		StripPattern:    c.StripArgumentPattern,
		InitialAnalysis: c.InitialAnalysis,
	}, nil
}

// LoadCatalog loads the cached workflow and builds it.
func LoadCatalog(ctx context.Context, defaults tools.DefaultToolProvider) (*Catalog, error) {
	cfg, err := GetWorkflowConfig(ctx)
	if err != nil {
		return nil, err
	}
	return cfg.Build(defaults)
}
