// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Runtime defaults.
const (
	DefaultToolScript     = "/replay/replayapi/main-tool.sh"
	DefaultCommandTimeout = 600 * time.Second
	DefaultCommandRate    = 2.0
	DefaultCommandBurst   = 4
	DefaultCacheTTL       = 24 * time.Hour
	DefaultListenAddr     = ":12230"
	DefaultMaxSteps       = 50
	DefaultModel          = "gpt-4o-mini"
)

// RuntimeConfig holds process settings for the replay host.
//
// Description:
//
//	Populated from defaults and REPLAY_* environment variables by
//	RuntimeFromEnv. The CLI overlays flags on top before calling Validate.
//
// Thread Safety: Treat as immutable after Validate.
type RuntimeConfig struct {
	// ToolScript is the replay command entry point, run as `<script> <in> <out>`.
	ToolScript string `validate:"required"`

	// WorkspaceDir is the agent workspace. Commands flagged in-workspace run there.
	WorkspaceDir string `validate:"required"`

	// WorkspaceIsRepo runs the initial analysis inside the workspace.
	WorkspaceIsRepo bool

	// CommandTimeout bounds one replay command.
	CommandTimeout time.Duration `validate:"gt=0"`

	// CommandRate is the sustained replay command launch rate per second.
	CommandRate float64 `validate:"gt=0"`

	// CommandBurst is the launch burst size.
	CommandBurst int `validate:"gte=1"`

	// CacheDir persists inspection results. Empty keeps the cache in memory.
	CacheDir string

	// CacheTTL is the lifetime of a cached inspection result.
	CacheTTL time.Duration `validate:"gte=0"`

	// DisableCache turns the inspection cache off.
	DisableCache bool

	// ListenAddr is the HTTP listen address for `replay serve`.
	ListenAddr string `validate:"required"`

	// MaxSteps bounds the agent loop.
	MaxSteps int `validate:"gte=1"`

	// Model is the chat model used by `replay run`.
	Model string `validate:"required"`
}

// RuntimeFromEnv builds a RuntimeConfig from defaults and the environment.
//
// Unparseable numeric values are logged and replaced by their default.
func RuntimeFromEnv() RuntimeConfig {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return RuntimeConfig{
		ToolScript:      getEnvOr("REPLAY_TOOL_SCRIPT", DefaultToolScript),
		WorkspaceDir:    getEnvOr("REPLAY_WORKSPACE_DIR", wd),
		WorkspaceIsRepo: getEnvBool("REPLAY_WORKSPACE_IS_REPO", true),
		CommandTimeout:  getEnvDuration("REPLAY_COMMAND_TIMEOUT", DefaultCommandTimeout),
		CommandRate:     getEnvFloat("REPLAY_COMMAND_RATE", DefaultCommandRate),
		CommandBurst:    getEnvInt("REPLAY_COMMAND_BURST", DefaultCommandBurst),
		CacheDir:        os.Getenv("REPLAY_CACHE_DIR"),
		CacheTTL:        getEnvDuration("REPLAY_CACHE_TTL", DefaultCacheTTL),
		DisableCache:    getEnvBool("REPLAY_DISABLE_CACHE", false),
		ListenAddr:      getEnvOr("REPLAY_LISTEN_ADDR", DefaultListenAddr),
		MaxSteps:        getEnvInt("REPLAY_MAX_STEPS", DefaultMaxSteps),
		Model:           getEnvOr("OPENAI_MODEL", DefaultModel),
	}
}

// Validate checks field constraints.
func (c *RuntimeConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("runtime config: %w", err)
	}
	return nil
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring invalid integer setting", slog.String("key", key), slog.String("value", v))
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("Ignoring invalid float setting", slog.String("key", key), slog.String("value", v))
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("Ignoring invalid boolean setting", slog.String("key", key), slog.String("value", v))
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("Ignoring invalid duration setting", slog.String("key", key), slog.String("value", v))
		return fallback
	}
	return d
}
