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
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianReplay/services/replay/config"
	"github.com/AleutianAI/AleutianReplay/services/replay/runner"
	badgerstore "github.com/AleutianAI/AleutianReplay/services/replay/storage/badger"
)

// buildExecutor wires the replay CLI runner behind the inspection cache.
//
// The returned close function releases the cache database and is never nil.
func buildExecutor(rc config.RuntimeConfig, cat *config.Catalog, logger *slog.Logger) (runner.Executor, func() error, error) {
	noop := func() error { return nil }

	cli, err := runner.NewCLIRunner(runner.CLIConfig{
		Script:       rc.ToolScript,
		WorkspaceDir: rc.WorkspaceDir,
		Timeout:      rc.CommandTimeout,
		Rate:         rc.CommandRate,
		Burst:        rc.CommandBurst,
		Logger:       logger,
	})
	if err != nil {
		return nil, noop, err
	}
	if rc.DisableCache {
		logger.Info("Inspection cache disabled")
		return cli, noop, nil
	}

	dbCfg := badgerstore.InMemoryConfig()
	if rc.CacheDir != "" {
		dbCfg = badgerstore.DefaultConfig(rc.CacheDir)
		dbCfg.Logger = logger
	}
	db, err := badgerstore.Open(dbCfg)
	if err != nil {
		return nil, noop, fmt.Errorf("open inspection cache: %w", err)
	}

	var cacheable []string
	for _, t := range cat.Registry.AnalysisTools() {
		cacheable = append(cacheable, t.Name())
	}
	cache := runner.NewInspectionCache(db, rc.CacheTTL, logger)
	logger.Info("Inspection cache opened",
		slog.String("path", rc.CacheDir),
		slog.Bool("in_memory", db.InMemory()),
		slog.Duration("ttl", rc.CacheTTL),
		slog.Any("commands", cacheable),
	)
	return runner.NewCachedExecutor(cli, cache, cacheable, logger), db.Close, nil
}
