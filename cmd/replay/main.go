// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command replay hosts the phase-gated replay debugging workflow.
//
// The workflow moves an agent through normal -> analysis -> confirm_analysis
// -> edit. Each phase exposes a fixed tool set; transition tools advance the
// phase and the initial analysis of a linked recording enters analysis.
//
// Usage:
//
//	replay graph                               # validate and print the catalog
//	replay tools --phase analysis              # legal tool schema as JSON
//	replay dispatch --phase analysis --call '{"name":"inspect-point","arguments":{"point":"p1"}}'
//	replay serve --listen :12230               # HTTP API under /v1/replay
//	replay run "Fix https://app.replay.io/recording/<id>"
//	replay cache dump --path ~/.aleutian/cache/replay
//
// Environment:
//
//	REPLAY_WORKFLOW_PATH   workflow catalog override
//	REPLAY_TOOL_SCRIPT     replay command entry point
//	REPLAY_WORKSPACE_DIR   agent workspace
//	REPLAY_CACHE_DIR       persistent inspection cache
//	OPENAI_API_KEY         chat model credentials for `replay run`
//	OTEL_TRACES_EXPORTER   otlp, stdout, or none
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
