// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const tracerName = "replay.agent"

var (
	// observationsTotal counts handled tool calls.
	//
	// Labels:
	//   - action: dispatch.ActionKind, or "invalid_call" for undecodable calls
	//   - status: "ok", "warning", "error"
	observationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "agent",
			Name:      "observations_total",
			Help:      "Tool call observations by action kind and status.",
		},
		[]string{"action", "status"},
	)

	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "agent",
			Name:      "turns_total",
			Help:      "Agent loop turns by outcome (tool_call, final, error).",
		},
		[]string{"outcome"},
	)

	skippedCallsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "agent",
			Name:      "skipped_tool_calls_total",
			Help:      "Tool calls skipped because only one call is handled per turn.",
		},
	)
)

func recordObservation(obs Observation) {
	status := "ok"
	switch {
	case obs.IsError:
		status = "error"
	case obs.Warning:
		status = "warning"
	}
	observationsTotal.WithLabelValues(string(obs.Action), status).Inc()
}
