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
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const tracerName = "replay.runner"

var (
	// commandTotal counts replay command runs.
	//
	// Labels:
	//   - command: The command name.
	//   - status: "success" or a FailureKind, or "cancelled"
	commandTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "runner",
			Name:      "commands_total",
			Help:      "Total replay commands run by command and status.",
		},
		[]string{"command", "status"},
	)

	commandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "replay",
			Subsystem: "runner",
			Name:      "command_duration_seconds",
			Help:      "Duration of replay commands in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 600},
		},
		[]string{"command"},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "runner",
			Name:      "cache_lookups_total",
			Help:      "Inspection cache lookups by result (hit, miss, error).",
		},
		[]string{"result"},
	)
)

func recordCommandMetrics(command, status string, duration time.Duration) {
	commandTotal.WithLabelValues(command, status).Inc()
	commandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// classifyError returns the status label for a run error.
func classifyError(err error) string {
	if err == nil {
		return StatusSuccess
	}
	var cerr *CommandError
	if errors.As(err, &cerr) {
		return string(cerr.Kind)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "error"
}
