// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const tracerName = "replay.dispatch"

var (
	// dispatchTotal counts dispatched tool calls.
	//
	// Labels:
	//   - phase: The phase the call was made in.
	//   - kind: "inspection", "transition", "default_tool", "unrecognized", "error"
	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "dispatch",
			Name:      "calls_total",
			Help:      "Total tool calls dispatched by phase and resulting action kind.",
		},
		[]string{"phase", "kind"},
	)

	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "replay",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Duration of tool call dispatch in seconds.",
			Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
		},
		[]string{"kind"},
	)
)

func recordDispatchMetrics(phase string, kind ActionKind, duration time.Duration) {
	dispatchTotal.WithLabelValues(phase, string(kind)).Inc()
	dispatchDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
}
