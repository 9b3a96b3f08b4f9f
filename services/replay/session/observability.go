// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const tracerName = "replay.session"

var (
	// transitionsTotal counts committed phase transitions.
	//
	// Labels:
	//   - from, to: The edge taken.
	//   - cause: "tool" or "analysis_completed"
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Total committed phase transitions.",
		},
		[]string{"from", "to", "cause"},
	)

	// rejectedTotal counts transitions that were not applied.
	rejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "session",
			Name:      "transitions_rejected_total",
			Help:      "Total rejected phase transitions by reason.",
		},
		[]string{"reason"},
	)
)

func recordTransition(t Transition) {
	transitionsTotal.WithLabelValues(string(t.From), string(t.To), string(t.Cause)).Inc()
}

func recordRejection(err error) {
	rejectedTotal.WithLabelValues(rejectReason(err)).Inc()
}
