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
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianReplay/services/replay/phases"
)

var (
	// ErrAlreadyInPhase is returned when a transition targets the current
	// phase. Tolerated: the phase is unchanged.
	ErrAlreadyInPhase = errors.New("already in phase")

	// ErrStaleTransition is returned when a transition's source is no longer
	// the current phase. Tolerated: the phase is unchanged.
	ErrStaleTransition = errors.New("stale transition")

	// ErrInvalidTransition is returned when the requested edge is not an
	// agent edge of the graph.
	ErrInvalidTransition = errors.New("transition is not an edge of the phase graph")

	// ErrMissingRecordingID is returned when an analysis-completed signal
	// carries no recording id.
	ErrMissingRecordingID = errors.New("analysis completed signal has no recording id")
)

// TransitionError describes a rejected transition.
type TransitionError struct {
	// Requested is the transition that was asked for.
	Requested phases.Edge

	// Current is the phase at the time of the request.
	Current phases.Phase

	// Err is one of ErrAlreadyInPhase, ErrStaleTransition, ErrInvalidTransition.
	Err error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition %s rejected in phase %q: %v", e.Requested, e.Current, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// IsTolerated reports whether err is a rejection the host answers with a
// warning and another turn rather than aborting.
func IsTolerated(err error) bool {
	return errors.Is(err, ErrAlreadyInPhase) || errors.Is(err, ErrStaleTransition)
}

// rejectReason returns the metric label for a rejection.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyInPhase):
		return "already_in_phase"
	case errors.Is(err, ErrStaleTransition):
		return "stale"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid"
	case errors.Is(err, ErrMissingRecordingID):
		return "missing_recording_id"
	default:
		return "other"
	}
}
