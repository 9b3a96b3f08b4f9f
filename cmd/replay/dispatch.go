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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianReplay/services/llm"
	"github.com/AleutianAI/AleutianReplay/services/replay/agent"
	"github.com/AleutianAI/AleutianReplay/services/replay/dispatch"
	"github.com/AleutianAI/AleutianReplay/services/replay/phases"
)

// dispatchOutput is the JSON printed by `replay dispatch`.
type dispatchOutput struct {
	Kind   dispatch.ActionKind `json:"kind"`
	Action dispatch.Action     `json:"action"`
}

func newDispatchCmd(root *rootOptions) *cobra.Command {
	var (
		phase           string
		call            string
		recordingID     string
		replaySessionID string
	)

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Classify one tool call without executing it",
		Long: `Dispatch a tool call against a phase and print the resulting action.

Nothing is executed: inspections show the arguments that would be sent,
transitions show the edge that would be applied.

Example:
  replay dispatch --phase analysis --recording r1 \
    --call '{"name":"inspect-data","arguments":{"expression":"x","point":"p","explanation":"why"}}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if call == "" {
				return errors.New("--call is required")
			}
			var tc llm.ToolCallResponse
			if err := json.Unmarshal([]byte(call), &tc); err != nil {
				return fmt.Errorf("parse --call: %w", err)
			}

			cat, err := root.loadCatalog(cmd.Context(), agent.ShellTools{})
			if err != nil {
				return err
			}
			d := dispatch.New(cat.Resolver,
				dispatch.WithStripPattern(cat.StripPattern),
				dispatch.WithLogger(root.logger),
			)
			action, err := d.DispatchResponse(cmd.Context(), tc, dispatch.State{
				Phase:           phases.Phase(phase),
				RecordingID:     recordingID,
				ReplaySessionID: replaySessionID,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(dispatchOutput{Kind: action.Kind(), Action: action})
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&phase, "phase", string(phases.PhaseNormal), "Current phase")
	fs.StringVar(&call, "call", "", `Tool call JSON: {"id":..., "name":..., "arguments":{...}}`)
	fs.StringVar(&recordingID, "recording", "", "Recording id of the session")
	fs.StringVar(&replaySessionID, "replay-session", "", "Replay backend session id")
	return cmd
}
