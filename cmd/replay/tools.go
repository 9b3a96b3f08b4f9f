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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianReplay/services/llm"
	"github.com/AleutianAI/AleutianReplay/services/replay/agent"
	"github.com/AleutianAI/AleutianReplay/services/replay/phases"
)

func newToolsCmd(root *rootOptions) *cobra.Command {
	var phase string

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Print the legal tool schema for a phase as JSON",
		Long: `Print the function-calling schema of the tools legal in a phase.

Without --phase, prints an object keyed by phase name.

Examples:
  replay tools --phase analysis
  replay tools | jq '.edit[].function.name'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := root.loadCatalog(cmd.Context(), agent.ShellTools{})
			if err != nil {
				return err
			}

			var out any
			if phase != "" {
				set, err := cat.Resolver.LegalToolSet(phases.Phase(phase))
				if err != nil {
					return err
				}
				out = set.Defs()
			} else {
				all := make(map[phases.Phase][]llm.ToolDef)
				for _, p := range cat.Graph.Phases() {
					set, err := cat.Resolver.LegalToolSet(p)
					if err != nil {
						return err
					}
					all[p] = set.Defs()
				}
				out = all
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("encode tools: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&phase, "phase", "", "Phase name (default: all phases)")
	return cmd
}
