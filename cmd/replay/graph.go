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
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianReplay/services/replay/agent"
	"github.com/AleutianAI/AleutianReplay/services/replay/config"
	"github.com/AleutianAI/AleutianReplay/services/replay/prompts"
	"github.com/AleutianAI/AleutianReplay/services/replay/tools"
)

func newGraphCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Validate the workflow catalog and print its phases, edges and tools",
		Long: `Validate the workflow catalog and print it.

Validation covers the phase graph (unique names, acyclic, at most one
outgoing edge per phase), the tool partition (every agent edge bound by
exactly one transition tool), tool name uniqueness, and enter prompts for
every agent edge destination. Any failure exits non-zero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := root.loadCatalog(cmd.Context(), agent.ShellTools{})
			if err != nil {
				return err
			}
			if _, err := prompts.NewRenderer(cat.Graph, cat.EnterPrompts); err != nil {
				return err
			}
			return printCatalog(cmd.OutOrStdout(), cat)
		},
	}
}

// printCatalog writes a styled summary of cat to w.
func printCatalog(w io.Writer, cat *config.Catalog) error {
	fmt.Fprintln(w, headerStyle.Render("Workflow catalog"))
	fmt.Fprintln(w)

	fmt.Fprintln(w, headerStyle.Render("Phases"))
	for _, p := range cat.Graph.Phases() {
		next, ok, err := cat.Resolver.NextPhase(p)
		if err != nil {
			return err
		}
		line := "  " + phaseStyle.Render(string(p))
		if ok {
			line += dimStyle.Render(" -> " + string(next))
		} else {
			line += dimStyle.Render(" (terminal)")
		}
		if _, has := cat.EnterPrompts[p]; has {
			line += dimStyle.Render("  [enter prompt]")
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "  %s %s\n\n", dimStyle.Render("analysis entry:"), cat.AnalysisEntry)

	fmt.Fprintln(w, headerStyle.Render("Tools"))
	for _, t := range cat.Registry.All() {
		detail := string(t.Kind())
		if tt, ok := t.(*tools.TransitionTool); ok {
			edges := make([]string, 0, len(tt.Edges()))
			for _, e := range tt.Edges() {
				edges = append(edges, e.String())
			}
			detail += ": " + strings.Join(edges, ", ")
		}
		fmt.Fprintf(w, "  %s %s\n", toolStyle.Render("◆ "+t.Name()), dimStyle.Render("("+detail+")"))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, headerStyle.Render("Legal tools per phase"))
	for _, p := range cat.Graph.Phases() {
		set, err := cat.Resolver.LegalToolSet(p)
		if err != nil {
			return err
		}
		names := set.Names()
		if len(names) == 0 {
			names = []string{"(none)"}
		}
		fmt.Fprintf(w, "  %-18s %s\n", phaseStyle.Render(string(p)), strings.Join(names, ", "))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, okStyle.Render("✓ catalog is valid"))
	return nil
}
