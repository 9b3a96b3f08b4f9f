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
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianReplay/services/replay/runner"
	badgerstore "github.com/AleutianAI/AleutianReplay/services/replay/storage/badger"
)

// sampleChars bounds the output preview of a dumped entry.
const sampleChars = 120

func newCacheCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the persistent inspection cache",
	}
	cmd.AddCommand(newCacheDumpCmd(root))
	return cmd
}

// dumpEntry is one decoded cache record.
type dumpEntry struct {
	hash      string
	entry     runner.CacheEntry
	expiresAt time.Time
}

func newCacheDumpCmd(_ *rootOptions) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the cached inspection results",
		Long: `Open the inspection cache read-only and print each entry: key hash,
command, recording, arguments, TTL remaining, and a short output sample.

The path defaults to REPLAY_CACHE_DIR, then ~/.aleutian/cache/replay.
The serving process holds the database lock, so stop it first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dbPath, err := resolveCachePath(path)
			if err != nil {
				return err
			}
			return dumpCache(cmd, dbPath)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Cache directory (overrides REPLAY_CACHE_DIR)")
	return cmd
}

func resolveCachePath(flagPath string) (string, error) {
	if flagPath != "" {
		return flagPath, nil
	}
	if env := os.Getenv("REPLAY_CACHE_DIR"); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot resolve home directory: %w", err)
	}
	return filepath.Join(home, ".aleutian", "cache", "replay"), nil
}

func dumpCache(cmd *cobra.Command, dbPath string) error {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Inspection cache path: %s\n", dbPath)

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Fprintln(w, "Cache directory does not exist. No inspection has been cached yet.")
		return nil
	}

	cfg := badgerstore.DefaultConfig(dbPath)
	cfg.ReadOnly = true
	db, err := badgerstore.Open(cfg)
	if err != nil {
		return fmt.Errorf("open cache at %s: %w", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	cache := runner.NewInspectionCache(db, 0, nil)
	var entries []dumpEntry
	err = cache.Each(cmd.Context(), func(hash string, entry runner.CacheEntry, expiresAt time.Time) error {
		entries = append(entries, dumpEntry{hash: hash, entry: entry, expiresAt: expiresAt})
		return nil
	})
	if err != nil {
		return fmt.Errorf("read cache: %w", err)
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "\nNo inspection cache entries found.")
		return nil
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].entry, entries[j].entry
		if a.RecordingID != b.RecordingID {
			return a.RecordingID < b.RecordingID
		}
		if a.Command != b.Command {
			return a.Command < b.Command
		}
		return entries[i].hash < entries[j].hash
	})

	fmt.Fprintf(w, "\n%s\n", headerStyle.Render(fmt.Sprintf("Found %d cache entr%s", len(entries), plural(len(entries), "y", "ies"))))
	fmt.Fprintln(w, strings.Repeat("─", 80))
	for i, e := range entries {
		printDumpEntry(w, i+1, e)
	}
	fmt.Fprintf(w, "\n%s\n", strings.Repeat("─", 80))
	fmt.Fprintf(w, "Summary: %d entr%s, cache path: %s\n", len(entries), plural(len(entries), "y", "ies"), dbPath)
	return nil
}

func printDumpEntry(w io.Writer, n int, e dumpEntry) {
	fmt.Fprintf(w, "\n[%d] %s\n", n, toolStyle.Render(e.entry.Command))
	fmt.Fprintf(w, "    Hash:      %s\n", e.hash)
	fmt.Fprintf(w, "    Recording: %s\n", e.entry.RecordingID)
	fmt.Fprintf(w, "    Args:      %s\n", string(e.entry.Args))
	fmt.Fprintf(w, "    Stored:    %s\n", e.entry.StoredAt.Format("2006-01-02 15:04:05 MST"))

	if e.expiresAt.IsZero() {
		fmt.Fprintln(w, "    TTL:       no expiry set")
	} else if remaining := time.Until(e.expiresAt); remaining < 0 {
		fmt.Fprintf(w, "    TTL:       %s\n", warnStyle.Render(fmt.Sprintf("EXPIRED (%s ago)", (-remaining).Round(time.Second))))
	} else {
		fmt.Fprintf(w, "    TTL:       %s remaining (expires %s)\n",
			remaining.Round(time.Second), e.expiresAt.Format("2006-01-02 15:04:05 MST"))
	}

	fmt.Fprintf(w, "    Size:      %s\n", formatBytes(len(e.entry.Output)))
	fmt.Fprintf(w, "    Output:    %s\n", dimStyle.Render(sample(string(e.entry.Output), sampleChars)))
}

// sample returns the first n bytes of s on one line.
func sample(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + " ..."
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(n int) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MB (%d bytes)", float64(n)/1024/1024, n)
	case n >= 1024:
		return fmt.Sprintf("%.1f KB (%d bytes)", float64(n)/1024, n)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

func plural(n int, singular, pluralSuffix string) string {
	if n == 1 {
		return singular
	}
	return pluralSuffix
}
