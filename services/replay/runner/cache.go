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

// =============================================================================
// Inspection cache
// =============================================================================
//
// A recording never changes, so an inspection of one recording with the same
// arguments always returns the same result. Results are stored in BadgerDB
// keyed by SHA256(command, canonical args). Only commands that name a
// recording are cached.
//
// Storage layout:
//
//	replay/inspect/v1/{hash}  →  gob-encoded CacheEntry
//	                              TTL: configurable, default 24h

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	badgerstore "github.com/AleutianAI/AleutianReplay/services/replay/storage/badger"
)

// CacheKeyPrefix is prepended to the command hash to form the BadgerDB key.
const CacheKeyPrefix = "replay/inspect/v1/"

// DefaultCacheTTL is the default lifetime of a cached result.
const DefaultCacheTTL = 24 * time.Hour

var errCacheMiss = errors.New("cache miss")

// CacheEntry is one stored inspection result.
type CacheEntry struct {
	Command     string
	RecordingID string
	Args        []byte
	Output      []byte
	StoredAt    time.Time
}

// InspectionCache stores inspection results in BadgerDB.
//
// Thread Safety: Safe for concurrent use.
type InspectionCache struct {
	db     *badgerstore.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewInspectionCache creates a cache over db. The caller owns db.
//
// Inputs:
//   - db: Opened database. Must not be nil.
//   - ttl: Entry lifetime. Zero or negative uses DefaultCacheTTL.
//   - logger: May be nil.
func NewInspectionCache(db *badgerstore.DB, ttl time.Duration, logger *slog.Logger) *InspectionCache {
	if db == nil {
		panic("NewInspectionCache: db must not be nil")
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InspectionCache{db: db, ttl: ttl, logger: logger}
}

// Get returns the cached output for cmd. A miss returns (nil, false, nil).
func (c *InspectionCache) Get(ctx context.Context, cmd Command) (json.RawMessage, bool, error) {
	hash, err := CacheKey(cmd)
	if err != nil {
		return nil, false, err
	}

	var raw []byte
	err = c.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(cacheKey(hash))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return errCacheMiss
		}
		if err != nil {
			return fmt.Errorf("get cache key: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, errCacheMiss) {
		c.logger.DebugContext(ctx, "inspection cache: miss", slog.String("command", cmd.Name), slog.String("hash", shortHash(hash)))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("inspection cache load: %w", err)
	}

	entry, err := DecodeCacheEntry(raw)
	if err != nil {
		return nil, false, fmt.Errorf("inspection cache decode: %w", err)
	}
	c.logger.DebugContext(ctx, "inspection cache: hit", slog.String("command", cmd.Name), slog.String("hash", shortHash(hash)))
	return json.RawMessage(entry.Output), true, nil
}

// Put stores output for cmd with the configured TTL.
func (c *InspectionCache) Put(ctx context.Context, cmd Command, output json.RawMessage) error {
	hash, err := CacheKey(cmd)
	if err != nil {
		return err
	}
	args, err := json.Marshal(cmd.Args)
	if err != nil {
		return fmt.Errorf("inspection cache encode args: %w", err)
	}

	var buf bytes.Buffer
	entry := CacheEntry{
		Command:     cmd.Name,
		RecordingID: recordingOf(cmd),
		Args:        args,
		Output:      output,
		StoredAt:    time.Now().UTC(),
	}
	if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
		return fmt.Errorf("inspection cache encode: %w", err)
	}

	err = c.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.SetEntry(dgbadger.NewEntry(cacheKey(hash), buf.Bytes()).WithTTL(c.ttl))
	})
	if err != nil {
		return fmt.Errorf("inspection cache save: %w", err)
	}
	return nil
}

// Each calls fn for every stored entry with its hash and expiry.
func (c *InspectionCache) Each(ctx context.Context, fn func(hash string, entry CacheEntry, expiresAt time.Time) error) error {
	return c.db.ScanPrefix(ctx, []byte(CacheKeyPrefix), func(key, value []byte, expiresAt time.Time) error {
		entry, err := DecodeCacheEntry(value)
		if err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return fn(strings.TrimPrefix(string(key), CacheKeyPrefix), entry, expiresAt)
	})
}

// DecodeCacheEntry decodes a stored entry.
func DecodeCacheEntry(raw []byte) (CacheEntry, error) {
	var entry CacheEntry
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&entry); err != nil {
		return CacheEntry{}, fmt.Errorf("gob decode: %w", err)
	}
	return entry, nil
}

// CacheKey returns the hex SHA256 of the command name and its canonical
// arguments. encoding/json sorts map keys, so equal argument maps hash
// equally.
func CacheKey(cmd Command) (string, error) {
	args := make(map[string]any, len(cmd.Args)+2)
	for k, v := range cmd.Args {
		args[k] = v
	}
	if cmd.RecordingID != "" {
		args[ArgRecordingID] = cmd.RecordingID
	}
	// The replay session handle does not change results.
	delete(args, ArgSessionID)

	canonical, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("cache key for %s: %w", cmd.Name, err)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s\n", cmd.Name)
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func cacheKey(hash string) []byte {
	return []byte(CacheKeyPrefix + hash)
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8] + "..."
	}
	return h
}

// recordingOf returns the recording a command targets, empty if none.
func recordingOf(cmd Command) string {
	if cmd.RecordingID != "" {
		return cmd.RecordingID
	}
	if id, ok := cmd.Args[ArgRecordingID].(string); ok {
		return id
	}
	return ""
}

// =============================================================================
// CachedExecutor
// =============================================================================

// CachedExecutor serves inspection commands from an InspectionCache and
// delegates everything else to the wrapped Executor.
//
// Thread Safety: Safe for concurrent use.
type CachedExecutor struct {
	next      Executor
	cache     *InspectionCache
	cacheable map[string]bool
	logger    *slog.Logger
}

// NewCachedExecutor wraps next. Only commands named in cacheable that
// target a recording are cached.
func NewCachedExecutor(next Executor, cache *InspectionCache, cacheable []string, logger *slog.Logger) *CachedExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	names := make(map[string]bool, len(cacheable))
	for _, n := range cacheable {
		names[n] = true
	}
	return &CachedExecutor{next: next, cache: cache, cacheable: names, logger: logger}
}

// Run returns a cached result when present and stores successful results.
// Cache failures are logged and fall through to next.
func (e *CachedExecutor) Run(ctx context.Context, cmd Command) (Result, error) {
	if !e.cacheable[cmd.Name] || recordingOf(cmd) == "" {
		return e.next.Run(ctx, cmd)
	}

	out, hit, err := e.cache.Get(ctx, cmd)
	switch {
	case err != nil:
		cacheLookups.WithLabelValues("error").Inc()
		e.logger.WarnContext(ctx, "Inspection cache lookup failed", slog.String("command", cmd.Name), slog.String("error", err.Error()))
	case hit:
		cacheLookups.WithLabelValues("hit").Inc()
		return Result{Command: cmd.Name, Output: out, Cached: true}, nil
	default:
		cacheLookups.WithLabelValues("miss").Inc()
	}

	res, err := e.next.Run(ctx, cmd)
	if err != nil {
		return Result{}, err
	}
	if err := e.cache.Put(ctx, cmd, res.Output); err != nil {
		e.logger.WarnContext(ctx, "Inspection cache store failed", slog.String("command", cmd.Name), slog.String("error", err.Error()))
	}
	return res, nil
}
