// Copyright 2026 MatchKeep Contributors
// SPDX-License-Identifier: Apache-2.0

// Package refresh keeps the local store consistent with the server without
// ever destroying not-yet-synced local work: wholesale reference-data
// refresh, windowed retention for temporal data, and progressive background
// caching of recent matches.
package refresh

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/matchkeep/go-rostersync/localstore"
	"github.com/matchkeep/go-rostersync/restapi"
)

// Connectivity reports whether the device currently has a network path to
// the server. The background pagination loop polls it before every page.
type Connectivity interface {
	Online() bool
}

// Config tunes retention and pagination.
type Config struct {
	// RetentionWindow is how long synced temporal rows are kept, measured
	// from syncedAt (falling back to createdAt). Rows aged exactly at the
	// window boundary are retained; pruning requires strictly older.
	RetentionWindow time.Duration
	PageLimit       int
	// PageInterval spaces background page fetches so a cold cache fill does
	// not monopolize the network.
	PageInterval time.Duration
}

// DefaultConfig mirrors the values the app ships with.
func DefaultConfig() Config {
	return Config{
		RetentionWindow: 30 * 24 * time.Hour,
		PageLimit:       50,
		PageInterval:    500 * time.Millisecond,
	}
}

// Refresher owns the pull path.
type Refresher struct {
	store    *localstore.Store
	api      *restapi.Client
	conn     Connectivity
	cfg      Config
	logger   *slog.Logger
	inFlight atomic.Int32
}

// NewRefresher wires a refresher to a store, API client and connectivity
// source.
func NewRefresher(store *localstore.Store, api *restapi.Client, conn Connectivity, cfg Config, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{store: store, api: api, conn: conn, cfg: cfg, logger: logger}
}

// Refresh runs the full pull sequence: reference refresh, temporal cleanup,
// recent-match caching. It is a no-op when offline or when another refresh
// is already in flight (the second caller returns immediately, it does not
// queue). The returned Task tracks the detached match-pagination loop and is
// nil when the refresh did not start.
func (r *Refresher) Refresh(ctx context.Context) (*Task, error) {
	if !r.conn.Online() {
		return nil, nil
	}
	if !r.inFlight.CompareAndSwap(0, 1) {
		return nil, nil
	}
	defer r.inFlight.Store(0)

	for _, spec := range localstore.ReferenceSpecs() {
		if err := r.refreshReference(ctx, spec); err != nil {
			return nil, err
		}
	}
	if err := r.CleanupTemporal(ctx); err != nil {
		return nil, err
	}
	return r.cacheMatches(ctx)
}

// refreshReference reconciles one reference table against the complete
// remote set. Synced local records absent remotely are deleted (a server-side
// deletion propagates by implication). Remote records are upserted unless an
// unsynced local version of the same id exists; the local version then wins
// wholesale and the remote copy is skipped entirely, never merged
// field-by-field.
func (r *Refresher) refreshReference(ctx context.Context, spec localstore.TableSpec) error {
	remote, err := r.api.ListAll(ctx, spec.Resource, r.cfg.PageLimit)
	if err != nil {
		return err
	}
	remoteIDs := make(map[string]struct{}, len(remote))
	for _, rec := range remote {
		remoteIDs[localstore.RecString(rec, localstore.ColID)] = struct{}{}
	}

	locals, err := r.store.ListEvery(ctx, spec.Kind)
	if err != nil {
		return err
	}
	unsyncedIDs := make(map[string]struct{})
	for _, rec := range locals {
		id := localstore.RecString(rec, localstore.ColID)
		if !localstore.RecBool(rec, localstore.ColSynced) {
			unsyncedIDs[id] = struct{}{}
			continue
		}
		if _, exists := remoteIDs[id]; !exists {
			if err := r.store.HardDelete(ctx, spec.Kind, id); err != nil {
				return err
			}
		}
	}

	now := time.Now()
	for _, rec := range remote {
		id := localstore.RecString(rec, localstore.ColID)
		if _, localWins := unsyncedIDs[id]; localWins {
			continue
		}
		if err := r.store.UpsertRemote(ctx, spec.Kind, rec, now); err != nil {
			return err
		}
	}
	return nil
}

// CleanupTemporal prunes synced temporal rows strictly older than the
// retention window, clocked from syncedAt so a historical match reopened and
// resynced resets its own clock. Unsynced rows are exempt regardless of age;
// match parent records are never swept.
func (r *Refresher) CleanupTemporal(ctx context.Context) error {
	now := time.Now()
	for _, spec := range localstore.TemporalSpecs() {
		records, err := r.store.ListSynced(ctx, spec.Kind)
		if err != nil {
			return err
		}
		pruned := 0
		for _, rec := range records {
			clock := localstore.RecTime(rec, localstore.ColSyncedAt)
			if clock.IsZero() {
				clock = localstore.RecTime(rec, localstore.ColCreatedAt)
			}
			if clock.IsZero() {
				continue
			}
			if now.Sub(clock) > r.cfg.RetentionWindow {
				id := localstore.RecString(rec, localstore.ColID)
				if err := r.store.HardDelete(ctx, spec.Kind, id); err != nil {
					return err
				}
				pruned++
			}
		}
		if pruned > 0 {
			r.logger.Info("pruned aged temporal records", "table", spec.Table, "count", pruned)
		}
	}
	return nil
}

// cacheMatches merges page one synchronously so the UI has data quickly,
// then hands the remaining pages to a detached background task.
func (r *Refresher) cacheMatches(ctx context.Context) (*Task, error) {
	page, err := r.api.ListPage(ctx, "matches", 1, r.cfg.PageLimit)
	if err != nil {
		return nil, err
	}
	merged, err := r.mergeMatches(ctx, page.Data)
	if err != nil {
		return nil, err
	}
	return r.startPaginationTask(page.HasMore, merged), nil
}

// mergeMatches upserts a page of remote matches, skipping ids with unsynced
// local versions.
func (r *Refresher) mergeMatches(ctx context.Context, page []restapi.Record) (int, error) {
	locals, err := r.store.ListUnsynced(ctx, localstore.KindMatch)
	if err != nil {
		return 0, err
	}
	unsyncedIDs := make(map[string]struct{}, len(locals))
	for _, rec := range locals {
		unsyncedIDs[localstore.RecString(rec, localstore.ColID)] = struct{}{}
	}

	now := time.Now()
	merged := 0
	for _, rec := range page {
		id := localstore.RecString(rec, localstore.ColID)
		if _, localWins := unsyncedIDs[id]; localWins {
			continue
		}
		if err := r.store.UpsertRemote(ctx, localstore.KindMatch, rec, now); err != nil {
			return merged, err
		}
		merged++
	}
	return merged, nil
}
