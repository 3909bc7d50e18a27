// Copyright 2026 MatchKeep Contributors
// SPDX-License-Identifier: Apache-2.0

// Package rostersync composes the local store, push (outbox) and pull
// (refresh) paths, and the correlation engine into the single service the
// host app drives through lifecycle triggers: coming online, completing
// authentication, and explicit flush/refresh requests.
package rostersync

import (
	"context"
	"log/slog"
	"time"

	"github.com/matchkeep/go-rostersync/autolink"
	"github.com/matchkeep/go-rostersync/config"
	"github.com/matchkeep/go-rostersync/events"
	"github.com/matchkeep/go-rostersync/localstore"
	"github.com/matchkeep/go-rostersync/outbox"
	"github.com/matchkeep/go-rostersync/refresh"
	"github.com/matchkeep/go-rostersync/restapi"
)

// Connectivity reports network reachability (the host app's "online" state).
type Connectivity = refresh.Connectivity

// AuthState exposes the host app's authentication session to the engine.
type AuthState interface {
	// Authenticated reports whether a signed-in user session exists.
	Authenticated() bool
	// UserID identifies the signed-in user, "" when signed out.
	UserID() string
	// Token returns the current access token for API calls.
	Token(ctx context.Context) (string, error)
}

// Engine is the local-first sync service.
type Engine struct {
	Store     *localstore.Store
	Flusher   *outbox.Flusher
	Refresher *refresh.Refresher
	Linker    *autolink.Linker

	api           *restapi.Client
	conn          Connectivity
	auth          AuthState
	logger        *slog.Logger
	flushInterval time.Duration
	backoffMin    time.Duration
	backoffMax    time.Duration
}

// New wires an engine from an opened store and the host app's connectivity
// and auth sources.
func New(store *localstore.Store, conn Connectivity, auth AuthState, cfg *config.Config, logger *slog.Logger) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	api := restapi.NewClient(cfg.Server.BaseURL, auth.Token)
	outboxCfg := outbox.Config{
		BackoffMin:  cfg.BackoffMinDuration(),
		BackoffMax:  cfg.BackoffMaxDuration(),
		MaxAttempts: cfg.Sync.MaxAttempts,
	}
	refreshCfg := refresh.Config{
		RetentionWindow: cfg.RetentionWindow(),
		PageLimit:       cfg.Retention.PageLimit,
		PageInterval:    cfg.PageIntervalDuration(),
	}

	linker := autolink.NewLinker(store, logger)
	return &Engine{
		Store:         store,
		Flusher:       outbox.NewFlusher(store, api, outboxCfg, logger),
		Refresher:     refresh.NewRefresher(store, api, conn, refreshCfg, logger),
		Linker:        linker,
		api:           api,
		conn:          conn,
		auth:          auth,
		logger:        logger,
		flushInterval: cfg.FlushIntervalDuration(),
		backoffMin:    outboxCfg.BackoffMin,
		backoffMax:    outboxCfg.BackoffMax,
	}
}

// Initialize runs the logical data-migration ledger. It either brings the
// store fully up to date or fails, and a failure is fatal to app startup.
func (e *Engine) Initialize(ctx context.Context) error {
	return e.Store.Initialize(ctx, []localstore.DataMigration{
		localstore.SeedDefaultSeason(),
		autolink.BackfillLinks(e.Linker),
	})
}

// Flush pushes the outbox. A no-op when offline or signed out; overlapping
// calls are deduplicated inside the flusher.
func (e *Engine) Flush(ctx context.Context) error {
	if !e.conn.Online() || !e.auth.Authenticated() {
		return nil
	}
	return e.Flusher.Flush(ctx)
}

// Refresh runs the pull sequence (reference refresh, retention sweep, match
// caching). A no-op when offline or signed out. The returned task tracks
// background match pagination and is nil when the refresh did not start.
func (e *Engine) Refresh(ctx context.Context) (*refresh.Task, error) {
	if !e.auth.Authenticated() {
		return nil, nil
	}
	return e.Refresher.Refresh(ctx)
}

// OnOnline is the connectivity-restored trigger: drain the outbox first so
// local work reaches the server, then pull.
func (e *Engine) OnOnline(ctx context.Context) error {
	if err := e.Flush(ctx); err != nil {
		return err
	}
	_, err := e.Refresh(ctx)
	return err
}

// OnAuthenticated is the post-sign-in trigger; same order as OnOnline.
func (e *Engine) OnAuthenticated(ctx context.Context) error {
	return e.OnOnline(ctx)
}

// RecordEvent saves a match event and triggers auto-linking after the write
// has committed, outside its transaction, so the write path never waits on
// enrichment.
func (e *Engine) RecordEvent(ctx context.Context, rec localstore.Record) (localstore.Record, error) {
	saved, err := e.Store.Save(ctx, localstore.KindEvent, e.auth.UserID(), rec)
	if err != nil {
		return nil, err
	}
	go e.Linker.LinkEvent(context.WithoutCancel(ctx), localstore.RecString(saved, localstore.ColID))
	return saved, nil
}

// Run is the periodic flush loop. Failures back off exponentially up to the
// configured cap; success resets the cadence. The loop exits when ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context) {
	backoff := e.flushInterval
	for {
		if err := sleepWithContext(ctx, backoff); err != nil {
			return
		}
		if err := e.Flush(ctx); err != nil {
			backoff *= 2
			if backoff > e.backoffMax {
				backoff = e.backoffMax
			}
			e.logger.Warn("flush cycle failed", "error", err, "nextAttemptIn", backoff)
			continue
		}
		backoff = e.flushInterval
	}
}

// Dispatcher exposes the signal dispatcher for UI subscriptions.
func (e *Engine) Dispatcher() *events.Dispatcher {
	return e.Store.Dispatcher()
}

// sleepWithContext waits for d, returning early when ctx is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
