// Copyright 2026 MatchKeep Contributors
// SPDX-License-Identifier: Apache-2.0

package outbox

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/matchkeep/go-rostersync/events"
	"github.com/matchkeep/go-rostersync/localstore"
	"github.com/matchkeep/go-rostersync/restapi"
)

// Config tunes the backoff schedule.
type Config struct {
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	MaxAttempts int // transient failures beyond this threshold quarantine
}

// DefaultConfig mirrors the values the app ships with.
func DefaultConfig() Config {
	return Config{
		BackoffMin:  1 * time.Second,
		BackoffMax:  60 * time.Second,
		MaxAttempts: 8,
	}
}

// Flusher pushes the outbox: every unsynced, non-quarantined record across
// all tables.
type Flusher struct {
	store    *localstore.Store
	api      *restapi.Client
	cfg      Config
	logger   *slog.Logger
	inFlight atomic.Int32
}

// NewFlusher wires a flusher to a store and API client.
func NewFlusher(store *localstore.Store, api *restapi.Client, cfg Config, logger *slog.Logger) *Flusher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flusher{store: store, api: api, cfg: cfg, logger: logger}
}

// Flush walks the registry parent-first and attempts one push per due
// record. Per-record push failures are recorded in the state machine, not
// returned; the returned error is reserved for local store problems. A
// flush already in progress makes concurrent calls return immediately.
func (f *Flusher) Flush(ctx context.Context) error {
	if !f.inFlight.CompareAndSwap(0, 1) {
		return nil
	}
	defer f.inFlight.Store(0)

	now := time.Now()
	for _, spec := range localstore.AllSpecs() {
		records, err := f.store.ListUnsynced(ctx, spec.Kind)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			id := localstore.RecString(rec, localstore.ColID)

			failure, err := loadFailure(ctx, f.store.DB(), spec.Table, id)
			if err != nil {
				return err
			}
			if failure != nil && (failure.Permanent || failure.NextRetryAt.After(now)) {
				continue
			}

			if pushErr := f.pushRecord(ctx, spec, rec); pushErr != nil {
				if err := f.recordFailure(ctx, spec, id, failure, pushErr); err != nil {
					return err
				}
				continue
			}
			if err := f.recordSuccess(ctx, spec, rec, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// pushRecord issues the single remote call a record's state demands: POST
// for records the server has never seen, PUT for re-mutated ones, DELETE for
// synced tombstones. Tombstones of never-synced records need no network at
// all; the server never knew about them.
func (f *Flusher) pushRecord(ctx context.Context, spec localstore.TableSpec, rec localstore.Record) error {
	id := localstore.RecString(rec, localstore.ColID)
	deleted := localstore.RecBool(rec, localstore.ColIsDeleted)
	everSynced := localstore.RecString(rec, localstore.ColSyncedAt) != ""

	switch {
	case deleted && !everSynced:
		return nil
	case deleted:
		return f.api.Delete(ctx, spec.Resource, id)
	case everSynced:
		return f.api.Update(ctx, spec.Resource, id, pushPayload(rec))
	default:
		return f.api.Create(ctx, spec.Resource, pushPayload(rec))
	}
}

func (f *Flusher) recordSuccess(ctx context.Context, spec localstore.TableSpec, rec localstore.Record, id string) error {
	deleted := localstore.RecBool(rec, localstore.ColIsDeleted)
	if deleted {
		// Deletion acknowledged (or never needed): the tombstone has no
		// further purpose locally.
		if err := f.store.HardDelete(ctx, spec.Kind, id); err != nil {
			return err
		}
	} else {
		if err := f.store.MarkSynced(ctx, spec.Kind, id, time.Now()); err != nil {
			return err
		}
	}
	return clearFailure(ctx, f.store.DB(), spec.Table, id)
}

func (f *Flusher) recordFailure(ctx context.Context, spec localstore.TableSpec, id string, prev *Failure, pushErr error) error {
	now := time.Now()
	attempt := 1
	if prev != nil {
		attempt = prev.AttemptCount + 1
	}

	permanent, reason, status := classify(pushErr)
	if !permanent && attempt >= f.cfg.MaxAttempts {
		permanent = true
		reason = ReasonMaxAttempts
	}

	failure := &Failure{
		Table:         spec.Table,
		RecordID:      id,
		AttemptCount:  attempt,
		LastAttemptAt: now,
		NextRetryAt:   now.Add(Backoff(f.cfg.BackoffMin, f.cfg.BackoffMax, attempt)),
		LastStatus:    status,
		LastError:     pushErr.Error(),
		ReasonCode:    reason,
		Permanent:     permanent,
	}
	if err := failure.upsert(ctx, f.store.DB()); err != nil {
		return err
	}

	if permanent {
		f.logger.Warn("push quarantined, needs manual retry or discard",
			"table", spec.Table, "id", id, "reason", reason, "error", pushErr)
		f.store.Dispatcher().Dispatch(events.Event{
			Type: events.TypeSyncIssue,
			Data: events.SyncIssue{Table: spec.Table, ID: id, ReasonCode: reason},
		})
	} else {
		f.logger.Debug("push failed, will retry",
			"table", spec.Table, "id", id, "attempt", attempt,
			"nextRetryAt", failure.NextRetryAt, "error", pushErr)
	}
	return nil
}

// pushPayload strips the local-only sync bookkeeping before a record goes on
// the wire.
func pushPayload(rec localstore.Record) restapi.Record {
	payload := make(restapi.Record, len(rec))
	for col, val := range rec {
		switch col {
		case localstore.ColSynced, localstore.ColSyncedAt:
			continue
		}
		payload[col] = val
	}
	return payload
}
