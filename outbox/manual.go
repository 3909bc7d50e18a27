// Copyright 2026 MatchKeep Contributors
// SPDX-License-Identifier: Apache-2.0

package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matchkeep/go-rostersync/localstore"
)

// ErrDiscardRequiresAuth is returned when discarding a previously-synced
// record while signed out: the deletion would need to reach the server, so
// nothing is changed locally either.
var ErrDiscardRequiresAuth = errors.New("discarding a synced record requires signing in")

// Retry manually resets a quarantined (or retrying) record so the next flush
// cycle re-attempts it immediately.
func (f *Flusher) Retry(ctx context.Context, kind localstore.Kind, id string) error {
	spec := localstore.Spec(kind)
	now := time.Now().UTC().Format(localstore.TimeFormat)
	_, err := f.store.DB().ExecContext(ctx, `
		UPDATE sync_failures
		SET permanent = 0, attemptCount = 0, nextRetryAt = ?, reasonCode = NULL
		WHERE tbl = ? AND recordId = ?
	`, now, spec.Table, id)
	if err != nil {
		return fmt.Errorf("failed to reset sync failure for %s.%s: %w", spec.Table, id, err)
	}
	return nil
}

// Discard gives up on a record's outstanding mutation.
//
// A record the server never acknowledged is simply deleted locally, with no
// network interaction. A previously-synced record instead becomes a
// tombstone whose deletion is a fresh outbound mutation; that path requires
// authentication and is rejected without state change when signed out.
// Ephemeral derived records are always hard-deleted.
func (f *Flusher) Discard(ctx context.Context, kind localstore.Kind, id, userID string, authenticated bool) error {
	spec := localstore.Spec(kind)

	if spec.Ephemeral {
		if err := f.store.HardDelete(ctx, kind, id); err != nil {
			return err
		}
		return clearFailure(ctx, f.store.DB(), spec.Table, id)
	}

	rec, err := f.store.Get(ctx, kind, id)
	if err != nil {
		return err
	}
	everSynced := localstore.RecString(rec, localstore.ColSyncedAt) != ""

	if !everSynced {
		if err := f.store.HardDelete(ctx, kind, id); err != nil {
			return err
		}
		return clearFailure(ctx, f.store.DB(), spec.Table, id)
	}

	if !authenticated {
		return ErrDiscardRequiresAuth
	}
	if err := f.store.SoftDelete(ctx, kind, id, userID); err != nil {
		return err
	}
	// Drop the failure row so the deletion gets a clean first attempt.
	return clearFailure(ctx, f.store.DB(), spec.Table, id)
}
