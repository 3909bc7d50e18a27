// Copyright 2026 MatchKeep Contributors
// SPDX-License-Identifier: Apache-2.0

// Package outbox decides, per unsynced record, whether and when to retry
// pushing it to the server, and when to give up and quarantine it for a human
// decision. One sync_failures row exists per (table, record) pair while a
// push attempt is outstanding; success deletes the row.
package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/matchkeep/go-rostersync/localstore"
	"github.com/matchkeep/go-rostersync/restapi"
)

// Reason codes recorded when a record is quarantined.
const (
	ReasonInvalidPayload = "INVALID_PAYLOAD"
	ReasonQuotaExceeded  = "QUOTA_EXCEEDED"
	ReasonFeatureLocked  = "FEATURE_LOCKED"
	ReasonMaxAttempts    = "MAX_ATTEMPTS"
)

// Failure is one row of the per-record push-failure ledger.
type Failure struct {
	Table         string
	RecordID      string
	AttemptCount  int
	LastAttemptAt time.Time
	NextRetryAt   time.Time
	LastStatus    int // HTTP status of the last attempt, 0 for transport errors
	LastError     string
	ReasonCode    string
	Permanent     bool
}

// Backoff returns the delay before retry number attempt: exponential from
// min, capped at max. attempt is 1-based.
func Backoff(min, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := min
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// classify maps a push error onto the state machine's terminal/transient
// split. Terminal failures quarantine immediately regardless of attempt
// count; everything else stays retryable.
func classify(err error) (permanent bool, reason string, status int) {
	var apiErr *restapi.APIError
	if !errors.As(err, &apiErr) {
		// Transport failure, timeout, cancelled context: transient.
		return false, "", 0
	}
	if !apiErr.Terminal() {
		return false, "", apiErr.StatusCode
	}
	switch {
	case apiErr.Code == restapi.CodeQuotaExceeded || apiErr.StatusCode == http.StatusPaymentRequired:
		return true, ReasonQuotaExceeded, apiErr.StatusCode
	case apiErr.Code == restapi.CodeFeatureLocked || apiErr.StatusCode == http.StatusLocked:
		return true, ReasonFeatureLocked, apiErr.StatusCode
	default:
		return true, ReasonInvalidPayload, apiErr.StatusCode
	}
}

func loadFailure(ctx context.Context, db *sql.DB, table, recordID string) (*Failure, error) {
	f := &Failure{Table: table, RecordID: recordID}
	var lastAttemptAt, nextRetryAt, lastError, reasonCode sql.NullString
	var lastStatus sql.NullInt64
	var permanent int
	err := db.QueryRowContext(ctx, `
		SELECT attemptCount, lastAttemptAt, nextRetryAt, lastStatus, lastError, reasonCode, permanent
		FROM sync_failures WHERE tbl = ? AND recordId = ?
	`, table, recordID).Scan(&f.AttemptCount, &lastAttemptAt, &nextRetryAt,
		&lastStatus, &lastError, &reasonCode, &permanent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sync failure for %s.%s: %w", table, recordID, err)
	}

	f.LastAttemptAt = parseTime(lastAttemptAt.String)
	f.NextRetryAt = parseTime(nextRetryAt.String)
	f.LastStatus = int(lastStatus.Int64)
	f.LastError = lastError.String
	f.ReasonCode = reasonCode.String
	f.Permanent = permanent != 0
	return f, nil
}

func (f *Failure) upsert(ctx context.Context, db *sql.DB) error {
	permanent := 0
	if f.Permanent {
		permanent = 1
	}
	_, err := db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_failures
			(tbl, recordId, attemptCount, lastAttemptAt, nextRetryAt, lastStatus, lastError, reasonCode, permanent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.Table, f.RecordID, f.AttemptCount,
		formatTime(f.LastAttemptAt), formatTime(f.NextRetryAt),
		f.LastStatus, f.LastError, f.ReasonCode, permanent)
	if err != nil {
		return fmt.Errorf("failed to upsert sync failure for %s.%s: %w", f.Table, f.RecordID, err)
	}
	return nil
}

func clearFailure(ctx context.Context, db *sql.DB, table, recordID string) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM sync_failures WHERE tbl = ? AND recordId = ?`, table, recordID)
	if err != nil {
		return fmt.Errorf("failed to clear sync failure for %s.%s: %w", table, recordID, err)
	}
	return nil
}

// ListQuarantined returns the records awaiting a manual retry-or-discard
// decision, for the "sync issues" surface.
func ListQuarantined(ctx context.Context, store *localstore.Store) ([]Failure, error) {
	rows, err := store.DB().QueryContext(ctx, `
		SELECT tbl, recordId, attemptCount, lastAttemptAt, nextRetryAt, lastStatus, lastError, reasonCode
		FROM sync_failures WHERE permanent = 1 ORDER BY lastAttemptAt
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list quarantined records: %w", err)
	}
	defer rows.Close()

	var failures []Failure
	for rows.Next() {
		f := Failure{Permanent: true}
		var lastAttemptAt, nextRetryAt, lastError, reasonCode sql.NullString
		var lastStatus sql.NullInt64
		if err := rows.Scan(&f.Table, &f.RecordID, &f.AttemptCount, &lastAttemptAt,
			&nextRetryAt, &lastStatus, &lastError, &reasonCode); err != nil {
			return nil, fmt.Errorf("failed to scan sync failure: %w", err)
		}
		f.LastAttemptAt = parseTime(lastAttemptAt.String)
		f.NextRetryAt = parseTime(nextRetryAt.String)
		f.LastStatus = int(lastStatus.Int64)
		f.LastError = lastError.String
		f.ReasonCode = reasonCode.String
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(localstore.TimeFormat)
}
