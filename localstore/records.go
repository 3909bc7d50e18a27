// Copyright 2026 MatchKeep Contributors
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/matchkeep/go-rostersync/events"
)

// TimeFormat is how timestamps are persisted and shipped to the server.
const TimeFormat = time.RFC3339Nano

// Envelope column names shared by every entity table.
const (
	ColID              = "id"
	ColSynced          = "synced"
	ColSyncedAt        = "syncedAt"
	ColCreatedByUserID = "createdByUserId"
	ColCreatedAt       = "createdAt"
	ColUpdatedAt       = "updatedAt"
	ColIsDeleted       = "isDeleted"
	ColDeletedAt       = "deletedAt"
	ColDeletedByUserID = "deletedByUserId"
)

// Record is one row as a column→value map, the same shape the remote API
// speaks, so rows move between SQLite and the wire without a mapping layer.
type Record = map[string]any

// ErrNotFound is returned when a record id does not exist locally.
var ErrNotFound = errors.New("record not found")

// ValidationError reports a local write rejected because a required field is
// missing. It is a value-level failure the UI can present, distinct from the
// wrapped infrastructure errors everything else returns.
type ValidationError struct {
	Table string
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: required field %q is missing", e.Table, e.Field)
}

// Save upserts a locally-edited record. It fills in the envelope: a generated
// id for new records, createdAt/updatedAt stamps, and synced=0 so the flush
// cycle picks the record up. A previously synced record keeps its syncedAt so
// the engine can tell "was ever on the server" apart from "never left this
// device". Returns the stored record including the generated id.
func (s *Store) Save(ctx context.Context, kind Kind, userID string, rec Record) (Record, error) {
	spec := Spec(kind)
	for _, field := range spec.Required {
		if v, ok := rec[field]; !ok || v == nil || v == "" {
			return nil, &ValidationError{Table: spec.Table, Field: field}
		}
	}

	now := time.Now().UTC().Format(TimeFormat)
	id, _ := rec[ColID].(string)

	var existing Record
	if id != "" {
		var err error
		existing, err = s.Get(ctx, kind, id)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	} else {
		id = uuid.New().String()
	}

	merged := Record{}
	for col, val := range existing {
		merged[col] = val
	}
	for col, val := range rec {
		merged[col] = val
	}
	merged[ColID] = id
	merged[ColSynced] = 0
	merged[ColUpdatedAt] = now
	if existing == nil {
		merged[ColCreatedAt] = now
		merged[ColCreatedByUserID] = userID
		merged[ColIsDeleted] = 0
	}

	if err := s.upsertRow(ctx, spec.Table, merged); err != nil {
		return nil, err
	}

	s.dispatcher.Dispatch(events.Event{
		Type: events.TypeDataChanged,
		Data: events.DataChanged{Table: spec.Table, ID: id},
	})
	return merged, nil
}

// Get loads one record by id.
func (s *Store) Get(ctx context.Context, kind Kind, id string) (Record, error) {
	spec := Spec(kind)
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT * FROM %q WHERE id = ?", spec.Table), id)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", spec.Table, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return records[0], nil
}

// List returns all non-tombstoned records of a kind.
func (s *Store) List(ctx context.Context, kind Kind) ([]Record, error) {
	spec := Spec(kind)
	return s.queryRecords(ctx,
		fmt.Sprintf("SELECT * FROM %q WHERE isDeleted = 0", spec.Table))
}

// ListByParent returns records owned by a parent record, ordered by the
// temporal clock column when the table has one.
func (s *Store) ListByParent(ctx context.Context, kind Kind, parentID string) ([]Record, error) {
	spec := Spec(kind)
	if spec.Parent == "" {
		return nil, fmt.Errorf("%s has no parent column", spec.Table)
	}
	query := fmt.Sprintf("SELECT * FROM %q WHERE %q = ? AND isDeleted = 0", spec.Table, spec.Parent)
	if ok, err := s.hasColumn(spec.Table, "clockSeconds"); err == nil && ok {
		query += ` ORDER BY clockSeconds`
	}
	return s.queryRecords(ctx, query, parentID)
}

// ListUnsynced returns every record awaiting a push, tombstones included.
func (s *Store) ListUnsynced(ctx context.Context, kind Kind) ([]Record, error) {
	spec := Spec(kind)
	return s.queryRecords(ctx,
		fmt.Sprintf("SELECT * FROM %q WHERE synced = 0", spec.Table))
}

// ListSynced returns every server-acknowledged record, tombstones included.
// The pull path reconciles these against the authoritative remote set.
func (s *Store) ListSynced(ctx context.Context, kind Kind) ([]Record, error) {
	spec := Spec(kind)
	return s.queryRecords(ctx,
		fmt.Sprintf("SELECT * FROM %q WHERE synced = 1", spec.Table))
}

// ListEvery returns all rows of a table with no filtering at all.
func (s *Store) ListEvery(ctx context.Context, kind Kind) ([]Record, error) {
	spec := Spec(kind)
	return s.queryRecords(ctx, fmt.Sprintf("SELECT * FROM %q", spec.Table))
}

// MarkSynced records a server acknowledgment for the current version.
func (s *Store) MarkSynced(ctx context.Context, kind Kind, id string, at time.Time) error {
	spec := Spec(kind)
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %q SET synced = 1, syncedAt = ? WHERE id = ?", spec.Table),
		at.UTC().Format(TimeFormat), id)
	if err != nil {
		return fmt.Errorf("failed to mark %s.%s synced: %w", spec.Table, id, err)
	}
	return nil
}

// SoftDelete tombstones a record. The deletion is itself a mutation that must
// sync, so the record flips back to synced=0.
func (s *Store) SoftDelete(ctx context.Context, kind Kind, id, userID string) error {
	spec := Spec(kind)
	now := time.Now().UTC().Format(TimeFormat)
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %q SET isDeleted = 1, deletedAt = ?, deletedByUserId = ?, synced = 0, updatedAt = ?
		 WHERE id = ?`, spec.Table),
		now, userID, now, id)
	if err != nil {
		return fmt.Errorf("failed to tombstone %s.%s: %w", spec.Table, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	s.dispatcher.Dispatch(events.Event{
		Type: events.TypeDataChanged,
		Data: events.DataChanged{Table: spec.Table, ID: id},
	})
	return nil
}

// HardDelete removes a record outright. Reserved for records the server never
// saw, ephemeral derived state, and retention pruning of synced tombstones.
func (s *Store) HardDelete(ctx context.Context, kind Kind, id string) error {
	spec := Spec(kind)
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %q WHERE id = ?", spec.Table), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s.%s: %w", spec.Table, id, err)
	}

	s.dispatcher.Dispatch(events.Event{
		Type: events.TypeDataChanged,
		Data: events.DataChanged{Table: spec.Table, ID: id},
	})
	return nil
}

// UpsertRemote materializes a server-authored record locally: it lands
// already synced, stamped with the pull time. Callers are responsible for the
// unsynced-local-wins check; this function just writes.
func (s *Store) UpsertRemote(ctx context.Context, kind Kind, rec Record, at time.Time) error {
	spec := Spec(kind)
	merged := Record{}
	for col, val := range rec {
		merged[col] = val
	}
	merged[ColSynced] = 1
	merged[ColSyncedAt] = at.UTC().Format(TimeFormat)
	return s.upsertRow(ctx, spec.Table, merged)
}

// upsertRow writes a full row from a column map (INSERT OR REPLACE), skipping
// keys the table does not know so schema drift in server payloads cannot
// break the write path.
func (s *Store) upsertRow(ctx context.Context, table string, rec Record) error {
	names, err := s.columns(table)
	if err != nil {
		return err
	}

	var cols []string
	var placeholders []string
	var values []any
	for _, col := range names {
		val, ok := rec[col]
		if !ok {
			continue
		}
		cols = append(cols, fmt.Sprintf("%q", col))
		placeholders = append(placeholders, "?")
		values = append(values, normalizeValue(val))
	}
	if len(cols) == 0 {
		return fmt.Errorf("no known columns in record for table %s", table)
	}

	query := fmt.Sprintf("INSERT OR REPLACE INTO %q (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
		return fmt.Errorf("failed to upsert into %s: %w", table, err)
	}
	return nil
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// scanRecords reads arbitrary rows into column maps via rows.Columns().
func scanRecords(rows *sql.Rows) ([]Record, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	var records []Record
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rec := make(Record, len(columns))
		for i, col := range columns {
			val := values[i]
			if b, ok := val.([]byte); ok {
				rec[col] = string(b)
			} else {
				rec[col] = val
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return records, nil
}

// normalizeValue maps Go values to SQLite-friendly ones. JSON decoders hand
// us bools and float64s; SQLite stores bools as 0/1 integers.
func normalizeValue(val any) any {
	switch v := val.(type) {
	case bool:
		if v {
			return 1
		}
		return 0
	default:
		return val
	}
}

// Record field helpers used across the sync packages.

// RecString returns a column as a string, "" when NULL or absent.
func RecString(rec Record, col string) string {
	if v, ok := rec[col].(string); ok {
		return v
	}
	return ""
}

// RecBool interprets a SQLite 0/1 column (or a JSON bool) as a bool.
func RecBool(rec Record, col string) bool {
	switch v := rec[col].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case int:
		return v != 0
	case float64:
		return v != 0
	}
	return false
}

// RecInt returns a column as int64, 0 when NULL or absent.
func RecInt(rec Record, col string) int64 {
	switch v := rec[col].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// RecTime parses a timestamp column; the zero time when NULL or malformed.
func RecTime(rec Record, col string) time.Time {
	raw := RecString(rec, col)
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
