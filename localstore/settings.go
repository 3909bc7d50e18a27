// Copyright 2026 MatchKeep Contributors
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// Setting keys used by the engine.
const (
	// SettingDatabaseVersion tracks the last fully-applied logical data
	// migration. It is the single source of truth for "is this local store
	// up to date", independent of the DDL migration table.
	SettingDatabaseVersion = "database_version"
	// SettingPlanLimits caches the server-declared quota/plan limits.
	SettingPlanLimits = "plan_limits"
)

// Setting reads a scalar setting. ok is false when the key has never been set.
func (s *Store) Setting(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting writes a scalar setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

// DataVersion returns the logical migration ledger position, 0 when no data
// migration has ever run.
func (s *Store) DataVersion(ctx context.Context) (int, error) {
	raw, ok, err := s.Setting(ctx, SettingDatabaseVersion)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	version, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("corrupt %s setting %q: %w", SettingDatabaseVersion, raw, err)
	}
	return version, nil
}

func (s *Store) setDataVersion(ctx context.Context, version int) error {
	return s.SetSetting(ctx, SettingDatabaseVersion, strconv.Itoa(version))
}
