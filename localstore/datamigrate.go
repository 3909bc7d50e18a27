// Copyright 2026 MatchKeep Contributors
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DataMigration is one idempotent data transform in the logical migration
// ledger. DDL lives in the embedded SQL chain; DataMigrations reshape rows
// (seeding, backfills) and are tracked separately through the
// database_version setting, so an already-applied version is skipped by the
// ledger rather than re-derived from table state.
type DataMigration struct {
	Version int
	Name    string
	Run     func(ctx context.Context, s *Store) error
}

// Initialize applies every pending data migration in version order. A step
// failure aborts the chain and is fatal to startup: the caller must not serve
// a store in a half-migrated state. Steps already recorded in the ledger are
// no-ops.
func (s *Store) Initialize(ctx context.Context, migrations []DataMigration) error {
	sorted := make([]DataMigration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	current, err := s.DataVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range sorted {
		if m.Version <= current {
			continue
		}
		s.logger.Info("applying data migration", "version", m.Version, "name", m.Name)
		if err := m.Run(ctx, s); err != nil {
			return fmt.Errorf("data migration %d (%s) failed: %w", m.Version, m.Name, err)
		}
		if err := s.setDataVersion(ctx, m.Version); err != nil {
			return err
		}
		current = m.Version
	}
	return nil
}

// SeedDefaultSeason is data migration v1: every store starts with one Season
// so matches created offline have a parent. Re-running finds the existing row
// and does nothing.
func SeedDefaultSeason() DataMigration {
	return DataMigration{
		Version: 1,
		Name:    "seed default season",
		Run: func(ctx context.Context, s *Store) error {
			var count int
			err := s.db.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM seasons WHERE isDeleted = 0`).Scan(&count)
			if err != nil {
				return fmt.Errorf("failed to count seasons: %w", err)
			}
			if count > 0 {
				return nil
			}

			now := time.Now().UTC().Format(TimeFormat)
			_, err = s.db.ExecContext(ctx, `
				INSERT INTO seasons (id, label, isCurrent, synced, createdAt, updatedAt, isDeleted)
				VALUES (?, ?, 1, 0, ?, ?, 0)
			`, uuid.New().String(), defaultSeasonLabel(time.Now()), now, now)
			if err != nil {
				return fmt.Errorf("failed to seed default season: %w", err)
			}
			return nil
		},
	}
}

// defaultSeasonLabel names the season after the football year it falls in,
// e.g. "2026/27" for any date from August 2026 through July 2027.
func defaultSeasonLabel(now time.Time) string {
	year := now.Year()
	if now.Month() < time.August {
		year--
	}
	return fmt.Sprintf("%d/%02d", year, (year+1)%100)
}
