// Copyright 2026 MatchKeep Contributors
// SPDX-License-Identifier: Apache-2.0

// Package autolink is the correlation engine: best-effort, non-blocking
// enrichment that discovers relationships between match events (a goal and
// the assist that set it up) and records them as a bidirectional link set on
// both records.
package autolink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/matchkeep/go-rostersync/localstore"
)

// Event kinds the engine correlates.
const (
	KindGoal   = "goal"
	KindAssist = "assist"
)

// DefaultClockWindow is how far apart (in match clock terms) a goal and an
// assist may be and still count as the same passage of play.
const DefaultClockWindow = 15 * time.Second

// Linker discovers and persists event links.
type Linker struct {
	store  *localstore.Store
	logger *slog.Logger
	window int64 // clock window in seconds
}

// NewLinker creates a linker with the default clock window.
func NewLinker(store *localstore.Store, logger *slog.Logger) *Linker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Linker{store: store, logger: logger, window: int64(DefaultClockWindow / time.Second)}
}

// LinkEvent runs after the originating write transaction has committed,
// never inside it, so the write path never waits on enrichment. Failures are
// logged and swallowed; they must never fail or roll back the original
// write.
func (l *Linker) LinkEvent(ctx context.Context, eventID string) {
	if err := l.linkEvent(ctx, eventID); err != nil {
		l.logger.Warn("event auto-linking failed", "event", eventID, "error", err)
	}
}

func (l *Linker) linkEvent(ctx context.Context, eventID string) error {
	rec, err := l.store.Get(ctx, localstore.KindEvent, eventID)
	if err != nil {
		return err
	}

	var counterpart string
	switch localstore.RecString(rec, "kind") {
	case KindGoal:
		counterpart = KindAssist
	case KindAssist:
		counterpart = KindGoal
	default:
		return nil
	}

	matchID := localstore.RecString(rec, "matchId")
	clock := localstore.RecInt(rec, "clockSeconds")

	candidates, err := l.store.ListByParent(ctx, localstore.KindEvent, matchID)
	if err != nil {
		return err
	}
	for _, cand := range candidates {
		if localstore.RecString(cand, "kind") != counterpart {
			continue
		}
		delta := localstore.RecInt(cand, "clockSeconds") - clock
		if delta < -l.window || delta > l.window {
			continue
		}
		if samePeriod := localstore.RecInt(rec, "periodNumber") == localstore.RecInt(cand, "periodNumber"); !samePeriod {
			continue
		}
		if err := l.linkPair(ctx, rec, cand); err != nil {
			return err
		}
	}
	return nil
}

// RelinkMatch re-scans every event of one match and backfills links. Linking
// an already-linked pair is a no-op (the link set is a union), so the batch
// is safe to re-run.
func (l *Linker) RelinkMatch(ctx context.Context, matchID string) error {
	records, err := l.store.ListByParent(ctx, localstore.KindEvent, matchID)
	if err != nil {
		return err
	}

	var goals, assists []localstore.Record
	for _, rec := range records {
		switch localstore.RecString(rec, "kind") {
		case KindGoal:
			goals = append(goals, rec)
		case KindAssist:
			assists = append(assists, rec)
		}
	}

	for _, goal := range goals {
		clock := localstore.RecInt(goal, "clockSeconds")
		period := localstore.RecInt(goal, "periodNumber")
		for _, assist := range assists {
			delta := localstore.RecInt(assist, "clockSeconds") - clock
			if delta < -l.window || delta > l.window {
				continue
			}
			if localstore.RecInt(assist, "periodNumber") != period {
				continue
			}
			if err := l.linkPair(ctx, goal, assist); err != nil {
				return err
			}
		}
	}
	return nil
}

// RelinkAll backfills links across every match with events. Used once by the
// data migration that introduced linking.
func (l *Linker) RelinkAll(ctx context.Context) error {
	rows, err := l.store.DB().QueryContext(ctx,
		`SELECT DISTINCT matchId FROM events WHERE isDeleted = 0`)
	if err != nil {
		return fmt.Errorf("failed to enumerate matches with events: %w", err)
	}
	defer rows.Close()

	var matchIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan match id: %w", err)
		}
		matchIDs = append(matchIDs, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, matchID := range matchIDs {
		if err := l.RelinkMatch(ctx, matchID); err != nil {
			return err
		}
	}
	return nil
}

// BackfillLinks is the logical data migration that retroactively links
// historical events when the linking feature first ships.
func BackfillLinks(linker *Linker) localstore.DataMigration {
	return localstore.DataMigration{
		Version: 2,
		Name:    "backfill event links",
		Run: func(ctx context.Context, _ *localstore.Store) error {
			return linker.RelinkAll(ctx)
		},
	}
}

// linkPair records the bidirectional link. Link sets are stored as sorted
// JSON id arrays and union-merged, so repeating a link changes nothing. Link
// writes deliberately do not touch the synced flag: the annotation rides
// along with the event's next push instead of forcing one.
func (l *Linker) linkPair(ctx context.Context, a, b localstore.Record) error {
	if err := l.addLink(ctx, a, localstore.RecString(b, localstore.ColID)); err != nil {
		return err
	}
	return l.addLink(ctx, b, localstore.RecString(a, localstore.ColID))
}

func (l *Linker) addLink(ctx context.Context, rec localstore.Record, linkID string) error {
	id := localstore.RecString(rec, localstore.ColID)
	links, err := decodeLinks(localstore.RecString(rec, "linkedEventIds"))
	if err != nil {
		return fmt.Errorf("corrupt link set on event %s: %w", id, err)
	}
	for _, existing := range links {
		if existing == linkID {
			return nil
		}
	}
	links = append(links, linkID)
	sort.Strings(links)

	encoded, err := json.Marshal(links)
	if err != nil {
		return err
	}
	_, err = l.store.DB().ExecContext(ctx,
		`UPDATE events SET linkedEventIds = ? WHERE id = ?`, string(encoded), id)
	if err != nil {
		return fmt.Errorf("failed to store link set on event %s: %w", id, err)
	}
	// Keep the in-memory record current for subsequent pairs in this batch.
	rec["linkedEventIds"] = string(encoded)
	return nil
}

func decodeLinks(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var links []string
	if err := json.Unmarshal([]byte(raw), &links); err != nil {
		return nil, err
	}
	return links, nil
}
