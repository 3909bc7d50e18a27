// Copyright 2026 MatchKeep Contributors
// SPDX-License-Identifier: Apache-2.0

package localstore

import "fmt"

// Kind identifies one synced entity table. Components address tables through
// this enum instead of raw strings so an unknown table is a compile-time or
// registry-lookup error, never a silent typo.
type Kind int

const (
	KindSeason Kind = iota
	KindTeam
	KindPlayer
	KindPlayerTeam
	KindDefaultLineup
	KindMatch
	KindMatchPeriod
	KindLineup
	KindEvent
	KindMatchState
)

// Class describes the retention policy applied to a table.
type Class int

const (
	// ClassReference data is retained indefinitely and refreshed wholesale
	// from the server.
	ClassReference Class = iota
	// ClassTemporal data is pruned once synced and older than the retention
	// window.
	ClassTemporal
	// ClassMetadata data syncs but is never pruned (lightweight parents of
	// temporal rows).
	ClassMetadata
)

// TableSpec declares everything the sync engine needs to know about a table.
type TableSpec struct {
	Kind      Kind
	Table     string // SQLite table name
	Resource  string // remote REST collection, e.g. "player-teams"
	Class     Class
	Ephemeral bool   // derived runtime state; discard is always a hard delete
	Parent    string // column referencing the owning record, "" for roots
	Required  []string
}

// registry is ordered parent-first so the flush cycle pushes referenced
// records before the records that point at them.
var registry = []TableSpec{
	{Kind: KindSeason, Table: "seasons", Resource: "seasons", Class: ClassReference,
		Required: []string{"label"}},
	{Kind: KindTeam, Table: "teams", Resource: "teams", Class: ClassReference,
		Required: []string{"name"}},
	{Kind: KindPlayer, Table: "players", Resource: "players", Class: ClassReference,
		Required: []string{"name"}},
	{Kind: KindPlayerTeam, Table: "player_teams", Resource: "player-teams", Class: ClassReference,
		Parent: "teamId", Required: []string{"playerId", "teamId"}},
	{Kind: KindDefaultLineup, Table: "default_lineups", Resource: "default-lineups", Class: ClassReference,
		Parent: "teamId", Required: []string{"teamId"}},
	{Kind: KindMatch, Table: "matches", Resource: "matches", Class: ClassMetadata,
		Parent: "seasonId", Required: []string{"homeTeamId", "awayTeamId"}},
	{Kind: KindMatchPeriod, Table: "match_periods", Resource: "match-periods", Class: ClassTemporal,
		Parent: "matchId", Required: []string{"matchId"}},
	{Kind: KindLineup, Table: "lineups", Resource: "lineups", Class: ClassTemporal,
		Parent: "matchId", Required: []string{"matchId", "playerId"}},
	{Kind: KindEvent, Table: "events", Resource: "events", Class: ClassTemporal,
		Parent: "matchId", Required: []string{"matchId", "kind"}},
	{Kind: KindMatchState, Table: "match_states", Resource: "match-states", Class: ClassTemporal,
		Ephemeral: true, Parent: "matchId", Required: []string{"matchId"}},
}

var specByKind = func() map[Kind]TableSpec {
	m := make(map[Kind]TableSpec, len(registry))
	for _, spec := range registry {
		m[spec.Kind] = spec
	}
	return m
}()

// Spec returns the table spec for a kind. Unknown kinds panic: they indicate
// a programming error, not a runtime condition.
func Spec(kind Kind) TableSpec {
	spec, ok := specByKind[kind]
	if !ok {
		panic(fmt.Sprintf("localstore: unregistered kind %d", kind))
	}
	return spec
}

// AllSpecs returns every registered table, parent-first.
func AllSpecs() []TableSpec {
	specs := make([]TableSpec, len(registry))
	copy(specs, registry)
	return specs
}

// ReferenceSpecs returns the tables refreshed wholesale from the server.
func ReferenceSpecs() []TableSpec {
	var specs []TableSpec
	for _, spec := range registry {
		if spec.Class == ClassReference {
			specs = append(specs, spec)
		}
	}
	return specs
}

// TemporalSpecs returns the tables subject to windowed retention.
func TemporalSpecs() []TableSpec {
	var specs []TableSpec
	for _, spec := range registry {
		if spec.Class == ClassTemporal {
			specs = append(specs, spec)
		}
	}
	return specs
}

func (k Kind) String() string {
	if spec, ok := specByKind[k]; ok {
		return spec.Table
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}
