// Copyright 2026 MatchKeep Contributors
// SPDX-License-Identifier: Apache-2.0

package events

// DataChanged is the payload for data:changed events.
type DataChanged struct {
	Table string `json:"table"`
	ID    string `json:"id"`
}

// MatchesCached is the payload for matches:cached events.
type MatchesCached struct {
	Pages   int `json:"pages"`   // pages fetched by the background loop
	Matches int `json:"matches"` // matches merged into the local store
}

// SyncIssue is the payload for sync:issue events.
type SyncIssue struct {
	Table      string `json:"table"`
	ID         string `json:"id"`
	ReasonCode string `json:"reasonCode"`
}
