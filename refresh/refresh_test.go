// Copyright 2026 MatchKeep Contributors
// SPDX-License-Identifier: Apache-2.0

package refresh

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/matchkeep/go-rostersync/localstore"
	"github.com/matchkeep/go-rostersync/restapi"
)

type fakeConn struct{ online atomic.Bool }

func (c *fakeConn) Online() bool { return c.online.Load() }

// fakeServer serves paginated {data, hasMore} collections per resource.
type fakeServer struct {
	mu        sync.Mutex
	resources map[string][]restapi.Record
	requests  int
	onRequest func(resource string, page int)
	server    *httptest.Server
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{resources: map[string][]restapi.Record{}}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resource := r.URL.Path[1:]
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if page < 1 {
			page = 1
		}
		if limit < 1 {
			limit = 50
		}

		f.mu.Lock()
		f.requests++
		records := f.resources[resource]
		hook := f.onRequest
		f.mu.Unlock()
		if hook != nil {
			hook(resource, page)
		}

		start := (page - 1) * limit
		end := start + limit
		if start > len(records) {
			start = len(records)
		}
		if end > len(records) {
			end = len(records)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(restapi.Page{
			Data:    records[start:end],
			HasMore: end < len(records),
		})
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeServer) set(resource string, records ...restapi.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resources[resource] = records
}

func (f *fakeServer) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func remoteTeam(id, name string) restapi.Record {
	return restapi.Record{
		"id": id, "name": name, "isDeleted": false,
		"createdAt": "2026-01-01T00:00:00Z", "updatedAt": "2026-01-01T00:00:00Z",
	}
}

func remoteMatch(id string) restapi.Record {
	return restapi.Record{
		"id": id, "homeTeamId": "t1", "awayTeamId": "t2", "isDeleted": false,
		"createdAt": "2026-01-01T00:00:00Z", "updatedAt": "2026-01-01T00:00:00Z",
	}
}

func newTestRefresher(t *testing.T) (*Refresher, *localstore.Store, *fakeServer, *fakeConn) {
	t.Helper()
	store, err := localstore.Open(filepath.Join(t.TempDir(), "rostersync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	srv := newFakeServer(t)
	conn := &fakeConn{}
	conn.online.Store(true)

	api := restapi.NewClient(srv.server.URL, func(ctx context.Context) (string, error) {
		return "test-token", nil
	})
	cfg := DefaultConfig()
	cfg.PageInterval = time.Millisecond
	return NewRefresher(store, api, conn, cfg, nil), store, srv, conn
}

func waitTask(t *testing.T, task *Task) {
	t.Helper()
	require.NotNil(t, task)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, task.Wait(ctx))
}

func TestRefreshIsNoopOffline(t *testing.T) {
	refresher, _, srv, conn := newTestRefresher(t)
	conn.online.Store(false)

	task, err := refresher.Refresh(context.Background())
	require.NoError(t, err)
	require.Nil(t, task)
	require.Zero(t, srv.requestCount())
}

func TestRefreshPreservesUnsyncedLocalWork(t *testing.T) {
	refresher, store, srv, _ := newTestRefresher(t)
	ctx := context.Background()

	// A team created offline, unknown to the server.
	offline, err := store.Save(ctx, localstore.KindTeam, "user-1", localstore.Record{"name": "Sunday Side"})
	require.NoError(t, err)
	offlineID := localstore.RecString(offline, localstore.ColID)

	// A locally-edited copy of a server team: unsynced, so local wins.
	require.NoError(t, store.UpsertRemote(ctx, localstore.KindTeam, remoteTeam("t-edit", "Old Name"), time.Now()))
	_, err = store.Save(ctx, localstore.KindTeam, "user-1", localstore.Record{
		localstore.ColID: "t-edit", "name": "New Local Name",
	})
	require.NoError(t, err)

	// A synced team the server no longer returns: deleted remotely.
	require.NoError(t, store.UpsertRemote(ctx, localstore.KindTeam, remoteTeam("t-gone", "Folded FC"), time.Now()))

	srv.set("teams", remoteTeam("t-edit", "Server Name"), remoteTeam("t-new", "Rovers"))

	task, err := refresher.Refresh(ctx)
	require.NoError(t, err)
	waitTask(t, task)

	// Offline creation untouched, still awaiting push.
	got, err := store.Get(ctx, localstore.KindTeam, offlineID)
	require.NoError(t, err)
	require.False(t, localstore.RecBool(got, localstore.ColSynced))

	// Local unsynced edit wins wholesale over the remote version.
	got, err = store.Get(ctx, localstore.KindTeam, "t-edit")
	require.NoError(t, err)
	require.Equal(t, "New Local Name", localstore.RecString(got, "name"))
	require.False(t, localstore.RecBool(got, localstore.ColSynced))

	// Remote-only team materialized, already synced.
	got, err = store.Get(ctx, localstore.KindTeam, "t-new")
	require.NoError(t, err)
	require.True(t, localstore.RecBool(got, localstore.ColSynced))

	// Remotely deleted team propagated by implication.
	_, err = store.Get(ctx, localstore.KindTeam, "t-gone")
	require.ErrorIs(t, err, localstore.ErrNotFound)
}

func TestCleanupTemporalRetentionBoundary(t *testing.T) {
	refresher, store, _, _ := newTestRefresher(t)
	ctx := context.Background()

	now := time.Now()
	window := refresher.cfg.RetentionWindow

	remoteEvent := func(id string) restapi.Record {
		return restapi.Record{
			"id": id, "matchId": "m1", "kind": "goal", "isDeleted": false,
			"createdAt": "2026-01-01T00:00:00Z", "updatedAt": "2026-01-01T00:00:00Z",
		}
	}

	// Synced well inside the window: retained.
	require.NoError(t, store.UpsertRemote(ctx, localstore.KindEvent, remoteEvent("fresh"), now.Add(-time.Hour)))
	// A second shy of the boundary: retained (pruning needs strictly older
	// than the window, so a row aged exactly 30 days survives too).
	require.NoError(t, store.UpsertRemote(ctx, localstore.KindEvent, remoteEvent("boundary"), now.Add(-window+time.Second)))
	// Synced beyond the window: pruned.
	require.NoError(t, store.UpsertRemote(ctx, localstore.KindEvent, remoteEvent("stale"), now.Add(-window-time.Hour)))

	// Unsynced local work is exempt no matter how old.
	old := now.Add(-2 * window).UTC().Format(localstore.TimeFormat)
	_, err := store.DB().ExecContext(ctx, `
		INSERT INTO events (id, matchId, kind, synced, createdAt, updatedAt, isDeleted)
		VALUES ('unsynced-old', 'm1', 'goal', 0, ?, ?, 0)
	`, old, old)
	require.NoError(t, err)

	// Match metadata is never swept.
	require.NoError(t, store.UpsertRemote(ctx, localstore.KindMatch, remoteMatch("m1"), now.Add(-2*window)))

	require.NoError(t, refresher.CleanupTemporal(ctx))

	for _, id := range []string{"fresh", "boundary", "unsynced-old"} {
		_, err := store.Get(ctx, localstore.KindEvent, id)
		require.NoError(t, err, "event %s should survive", id)
	}
	_, err = store.Get(ctx, localstore.KindEvent, "stale")
	require.ErrorIs(t, err, localstore.ErrNotFound)

	_, err = store.Get(ctx, localstore.KindMatch, "m1")
	require.NoError(t, err)
}

func TestCleanupTemporalFallsBackToCreatedAt(t *testing.T) {
	refresher, store, _, _ := newTestRefresher(t)
	ctx := context.Background()

	// A synced row with no syncedAt (legacy data): createdAt is the clock.
	old := time.Now().Add(-refresher.cfg.RetentionWindow - time.Hour).UTC().Format(localstore.TimeFormat)
	_, err := store.DB().ExecContext(ctx, `
		INSERT INTO events (id, matchId, kind, synced, createdAt, updatedAt, isDeleted)
		VALUES ('legacy', 'm1', 'goal', 1, ?, ?, 0)
	`, old, old)
	require.NoError(t, err)

	require.NoError(t, refresher.CleanupTemporal(ctx))

	_, err = store.Get(ctx, localstore.KindEvent, "legacy")
	require.ErrorIs(t, err, localstore.ErrNotFound)
}

func TestRefreshReopenedMatchResetsRetentionClock(t *testing.T) {
	refresher, store, _, _ := newTestRefresher(t)
	ctx := context.Background()

	now := time.Now()
	window := refresher.cfg.RetentionWindow

	// An old event re-pulled an hour ago: its retention clock restarted.
	rec := restapi.Record{
		"id": "revisited", "matchId": "m1", "kind": "goal", "isDeleted": false,
		"createdAt": now.Add(-3 * window).UTC().Format(localstore.TimeFormat),
		"updatedAt": "2026-01-01T00:00:00Z",
	}
	require.NoError(t, store.UpsertRemote(ctx, localstore.KindEvent, rec, now.Add(-time.Hour)))

	require.NoError(t, refresher.CleanupTemporal(ctx))

	_, err := store.Get(ctx, localstore.KindEvent, "revisited")
	require.NoError(t, err)
}
