// Copyright 2026 MatchKeep Contributors
// SPDX-License-Identifier: Apache-2.0

package refresh

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/matchkeep/go-rostersync/events"
	"github.com/matchkeep/go-rostersync/localstore"
)

// recordingObserver captures dispatched events for assertions.
type recordingObserver struct {
	mu     sync.Mutex
	accept string
	got    []events.Event
}

func (o *recordingObserver) OnEvent(event events.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.got = append(o.got, event)
	return nil
}

func (o *recordingObserver) Name() string { return "recording" }

func (o *recordingObserver) ShouldHandle(eventType string) bool { return eventType == o.accept }

func (o *recordingObserver) events() []events.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]events.Event(nil), o.got...)
}

func TestBackgroundPaginationCachesAllPages(t *testing.T) {
	refresher, store, srv, _ := newTestRefresher(t)
	refresher.cfg.PageLimit = 2
	ctx := context.Background()

	observer := &recordingObserver{accept: events.TypeMatchesCached}
	store.Dispatcher().Register(observer)

	var matches []map[string]any
	for i := 0; i < 5; i++ {
		matches = append(matches, remoteMatch(fmt.Sprintf("m%d", i)))
	}
	srv.set("matches", matches...)

	task, err := refresher.Refresh(ctx)
	require.NoError(t, err)
	waitTask(t, task)

	cached, err := store.List(ctx, localstore.KindMatch)
	require.NoError(t, err)
	require.Len(t, cached, 5)

	pages, merged := task.Progress()
	require.Equal(t, 2, pages, "pages two and three fetched in the background")
	require.Equal(t, 5, merged)

	dispatched := observer.events()
	require.Len(t, dispatched, 1)
	payload, ok := dispatched[0].Data.(events.MatchesCached)
	require.True(t, ok)
	require.Equal(t, 5, payload.Matches)
}

func TestBackgroundPaginationSkipsUnsyncedLocalMatches(t *testing.T) {
	refresher, store, srv, _ := newTestRefresher(t)
	refresher.cfg.PageLimit = 2
	ctx := context.Background()

	// m1 has unsynced local edits; the cached copy must not clobber them.
	_, err := store.Save(ctx, localstore.KindMatch, "user-1", localstore.Record{
		localstore.ColID: "m1", "homeTeamId": "t1", "awayTeamId": "t2", "venue": "Local Park",
	})
	require.NoError(t, err)

	srv.set("matches", remoteMatch("m0"), remoteMatch("m1"), remoteMatch("m2"))

	task, err := refresher.Refresh(ctx)
	require.NoError(t, err)
	waitTask(t, task)

	got, err := store.Get(ctx, localstore.KindMatch, "m1")
	require.NoError(t, err)
	require.Equal(t, "Local Park", localstore.RecString(got, "venue"))
	require.False(t, localstore.RecBool(got, localstore.ColSynced))
}

func TestBackgroundPaginationAbortsCleanlyWhenOffline(t *testing.T) {
	refresher, store, srv, conn := newTestRefresher(t)
	refresher.cfg.PageLimit = 1
	ctx := context.Background()

	var matches []map[string]any
	for i := 0; i < 10; i++ {
		matches = append(matches, remoteMatch(fmt.Sprintf("m%d", i)))
	}
	srv.set("matches", matches...)

	// Drop connectivity after the second background page is served.
	srv.onRequest = func(resource string, page int) {
		if resource == "matches" && page == 3 {
			conn.online.Store(false)
		}
	}

	task, err := refresher.Refresh(ctx)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	// Going offline mid-loop is a clean abort, not an error.
	require.NoError(t, task.Wait(waitCtx))

	cached, err := store.List(ctx, localstore.KindMatch)
	require.NoError(t, err)
	require.Less(t, len(cached), 10)
	require.GreaterOrEqual(t, len(cached), 3, "pages served before going offline were merged")
}

func TestTaskCancelStopsPagination(t *testing.T) {
	refresher, _, srv, _ := newTestRefresher(t)
	refresher.cfg.PageLimit = 1
	refresher.cfg.PageInterval = 50 * time.Millisecond
	ctx := context.Background()

	var matches []map[string]any
	for i := 0; i < 100; i++ {
		matches = append(matches, remoteMatch(fmt.Sprintf("m%d", i)))
	}
	srv.set("matches", matches...)

	task, err := refresher.Refresh(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)

	task.Cancel()

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, task.Wait(waitCtx))

	pages, _ := task.Progress()
	require.Less(t, pages, 99)
}

func TestRefreshDeduplicatesConcurrentCalls(t *testing.T) {
	refresher, _, srv, _ := newTestRefresher(t)
	ctx := context.Background()
	srv.set("teams", remoteTeam("t1", "Tigers"))

	// Hold the refresh in flight while a second call arrives.
	release := make(chan struct{})
	srv.onRequest = func(resource string, page int) {
		if resource == "teams" {
			<-release
		}
	}

	first := make(chan error, 1)
	go func() {
		task, err := refresher.Refresh(ctx)
		if task != nil {
			_ = task.Wait(ctx)
		}
		first <- err
	}()

	// Give the first refresh time to take the guard.
	require.Eventually(t, func() bool {
		return refresher.inFlight.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)

	task, err := refresher.Refresh(ctx)
	require.NoError(t, err)
	require.Nil(t, task, "second caller returns immediately")

	close(release)
	require.NoError(t, <-first)
}
