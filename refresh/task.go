// Copyright 2026 MatchKeep Contributors
// SPDX-License-Identifier: Apache-2.0

package refresh

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/matchkeep/go-rostersync/events"
)

// Task is the handle for the background match-pagination loop. Unlike a
// fire-and-forget goroutine, callers can await it, cancel it, or ask whether
// it finished.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	err     error
	pages   int
	matches int
}

// Done is closed when the loop has finished, whether it completed, aborted
// offline, or was cancelled.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the loop finishes or ctx expires.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops the loop before the next page fetch.
func (t *Task) Cancel() { t.cancel() }

// Err reports a failure of the loop. Losing connectivity mid-loop is a clean
// abort, not an error.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Progress returns how many background pages were fetched and how many
// matches were merged overall (page one included).
func (t *Task) Progress() (pages, matches int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pages, t.matches
}

// startPaginationTask launches the detached loop that fetches match pages
// two onward. It re-checks connectivity before each page, paces fetches
// through a rate limiter, and exits cleanly (no error) when the device goes
// offline mid-loop. On completion it emits the matches:cached signal for
// interested UI.
func (r *Refresher) startPaginationTask(hasMore bool, mergedSoFar int) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	task := &Task{cancel: cancel, done: make(chan struct{}), matches: mergedSoFar}

	if !hasMore {
		cancel()
		close(task.done)
		r.emitMatchesCached(task)
		return task
	}

	limiter := rate.NewLimiter(rate.Every(r.cfg.PageInterval), 1)
	go func() {
		defer cancel()
		defer close(task.done)

		for page := 2; ; page++ {
			if !r.conn.Online() {
				r.logger.Debug("match caching aborted, connectivity lost", "page", page)
				return
			}
			if err := limiter.Wait(ctx); err != nil {
				return
			}

			result, err := r.api.ListPage(ctx, "matches", page, r.cfg.PageLimit)
			if err != nil {
				// A failed page ends the loop; the next refresh picks up
				// where the cache is thinnest anyway.
				r.logger.Warn("match caching stopped on fetch error", "page", page, "error", err)
				task.mu.Lock()
				task.err = err
				task.mu.Unlock()
				return
			}

			merged, err := r.mergeMatches(ctx, result.Data)
			task.mu.Lock()
			task.pages++
			task.matches += merged
			task.mu.Unlock()
			if err != nil {
				task.mu.Lock()
				task.err = err
				task.mu.Unlock()
				return
			}
			if !result.HasMore {
				break
			}
		}
		r.emitMatchesCached(task)
	}()
	return task
}

func (r *Refresher) emitMatchesCached(task *Task) {
	pages, matches := task.Progress()
	r.store.Dispatcher().Dispatch(events.Event{
		Type: events.TypeMatchesCached,
		Data: events.MatchesCached{Pages: pages, Matches: matches},
	})
}
