// Copyright 2026 MatchKeep Contributors
// SPDX-License-Identifier: Apache-2.0

// Package events distributes in-process notifications emitted by the sync
// engine (local mutations, background cache progress, lifecycle triggers) to
// interested application components such as UI view models.
package events

import (
	"log/slog"
	"sync"
)

// Signal types emitted by the engine.
const (
	// TypeDataChanged fires after any local mutation commits.
	TypeDataChanged = "data:changed"
	// TypeMatchesCached fires when background match pagination finishes
	// and more matches are available locally.
	TypeMatchesCached = "matches:cached"
	// TypeSyncIssue fires when a push attempt is quarantined and needs a
	// human decision (retry or discard).
	TypeSyncIssue = "sync:issue"
)

// Event is a single notification with an optional typed payload.
type Event struct {
	Type string
	Data any
}

// Observer receives dispatched events.
type Observer interface {
	// OnEvent is called for every event the observer subscribed to.
	OnEvent(event Event) error

	// Name identifies the observer in logs.
	Name() string

	// ShouldHandle filters event types this observer cares about.
	ShouldHandle(eventType string) bool
}

// Dispatcher fans events out to registered observers. Safe for concurrent use.
type Dispatcher struct {
	mu        sync.RWMutex
	observers []Observer
	logger    *slog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger}
}

// Register adds an observer. It will receive all future events it accepts.
func (d *Dispatcher) Register(observer Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, observer)
	d.logger.Debug("registered observer", "observer", observer.Name())
}

// Unregister removes a previously registered observer.
func (d *Dispatcher) Unregister(observer Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, obs := range d.observers {
		if obs == observer {
			d.observers[i] = d.observers[len(d.observers)-1]
			d.observers = d.observers[:len(d.observers)-1]
			return
		}
	}
}

// Dispatch notifies observers sequentially in registration order. Observer
// failures are logged and never propagate; a slow or broken UI listener must
// not break a sync cycle.
func (d *Dispatcher) Dispatch(event Event) {
	d.mu.RLock()
	observers := make([]Observer, len(d.observers))
	copy(observers, d.observers)
	d.mu.RUnlock()

	for _, observer := range observers {
		if !observer.ShouldHandle(event.Type) {
			continue
		}
		if err := observer.OnEvent(event); err != nil {
			d.logger.Warn("observer failed to handle event",
				"observer", observer.Name(), "type", event.Type, "error", err)
		}
	}
}
