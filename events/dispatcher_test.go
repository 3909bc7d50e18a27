// Copyright 2026 MatchKeep Contributors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type testObserver struct {
	name   string
	accept map[string]bool
	got    []Event
	fail   error
}

func (o *testObserver) OnEvent(event Event) error {
	o.got = append(o.got, event)
	return o.fail
}

func (o *testObserver) Name() string { return o.name }

func (o *testObserver) ShouldHandle(eventType string) bool { return o.accept[eventType] }

func TestDispatchFiltersByType(t *testing.T) {
	d := NewDispatcher(nil)
	dataOnly := &testObserver{name: "data", accept: map[string]bool{TypeDataChanged: true}}
	everything := &testObserver{name: "all", accept: map[string]bool{
		TypeDataChanged: true, TypeMatchesCached: true, TypeSyncIssue: true,
	}}
	d.Register(dataOnly)
	d.Register(everything)

	d.Dispatch(Event{Type: TypeDataChanged, Data: DataChanged{Table: "teams", ID: "t1"}})
	d.Dispatch(Event{Type: TypeMatchesCached, Data: MatchesCached{Pages: 2, Matches: 40}})

	require.Len(t, dataOnly.got, 1)
	require.Equal(t, TypeDataChanged, dataOnly.got[0].Type)
	require.Len(t, everything.got, 2)
}

func TestDispatchSurvivesObserverFailure(t *testing.T) {
	d := NewDispatcher(nil)
	broken := &testObserver{name: "broken",
		accept: map[string]bool{TypeSyncIssue: true}, fail: errors.New("ui crashed")}
	healthy := &testObserver{name: "healthy", accept: map[string]bool{TypeSyncIssue: true}}
	d.Register(broken)
	d.Register(healthy)

	d.Dispatch(Event{Type: TypeSyncIssue, Data: SyncIssue{Table: "events", ID: "e1"}})

	// The failure is logged, not propagated; later observers still run.
	require.Len(t, healthy.got, 1)
}

func TestUnregisterStopsDelivery(t *testing.T) {
	d := NewDispatcher(nil)
	observer := &testObserver{name: "o", accept: map[string]bool{TypeDataChanged: true}}
	d.Register(observer)

	d.Dispatch(Event{Type: TypeDataChanged})
	d.Unregister(observer)
	d.Dispatch(Event{Type: TypeDataChanged})

	require.Len(t, observer.got, 1)

	// Unregistering twice is harmless.
	d.Unregister(observer)
}
