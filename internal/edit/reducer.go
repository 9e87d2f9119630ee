// Package edit keeps a client's view of a session's events consistent
// while mutations are in flight. State transitions go through a pure
// reducer; the controller layers speculative persistence and
// reconciliation on top of it.
package edit

import (
	"github.com/jinzhu/copier"

	"github.com/penciled/penciled/internal/event"
)

// Op tags one state transition.
type Op string

const (
	// OpLoad replaces the whole list with server data and resets the
	// confirmed floor to it.
	OpLoad Op = "load"

	// OpPatch applies a local edit speculatively and bumps the local
	// version ahead of confirmation.
	OpPatch Op = "patch"

	// OpDelete removes an event speculatively.
	OpDelete Op = "delete"

	// OpConfirm replaces the local copy with the server's authoritative
	// entity; a nil Event confirms a deletion.
	OpConfirm Op = "confirm"

	// OpFail surfaces a rejected persist. Speculative state stays
	// visible; nothing is silently reverted.
	OpFail Op = "fail"
)

// Change is one reducer input.
type Change struct {
	Op      Op
	EventID string
	Patch   *event.Patch
	Event   *event.Event
	Events  []event.Event
	Message string

	// At stamps UpdatedAt on speculative edits.
	At int64
}

// State is one session's event list as currently displayed. Treat values
// as immutable snapshots: Apply never mutates its input, so old states
// stay valid for comparison.
type State struct {
	SessionID string
	Events    []event.Event

	// Confirmed is the last server-confirmed version per event id. The
	// displayed version never falls below it; speculative bumps only
	// ever run ahead.
	Confirmed map[string]int64

	// Failed holds the last rejected persist per event id, cleared by
	// the next confirmation for that id.
	Failed map[string]string
}

// Apply returns the state after one change.
func Apply(s State, c Change) State {
	switch c.Op {
	case OpLoad:
		s.Events = cloneEvents(c.Events)
		s.Confirmed = make(map[string]int64, len(c.Events))
		for _, e := range c.Events {
			s.Confirmed[e.ID] = e.Version
		}
		s.Failed = map[string]string{}
		return s

	case OpPatch:
		if c.Patch == nil || c.Patch.IsZero() {
			return s
		}
		events := cloneEvents(s.Events)
		for i := range events {
			if events[i].ID != c.EventID {
				continue
			}
			events[i] = c.Patch.Apply(events[i])
			events[i].Version++
			events[i].UpdatedAt = c.At
			break
		}
		s.Events = events
		return s

	case OpDelete:
		s.Events = dropEvent(s.Events, c.EventID)
		return s

	case OpConfirm:
		if c.Event == nil {
			s.Events = dropEvent(s.Events, c.EventID)
			s.Confirmed = deleteKey(s.Confirmed, c.EventID)
			s.Failed = deleteKey(s.Failed, c.EventID)
			return s
		}
		server := cloneEvent(*c.Event)
		if floor, ok := s.Confirmed[server.ID]; ok && server.Version < floor {
			return s
		}
		events := cloneEvents(s.Events)
		replaced := false
		for i := range events {
			if events[i].ID == server.ID {
				events[i] = server
				replaced = true
				break
			}
		}
		if !replaced {
			// Deleted locally while the persist was in flight.
			return s
		}
		s.Events = events
		s.Confirmed = setKey(s.Confirmed, server.ID, server.Version)
		s.Failed = deleteKey(s.Failed, server.ID)
		return s

	case OpFail:
		s.Failed = setKey(s.Failed, c.EventID, c.Message)
		return s
	}
	return s
}

func cloneEvents(events []event.Event) []event.Event {
	out := []event.Event{}
	copier.CopyWithOption(&out, events, copier.Option{DeepCopy: true})
	return out
}

func cloneEvent(e event.Event) event.Event {
	var out event.Event
	copier.CopyWithOption(&out, e, copier.Option{DeepCopy: true})
	return out
}

func dropEvent(events []event.Event, id string) []event.Event {
	out := make([]event.Event, 0, len(events))
	for _, e := range events {
		if e.ID == id {
			continue
		}
		out = append(out, cloneEvent(e))
	}
	return out
}

// setKey and deleteKey copy-on-write so shared snapshots never see the
// change.
func setKey[V any](m map[string]V, k string, v V) map[string]V {
	out := make(map[string]V, len(m)+1)
	for mk, mv := range m {
		out[mk] = mv
	}
	out[k] = v
	return out
}

func deleteKey[V any](m map[string]V, k string) map[string]V {
	if _, ok := m[k]; !ok {
		return m
	}
	out := make(map[string]V, len(m))
	for mk, mv := range m {
		if mk == k {
			continue
		}
		out[mk] = mv
	}
	return out
}
