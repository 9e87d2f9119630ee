package event

import (
	"fmt"
	"time"
)

// Event represents one calendar entry extracted and formatted from a
// session's input.
type Event struct {
	// ID is a ULID that uniquely identifies this event
	ID string `json:"id"`

	// SessionID is the session this event was extracted from
	SessionID string `json:"session_id"`

	// Position is the event's slot index within the session's identified
	// set; it fixes display order regardless of which extraction chain
	// finished first
	Position int `json:"position"`

	// Summary is the calendar entry title
	Summary string `json:"summary"`

	// Start is the start of the event
	Start DateTime `json:"start"`

	// End is the end of the event
	End DateTime `json:"end,omitempty"`

	// AllDay marks a date-only event; Start/End carry dates without times
	AllDay bool `json:"all_day"`

	// Location is an optional venue or address
	Location *string `json:"location,omitempty"`

	// Description is optional free-form notes, markdown allowed
	Description *string `json:"description,omitempty"`

	// Recurrence is an optional RFC 5545 RRULE (without the "RRULE:" prefix)
	Recurrence *string `json:"recurrence,omitempty"`

	// CalendarID is the target calendar for sync (nullable; config default
	// applies when unset)
	CalendarID *string `json:"calendar_id,omitempty"`

	// Version is the monotonic mutation counter; starts at 1, +1 per
	// accepted mutation, server value is authoritative
	Version int64 `json:"version"`

	// Syncs records this event's push status per provider
	Syncs []ProviderSync `json:"syncs,omitempty"`

	// CreatedAt is the Unix timestamp when the event was created
	CreatedAt int64 `json:"created_at"`

	// UpdatedAt is the Unix timestamp when the event was last updated
	UpdatedAt int64 `json:"updated_at"`

	// DeletedAt is the Unix timestamp for soft delete (nullable)
	DeletedAt *int64 `json:"deleted_at,omitempty"`
}

// DateTime is a wall-clock point: a date plus an optional time in an IANA
// timezone. Time and TimeZone are empty for all-day events.
type DateTime struct {
	Date     string `json:"date"`
	Time     string `json:"time,omitempty"`
	TimeZone string `json:"time_zone,omitempty"`
}

// IsZero reports whether the DateTime carries no date at all.
func (dt DateTime) IsZero() bool {
	return dt.Date == ""
}

// Resolve converts the wall-clock fields into a time.Time. All-day values
// resolve to midnight in fallback (or UTC). Timed values resolve in their
// own zone, falling back to fallback when the zone is unset.
func (dt DateTime) Resolve(fallback *time.Location) (time.Time, error) {
	if fallback == nil {
		fallback = time.UTC
	}
	loc := fallback
	if dt.TimeZone != "" {
		l, err := time.LoadLocation(dt.TimeZone)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone %q: %w", dt.TimeZone, err)
		}
		loc = l
	}
	if dt.Time == "" {
		t, err := time.ParseInLocation("2006-01-02", dt.Date, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date %q: %w", dt.Date, err)
		}
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", dt.Date+" "+dt.Time, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid datetime %q %q: %w", dt.Date, dt.Time, err)
	}
	return t, nil
}

// ProviderSync records an event's push status to one external calendar
// provider.
type ProviderSync struct {
	// Provider is the provider name from the calendar registry
	Provider string `json:"provider"`

	// ProviderEventID is the provider-native id assigned on create
	ProviderEventID string `json:"provider_event_id"`

	// CalendarID is the provider calendar the event was pushed to
	CalendarID string `json:"calendar_id"`

	// SyncedVersion is Event.Version at the last successful push
	SyncedVersion int64 `json:"synced_version"`

	// SyncedAt is the Unix timestamp of the last successful push
	SyncedAt int64 `json:"synced_at"`
}

// SyncState describes an event's relationship to one provider.
type SyncState string

const (
	// SyncDraft means the event has never been pushed to the provider.
	SyncDraft SyncState = "draft"

	// SyncApplied means the provider copy matches the current version.
	SyncApplied SyncState = "applied"

	// SyncEdited means the event changed since its last push.
	SyncEdited SyncState = "edited"
)

// SyncFor returns the sync record for the given provider, or nil.
func (e *Event) SyncFor(provider string) *ProviderSync {
	for i := range e.Syncs {
		if e.Syncs[i].Provider == provider {
			return &e.Syncs[i]
		}
	}
	return nil
}

// SyncStateFor derives the event's sync state against one provider:
// draft with no sync record, applied when synced_version == version,
// edited when synced_version < version.
func (e *Event) SyncStateFor(provider string) SyncState {
	ps := e.SyncFor(provider)
	if ps == nil {
		return SyncDraft
	}
	if ps.SyncedVersion == e.Version {
		return SyncApplied
	}
	return SyncEdited
}

// Window resolves the event's concrete [start, end) time range. All-day
// events span midnight to midnight the following day when End is unset.
// Timed events with no End default to a one hour duration.
func (e *Event) Window(fallback *time.Location) (time.Time, time.Time, error) {
	start, err := e.Start.Resolve(fallback)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if e.AllDay {
		end := start.Add(24 * time.Hour)
		if !e.End.IsZero() {
			resolved, err := e.End.Resolve(fallback)
			if err != nil {
				return time.Time{}, time.Time{}, err
			}
			// End date is inclusive; the window runs through that day.
			end = resolved.Add(24 * time.Hour)
		}
		return start, end, nil
	}
	if e.End.IsZero() {
		return start, start.Add(time.Hour), nil
	}
	end, err := e.End.Resolve(fallback)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}
