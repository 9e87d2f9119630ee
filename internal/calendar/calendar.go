// Package calendar abstracts the calendars events are pushed to. The
// bundled implementation is file-backed ICS; anything able to list,
// create, and update entries can stand behind the same interface.
package calendar

import (
	"context"
	"time"

	"github.com/penciled/penciled/internal/event"
)

// Entry is one concrete occurrence on a provider calendar. Recurring
// entries surface as one Entry per occurrence inside the asked window.
type Entry struct {
	// UID is the provider-native id, shared by every occurrence of a
	// recurring entry.
	UID string

	Summary  string
	Location string

	Start  time.Time
	End    time.Time
	AllDay bool
}

// Provider pushes events to one external calendar backend and reads the
// schedule back for overlap checks.
type Provider interface {
	// Name is the registry key this provider was configured under.
	Name() string

	// Calendars lists the calendar ids the provider serves.
	Calendars(ctx context.Context) ([]string, error)

	// Create adds the event to the given calendar and returns the
	// provider-native event id.
	Create(ctx context.Context, calendarID string, e *event.Event) (string, error)

	// Update rewrites the entry previously created under providerEventID.
	Update(ctx context.Context, calendarID, providerEventID string, e *event.Event) error

	// Entries lists concrete occurrences within [from, to).
	Entries(ctx context.Context, calendarID string, from, to time.Time) ([]Entry, error)

	// Refresh re-establishes provider credentials after an auth expiry.
	Refresh(ctx context.Context) error
}

// Overlaps reports whether the half-open ranges [aStart, aEnd) and
// [bStart, bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
