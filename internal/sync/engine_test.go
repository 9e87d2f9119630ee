package sync

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/penciled/penciled/internal/calendar"
	"github.com/penciled/penciled/internal/config"
	"github.com/penciled/penciled/internal/db"
	"github.com/penciled/penciled/internal/errors"
	"github.com/penciled/penciled/internal/event"
	"github.com/penciled/penciled/internal/input"
	"github.com/penciled/penciled/internal/session"
)

type fakeProvider struct {
	name string

	expired   bool
	refreshOK bool
	refreshes int

	createCalls int
	created     []string
	updated     []string
	failIDs     map[string]bool
	entries     []calendar.Entry
	nextID      int
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{name: name, refreshOK: true}
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Calendars(ctx context.Context) ([]string, error) {
	return []string{f.name}, nil
}

func (f *fakeProvider) Create(ctx context.Context, calendarID string, e *event.Event) (string, error) {
	f.createCalls++
	if f.expired {
		return "", errors.NewAuthExpired(f.name)
	}
	if f.failIDs[e.ID] {
		return "", errors.NewInternal(stderrors.New("backend unavailable"))
	}
	f.created = append(f.created, e.ID)
	f.nextID++
	return fmt.Sprintf("%s-%d", f.name, f.nextID), nil
}

func (f *fakeProvider) Update(ctx context.Context, calendarID, providerEventID string, e *event.Event) error {
	if f.expired {
		return errors.NewAuthExpired(f.name)
	}
	if f.failIDs[e.ID] {
		return errors.NewInternal(stderrors.New("backend unavailable"))
	}
	f.updated = append(f.updated, providerEventID)
	return nil
}

func (f *fakeProvider) Entries(ctx context.Context, calendarID string, from, to time.Time) ([]calendar.Entry, error) {
	return f.entries, nil
}

func (f *fakeProvider) Refresh(ctx context.Context) error {
	f.refreshes++
	if f.refreshOK {
		f.expired = false
	}
	return nil
}

func newTestEngine(t *testing.T, provs ...*fakeProvider) (*Engine, *sql.DB) {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	reg := calendar.NewRegistry()
	for _, p := range provs {
		reg.Register(p)
	}
	return &Engine{DB: database, Registry: reg, Config: config.DefaultConfig()}, database
}

func seedSession(t *testing.T, database *sql.DB, id string) {
	t.Helper()
	now := time.Now().Unix()
	s := &session.Session{
		ID:        id,
		Owner:     "user-1",
		InputKind: input.KindText,
		InputRef:  "note",
		Status:    session.StatusProcessed,
		Listable:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.InsertSession(database, s); err != nil {
		t.Fatalf("InsertSession() error = %v", err)
	}
}

func seedEvent(t *testing.T, database *sql.DB, sessionID, id string, position int) *event.Event {
	t.Helper()
	now := time.Now().Unix()
	e := &event.Event{
		ID:        id,
		SessionID: sessionID,
		Position:  position,
		Summary:   "Event " + id,
		Start:     event.DateTime{Date: "2026-09-07", Time: "09:00", TimeZone: "UTC"},
		End:       event.DateTime{Date: "2026-09-07", Time: "10:00", TimeZone: "UTC"},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.InsertEvent(database, e); err != nil {
		t.Fatalf("InsertEvent() error = %v", err)
	}
	return e
}

func stringPtr(s string) *string { return &s }

func TestSyncEventsCreatesDrafts(t *testing.T) {
	prov := newFakeProvider("family")
	g, database := newTestEngine(t, prov)
	seedSession(t, database, "s-1")
	e1 := seedEvent(t, database, "s-1", "ev-1", 0)
	e2 := seedEvent(t, database, "s-1", "ev-2", 1)

	res := g.SyncEvents(context.Background(), []event.Event{*e1, *e2}, "")

	if len(res.Created) != 2 || len(res.Failed) != 0 || len(res.Skipped) != 0 {
		t.Fatalf("result = %+v, want both created", res)
	}
	if len(prov.created) != 2 {
		t.Errorf("provider saw %d creates, want 2", len(prov.created))
	}

	syncs, err := db.ListSyncsForEvent(database, "ev-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(syncs) != 1 {
		t.Fatalf("sync rows = %+v, want 1", syncs)
	}
	ps := syncs[0]
	if ps.Provider != "family" || ps.SyncedVersion != 1 || ps.ProviderEventID == "" {
		t.Errorf("sync row = %+v", ps)
	}
}

func TestSyncEventsSkipsAppliedAndIsIdempotent(t *testing.T) {
	prov := newFakeProvider("family")
	g, database := newTestEngine(t, prov)
	seedSession(t, database, "s-1")
	e := seedEvent(t, database, "s-1", "ev-1", 0)

	events := []event.Event{*e}
	first := g.SyncEvents(context.Background(), events, "")
	if len(first.Created) != 1 {
		t.Fatalf("first sync = %+v, want created", first)
	}

	second := g.SyncEvents(context.Background(), events, "")
	if len(second.Skipped) != 1 || len(second.Created) != 0 {
		t.Fatalf("second sync = %+v, want skipped", second)
	}
	if prov.createCalls != 1 {
		t.Errorf("provider Create called %d times, want 1", prov.createCalls)
	}

	// A fresh read from the store skips too.
	stored, err := db.GetEventByID(database, "ev-1")
	if err != nil {
		t.Fatal(err)
	}
	third := g.SyncEvents(context.Background(), []event.Event{*stored}, "")
	if len(third.Skipped) != 1 {
		t.Fatalf("third sync = %+v, want skipped", third)
	}
}

func TestSyncEventsUpdatesEdited(t *testing.T) {
	prov := newFakeProvider("family")
	g, database := newTestEngine(t, prov)
	seedSession(t, database, "s-1")
	e := seedEvent(t, database, "s-1", "ev-1", 0)

	events := []event.Event{*e}
	g.SyncEvents(context.Background(), events, "")

	events[0].Version = 2
	events[0].Summary = "Moved"
	res := g.SyncEvents(context.Background(), events, "")

	if len(res.Updated) != 1 || len(res.Created) != 0 {
		t.Fatalf("result = %+v, want updated", res)
	}
	if len(prov.updated) != 1 || prov.updated[0] != "family-1" {
		t.Errorf("provider updates = %v, want [family-1]", prov.updated)
	}

	syncs, err := db.ListSyncsForEvent(database, "ev-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(syncs) != 1 || syncs[0].SyncedVersion != 2 {
		t.Errorf("sync rows = %+v, want synced_version 2", syncs)
	}
}

func TestSyncEventsIsolatesFailures(t *testing.T) {
	prov := newFakeProvider("family")
	prov.failIDs = map[string]bool{"ev-2": true}
	g, database := newTestEngine(t, prov)
	seedSession(t, database, "s-1")
	e1 := seedEvent(t, database, "s-1", "ev-1", 0)
	e2 := seedEvent(t, database, "s-1", "ev-2", 1)
	e3 := seedEvent(t, database, "s-1", "ev-3", 2)

	res := g.SyncEvents(context.Background(), []event.Event{*e1, *e2, *e3}, "")

	if len(res.Created) != 2 {
		t.Fatalf("created = %v, want ev-1 and ev-3", res.Created)
	}
	if len(res.Failed) != 1 || res.Failed[0].EventID != "ev-2" || res.Failed[0].Message == "" {
		t.Fatalf("failed = %+v, want ev-2 with a message", res.Failed)
	}

	syncs, err := db.ListSyncsForEvent(database, "ev-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(syncs) != 0 {
		t.Errorf("failed event has sync rows: %+v", syncs)
	}
}

func TestSyncEventsRefreshesExpiredAuth(t *testing.T) {
	prov := newFakeProvider("family")
	prov.expired = true
	g, database := newTestEngine(t, prov)
	seedSession(t, database, "s-1")
	e := seedEvent(t, database, "s-1", "ev-1", 0)

	res := g.SyncEvents(context.Background(), []event.Event{*e}, "")

	if len(res.Created) != 1 {
		t.Fatalf("result = %+v, want created after refresh", res)
	}
	if prov.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", prov.refreshes)
	}
	if prov.createCalls != 2 {
		t.Errorf("createCalls = %d, want 2 (failed then retried)", prov.createCalls)
	}
}

func TestSyncEventsSurfacesRepeatedAuthFailure(t *testing.T) {
	prov := newFakeProvider("family")
	prov.expired = true
	prov.refreshOK = false
	g, database := newTestEngine(t, prov)
	seedSession(t, database, "s-1")
	e := seedEvent(t, database, "s-1", "ev-1", 0)

	res := g.SyncEvents(context.Background(), []event.Event{*e}, "")

	if len(res.Failed) != 1 {
		t.Fatalf("result = %+v, want failed", res)
	}
	if !strings.Contains(res.Failed[0].Message, "authorization expired") {
		t.Errorf("failure message = %q, want re-auth error", res.Failed[0].Message)
	}
	if prov.refreshes != 1 {
		t.Errorf("refreshes = %d, want exactly 1 silent retry", prov.refreshes)
	}
}

func TestSyncEventsReportsConflicts(t *testing.T) {
	prov := newFakeProvider("family")
	prov.entries = []calendar.Entry{{
		UID:     "other@cal",
		Summary: "Standup",
		Start:   time.Date(2026, 9, 7, 9, 30, 0, 0, time.UTC),
		End:     time.Date(2026, 9, 7, 10, 30, 0, 0, time.UTC),
	}}
	g, database := newTestEngine(t, prov)
	seedSession(t, database, "s-1")
	e := seedEvent(t, database, "s-1", "ev-1", 0)

	res := g.SyncEvents(context.Background(), []event.Event{*e}, "")

	if len(res.Created) != 1 {
		t.Fatalf("result = %+v, conflicts must not block the push", res)
	}
	if len(res.Conflicts) != 1 {
		t.Fatalf("conflicts = %+v, want 1", res.Conflicts)
	}
	c := res.Conflicts[0]
	if c.EventID != "ev-1" || c.EntryUID != "other@cal" || c.Provider != "family" {
		t.Errorf("conflict = %+v", c)
	}
}

func TestSyncEventsExcludesOwnEntryFromConflicts(t *testing.T) {
	prov := newFakeProvider("family")
	g, database := newTestEngine(t, prov)
	seedSession(t, database, "s-1")
	e := seedEvent(t, database, "s-1", "ev-1", 0)

	events := []event.Event{*e}
	g.SyncEvents(context.Background(), events, "")

	// The provider now lists the event's own entry in the same slot.
	prov.entries = []calendar.Entry{{
		UID:   "family-1",
		Start: time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 9, 7, 10, 0, 0, 0, time.UTC),
	}}
	events[0].Version = 2
	res := g.SyncEvents(context.Background(), events, "")

	if len(res.Updated) != 1 {
		t.Fatalf("result = %+v, want updated", res)
	}
	if len(res.Conflicts) != 0 {
		t.Errorf("conflicts = %+v, event conflicts with its own entry", res.Conflicts)
	}
}

func TestSyncEventsExpandsRecurringCandidates(t *testing.T) {
	tomorrow := time.Now().UTC().Add(24 * time.Hour)
	overlapDay := tomorrow.Add(48 * time.Hour)

	prov := newFakeProvider("family")
	prov.entries = []calendar.Entry{{
		UID:     "busy@cal",
		Summary: "Offsite",
		Start:   time.Date(overlapDay.Year(), overlapDay.Month(), overlapDay.Day(), 9, 30, 0, 0, time.UTC),
		End:     time.Date(overlapDay.Year(), overlapDay.Month(), overlapDay.Day(), 10, 30, 0, 0, time.UTC),
	}}
	g, database := newTestEngine(t, prov)
	seedSession(t, database, "s-1")

	now := time.Now().Unix()
	e := &event.Event{
		ID:         "ev-1",
		SessionID:  "s-1",
		Summary:    "Morning run",
		Start:      event.DateTime{Date: tomorrow.Format("2006-01-02"), Time: "09:00", TimeZone: "UTC"},
		End:        event.DateTime{Date: tomorrow.Format("2006-01-02"), Time: "10:00", TimeZone: "UTC"},
		Recurrence: stringPtr("FREQ=DAILY;COUNT=10"),
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := db.InsertEvent(database, e); err != nil {
		t.Fatal(err)
	}

	res := g.SyncEvents(context.Background(), []event.Event{*e}, "")

	if len(res.Created) != 1 {
		t.Fatalf("result = %+v, want created", res)
	}
	if len(res.Conflicts) != 1 || res.Conflicts[0].EntryUID != "busy@cal" {
		t.Fatalf("conflicts = %+v, want the third occurrence flagged", res.Conflicts)
	}
}

func TestSyncEventsRoutesByCalendarID(t *testing.T) {
	home := newFakeProvider("home")
	work := newFakeProvider("work")
	g, database := newTestEngine(t, home, work)
	seedSession(t, database, "s-1")
	e1 := seedEvent(t, database, "s-1", "ev-1", 0)
	e2 := seedEvent(t, database, "s-1", "ev-2", 1)
	e1.CalendarID = stringPtr("work")

	res := g.SyncEvents(context.Background(), []event.Event{*e1, *e2}, "")

	if len(res.Created) != 2 {
		t.Fatalf("result = %+v, want both created", res)
	}
	if len(work.created) != 1 || work.created[0] != "ev-1" {
		t.Errorf("work provider saw %v, want [ev-1]", work.created)
	}
	// The first registered calendar is the default.
	if len(home.created) != 1 || home.created[0] != "ev-2" {
		t.Errorf("home provider saw %v, want [ev-2]", home.created)
	}
}

func TestSyncEventsOverrideForcesProvider(t *testing.T) {
	home := newFakeProvider("home")
	work := newFakeProvider("work")
	g, database := newTestEngine(t, home, work)
	seedSession(t, database, "s-1")
	e := seedEvent(t, database, "s-1", "ev-1", 0)
	e.CalendarID = stringPtr("home")

	res := g.SyncEvents(context.Background(), []event.Event{*e}, "work")

	if len(res.Created) != 1 {
		t.Fatalf("result = %+v, want created", res)
	}
	if len(work.created) != 1 || len(home.created) != 0 {
		t.Errorf("override ignored: work=%v home=%v", work.created, home.created)
	}
}

func TestSyncEventsFailsUnknownCalendar(t *testing.T) {
	g, database := newTestEngine(t, newFakeProvider("family"))
	seedSession(t, database, "s-1")
	e := seedEvent(t, database, "s-1", "ev-1", 0)
	e.CalendarID = stringPtr("ghost")

	res := g.SyncEvents(context.Background(), []event.Event{*e}, "")

	if len(res.Failed) != 1 || !strings.Contains(res.Failed[0].Message, "not found") {
		t.Fatalf("result = %+v, want not-found failure", res)
	}
}

func TestSyncEventsNoCalendarConfigured(t *testing.T) {
	g, database := newTestEngine(t)
	seedSession(t, database, "s-1")
	e := seedEvent(t, database, "s-1", "ev-1", 0)

	res := g.SyncEvents(context.Background(), []event.Event{*e}, "")

	if len(res.Failed) != 1 || !strings.Contains(res.Failed[0].Message, "no calendar is configured") {
		t.Fatalf("result = %+v, want configuration failure", res)
	}
}
