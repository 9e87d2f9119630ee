package db

import (
	"testing"

	"github.com/penciled/penciled/internal/event"
)

func TestUpsertProviderSync_InsertThenUpdate(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	e := newTestEvent("01EVT601", "01SES001", 0)
	if err := InsertEvent(db, e); err != nil {
		t.Fatalf("InsertEvent failed: %v", err)
	}

	ps := &event.ProviderSync{
		Provider:        "personal",
		ProviderEventID: "ics-uid-1",
		CalendarID:      "home",
		SyncedVersion:   1,
		SyncedAt:        1000,
	}
	if err := UpsertProviderSync(db, e.ID, ps); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}

	// Same event and provider again: row is replaced, not duplicated
	ps.SyncedVersion = 3
	ps.SyncedAt = 2000
	if err := UpsertProviderSync(db, e.ID, ps); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	syncs, err := ListSyncsForEvent(db, e.ID)
	if err != nil {
		t.Fatalf("ListSyncsForEvent failed: %v", err)
	}
	if len(syncs) != 1 {
		t.Fatalf("len(syncs) = %d, want 1", len(syncs))
	}
	if syncs[0].SyncedVersion != 3 || syncs[0].SyncedAt != 2000 {
		t.Errorf("sync = %+v, want synced_version 3 at 2000", syncs[0])
	}
}

func TestGetEventByID_AttachesSyncs(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	e := newTestEvent("01EVT602", "01SES001", 0)
	if err := InsertEvent(db, e); err != nil {
		t.Fatalf("InsertEvent failed: %v", err)
	}

	for _, provider := range []string{"work", "personal"} {
		ps := &event.ProviderSync{
			Provider:        provider,
			ProviderEventID: "uid-" + provider,
			CalendarID:      "default",
			SyncedVersion:   1,
			SyncedAt:        1000,
		}
		if err := UpsertProviderSync(db, e.ID, ps); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}

	got, err := GetEventByID(db, e.ID)
	if err != nil {
		t.Fatalf("GetEventByID failed: %v", err)
	}
	if len(got.Syncs) != 2 {
		t.Fatalf("len(Syncs) = %d, want 2", len(got.Syncs))
	}
	// Ordered by provider name
	if got.Syncs[0].Provider != "personal" || got.Syncs[1].Provider != "work" {
		t.Errorf("sync order = %q, %q", got.Syncs[0].Provider, got.Syncs[1].Provider)
	}
	if got.SyncStateFor("personal") != event.SyncApplied {
		t.Errorf("SyncStateFor(personal) = %q, want applied", got.SyncStateFor("personal"))
	}
	if got.SyncStateFor("missing") != event.SyncDraft {
		t.Errorf("SyncStateFor(missing) = %q, want draft", got.SyncStateFor("missing"))
	}
}

func TestListSyncsForSession(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	a := newTestEvent("01EVT603", "01SES001", 0)
	b := newTestEvent("01EVT604", "01SES001", 1)
	other := newTestEvent("01EVT605", "01SES999", 0)
	for _, e := range []*event.Event{a, b, other} {
		if err := InsertEvent(db, e); err != nil {
			t.Fatalf("InsertEvent failed: %v", err)
		}
	}

	for _, id := range []string{a.ID, other.ID} {
		ps := &event.ProviderSync{
			Provider:        "personal",
			ProviderEventID: "uid-" + id,
			CalendarID:      "home",
			SyncedVersion:   1,
			SyncedAt:        1000,
		}
		if err := UpsertProviderSync(db, id, ps); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}

	syncs, err := ListSyncsForSession(db, "01SES001")
	if err != nil {
		t.Fatalf("ListSyncsForSession failed: %v", err)
	}
	if len(syncs) != 1 {
		t.Fatalf("len(syncs) = %d, want 1 event with rows", len(syncs))
	}
	if len(syncs[a.ID]) != 1 {
		t.Errorf("syncs for %s = %v", a.ID, syncs[a.ID])
	}
	if _, ok := syncs[other.ID]; ok {
		t.Error("sync rows from another session leaked in")
	}

	// Events list attaches them
	events, err := ListSessionEvents(db, "01SES001")
	if err != nil {
		t.Fatalf("ListSessionEvents failed: %v", err)
	}
	if len(events[0].Syncs) != 1 {
		t.Errorf("events[0].Syncs = %v, want 1 row", events[0].Syncs)
	}
	if len(events[1].Syncs) != 0 {
		t.Errorf("events[1].Syncs = %v, want none", events[1].Syncs)
	}
}

func TestCountSyncedEvents(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	a := newTestEvent("01EVT606", "01SES001", 0)
	b := newTestEvent("01EVT607", "01SES001", 1)
	for _, e := range []*event.Event{a, b} {
		if err := InsertEvent(db, e); err != nil {
			t.Fatalf("InsertEvent failed: %v", err)
		}
	}

	// Two providers for one event still count it once
	for _, provider := range []string{"work", "personal"} {
		ps := &event.ProviderSync{
			Provider:        provider,
			ProviderEventID: "uid",
			CalendarID:      "default",
			SyncedVersion:   1,
			SyncedAt:        1000,
		}
		if err := UpsertProviderSync(db, a.ID, ps); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}

	n, err := CountSyncedEvents(db)
	if err != nil {
		t.Fatalf("CountSyncedEvents failed: %v", err)
	}
	if n != 1 {
		t.Errorf("CountSyncedEvents = %d, want 1", n)
	}

	// Soft-deleted events drop out of the count
	if err := SoftDeleteEvent(db, a.ID); err != nil {
		t.Fatalf("SoftDeleteEvent failed: %v", err)
	}
	n, err = CountSyncedEvents(db)
	if err != nil {
		t.Fatalf("CountSyncedEvents failed: %v", err)
	}
	if n != 0 {
		t.Errorf("CountSyncedEvents after delete = %d, want 0", n)
	}
}
