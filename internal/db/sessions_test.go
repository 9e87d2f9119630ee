package db

import (
	"testing"

	"github.com/penciled/penciled/internal/errors"
	"github.com/penciled/penciled/internal/input"
	"github.com/penciled/penciled/internal/session"
)

// newTestSession builds a pending text session with literal timestamps.
func newTestSession(id, owner string) *session.Session {
	return &session.Session{
		ID:        id,
		Owner:     owner,
		InputKind: input.KindText,
		InputRef:  "standup every monday at 9am",
		Status:    session.StatusPending,
		CreatedAt: 1000,
		UpdatedAt: 1000,
	}
}

func TestInsertSession_AndGetByID(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	s := newTestSession("01SES001", "user-1")
	s.InputHint = "work calendar"

	if err := InsertSession(db, s); err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}

	got, err := GetSessionByID(db, "01SES001")
	if err != nil {
		t.Fatalf("GetSessionByID failed: %v", err)
	}

	if got.Owner != "user-1" {
		t.Errorf("Owner = %q, want user-1", got.Owner)
	}
	if got.InputKind != input.KindText {
		t.Errorf("InputKind = %q, want text", got.InputKind)
	}
	if got.InputRef != s.InputRef {
		t.Errorf("InputRef = %q, want %q", got.InputRef, s.InputRef)
	}
	if got.InputHint != "work calendar" {
		t.Errorf("InputHint = %q, want %q", got.InputHint, "work calendar")
	}
	if got.Status != session.StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if got.ErrorMessage != nil {
		t.Errorf("ErrorMessage = %v, want nil", got.ErrorMessage)
	}
	if got.Listable {
		t.Error("new session should not be listable")
	}
	if len(got.EventIDs) != 0 {
		t.Errorf("EventIDs = %v, want empty", got.EventIDs)
	}
	if got.CreatedAt != 1000 || got.UpdatedAt != 1000 {
		t.Errorf("timestamps = %d/%d, want 1000/1000", got.CreatedAt, got.UpdatedAt)
	}
}

func TestGetSessionByID_NotFound(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	_, err = GetSessionByID(db, "missing")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestInsertSession_DuplicateID(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	s := newTestSession("01SES010", "user-1")
	if err := InsertSession(db, s); err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}

	if err := InsertSession(db, s); err != ErrUniqueConstraint {
		t.Errorf("expected ErrUniqueConstraint, got %v", err)
	}
}

func TestListSessions_OnlyListable(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	for i, id := range []string{"01SES101", "01SES102", "01SES103"} {
		s := newTestSession(id, "user-1")
		s.UpdatedAt = int64(1000 + i)
		if err := InsertSession(db, s); err != nil {
			t.Fatalf("InsertSession failed: %v", err)
		}
	}

	// Only two become durable
	if err := MarkSessionListable(db, "01SES101"); err != nil {
		t.Fatalf("MarkSessionListable failed: %v", err)
	}
	if err := MarkSessionListable(db, "01SES103"); err != nil {
		t.Fatalf("MarkSessionListable failed: %v", err)
	}

	sessions, total, err := ListSessions(db, "user-1", 10, 0)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}

	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	if len(sessions) != 2 {
		t.Fatalf("len(sessions) = %d, want 2", len(sessions))
	}
	for _, s := range sessions {
		if s.ID == "01SES102" {
			t.Error("non-listable session returned in listing")
		}
	}
}

func TestListSessions_Pagination(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	for i := 0; i < 5; i++ {
		id := "01SES20" + string(rune('1'+i))
		s := newTestSession(id, "user-1")
		s.Listable = true
		s.UpdatedAt = int64(1000 + i)
		if err := InsertSession(db, s); err != nil {
			t.Fatalf("InsertSession failed: %v", err)
		}
	}

	page1, total, err := ListSessions(db, "user-1", 2, 0)
	if err != nil {
		t.Fatalf("ListSessions page 1 failed: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(page1) != 2 {
		t.Fatalf("page1 len = %d, want 2", len(page1))
	}

	// Most recently updated first
	if page1[0].ID != "01SES205" {
		t.Errorf("first listed = %q, want 01SES205", page1[0].ID)
	}

	page2, _, err := ListSessions(db, "user-1", 2, 2)
	if err != nil {
		t.Fatalf("ListSessions page 2 failed: %v", err)
	}
	if len(page2) != 2 {
		t.Fatalf("page2 len = %d, want 2", len(page2))
	}
	if page2[0].ID == page1[0].ID || page2[0].ID == page1[1].ID {
		t.Error("page 2 repeats page 1 entries")
	}
}

func TestListSessions_OwnerScoped(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	mine := newTestSession("01SES301", "user-1")
	mine.Listable = true
	theirs := newTestSession("01SES302", session.GuestOwner)
	theirs.Listable = true

	if err := InsertSession(db, mine); err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}
	if err := InsertSession(db, theirs); err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}

	sessions, total, err := ListSessions(db, "user-1", 10, 0)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if total != 1 || len(sessions) != 1 {
		t.Fatalf("total = %d, len = %d, want 1/1", total, len(sessions))
	}
	if sessions[0].ID != "01SES301" {
		t.Errorf("listed = %q, want 01SES301", sessions[0].ID)
	}
}

func TestUpdateSessionStatus_Advances(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	s := newTestSession("01SES401", "user-1")
	if err := InsertSession(db, s); err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}

	if err := UpdateSessionStatus(db, s.ID, session.StatusPending, session.StatusProcessing); err != nil {
		t.Fatalf("pending -> processing failed: %v", err)
	}
	if err := UpdateSessionStatus(db, s.ID, session.StatusProcessing, session.StatusProcessed); err != nil {
		t.Fatalf("processing -> processed failed: %v", err)
	}

	got, err := GetSessionByID(db, s.ID)
	if err != nil {
		t.Fatalf("GetSessionByID failed: %v", err)
	}
	if got.Status != session.StatusProcessed {
		t.Errorf("Status = %q, want processed", got.Status)
	}
}

func TestUpdateSessionStatus_RejectsRegression(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	s := newTestSession("01SES402", "user-1")
	s.Status = session.StatusProcessed
	if err := InsertSession(db, s); err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}

	// The row is processed, so a CAS expecting processing must not fire
	err = UpdateSessionStatus(db, s.ID, session.StatusProcessing, session.StatusError)
	if !errors.Is(err, errors.ErrValidation) {
		t.Errorf("expected VALIDATION, got %v", err)
	}

	got, _ := GetSessionByID(db, s.ID)
	if got.Status != session.StatusProcessed {
		t.Errorf("Status = %q, want processed (unchanged)", got.Status)
	}
}

func TestUpdateSessionStatus_NotFound(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	err = UpdateSessionStatus(db, "missing", session.StatusPending, session.StatusProcessing)
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestSetSessionError(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	s := newTestSession("01SES403", "user-1")
	s.Status = session.StatusProcessing
	if err := InsertSession(db, s); err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}

	if err := SetSessionError(db, s.ID, "processing failed during ingest; resubmit to try again"); err != nil {
		t.Fatalf("SetSessionError failed: %v", err)
	}

	got, err := GetSessionByID(db, s.ID)
	if err != nil {
		t.Fatalf("GetSessionByID failed: %v", err)
	}
	if got.Status != session.StatusError {
		t.Errorf("Status = %q, want error", got.Status)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage == "" {
		t.Error("ErrorMessage not stored")
	}
}

func TestSetSessionError_NeverOverwritesTerminal(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	s := newTestSession("01SES404", "user-1")
	s.Status = session.StatusProcessed
	if err := InsertSession(db, s); err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}

	err = SetSessionError(db, s.ID, "late failure")
	if !errors.Is(err, errors.ErrValidation) {
		t.Errorf("expected VALIDATION, got %v", err)
	}

	got, _ := GetSessionByID(db, s.ID)
	if got.Status != session.StatusProcessed {
		t.Errorf("Status = %q, want processed (unchanged)", got.Status)
	}
	if got.ErrorMessage != nil {
		t.Errorf("ErrorMessage = %v, want nil", got.ErrorMessage)
	}
}

func TestMarkSessionListable_Idempotent(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	s := newTestSession("01SES405", "user-1")
	if err := InsertSession(db, s); err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}

	if err := MarkSessionListable(db, s.ID); err != nil {
		t.Fatalf("first MarkSessionListable failed: %v", err)
	}
	if err := MarkSessionListable(db, s.ID); err != nil {
		t.Fatalf("second MarkSessionListable failed: %v", err)
	}

	got, _ := GetSessionByID(db, s.ID)
	if !got.Listable {
		t.Error("session should be listable")
	}
}

func TestSweepStuckSessions(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	stale := newTestSession("01SES501", "user-1")
	stale.Status = session.StatusProcessing
	stale.UpdatedAt = 1000

	fresh := newTestSession("01SES502", "user-1")
	fresh.Status = session.StatusProcessing
	fresh.UpdatedAt = 5000

	done := newTestSession("01SES503", "user-1")
	done.Status = session.StatusProcessed
	done.UpdatedAt = 1000

	for _, s := range []*session.Session{stale, fresh, done} {
		if err := InsertSession(db, s); err != nil {
			t.Fatalf("InsertSession failed: %v", err)
		}
	}

	swept, err := SweepStuckSessions(db, 2000)
	if err != nil {
		t.Fatalf("SweepStuckSessions failed: %v", err)
	}
	if len(swept) != 1 || swept[0] != "01SES501" {
		t.Errorf("swept = %v, want [01SES501]", swept)
	}

	got, _ := GetSessionByID(db, "01SES501")
	if got.Status != session.StatusError {
		t.Errorf("stale session status = %q, want error", got.Status)
	}
	if got.ErrorMessage == nil {
		t.Error("swept session should carry an error message")
	}

	got, _ = GetSessionByID(db, "01SES502")
	if got.Status != session.StatusProcessing {
		t.Errorf("fresh session status = %q, want processing", got.Status)
	}
}

func TestReapTransientSessions(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	// Transient: terminal, never produced an event, old
	transient := newTestSession("01SES601", "user-1")
	transient.Status = session.StatusError
	transient.UpdatedAt = 1000

	// Durable: terminal and listable, old
	durable := newTestSession("01SES602", "user-1")
	durable.Status = session.StatusProcessed
	durable.Listable = true
	durable.UpdatedAt = 1000

	// Transient but recent
	recent := newTestSession("01SES603", "user-1")
	recent.Status = session.StatusProcessed
	recent.UpdatedAt = 5000

	for _, s := range []*session.Session{transient, durable, recent} {
		if err := InsertSession(db, s); err != nil {
			t.Fatalf("InsertSession failed: %v", err)
		}
	}

	r := &session.StageRecord{
		ID:            "rec-1",
		SessionID:     "01SES601",
		Stage:         "ingest",
		InputSnapshot: "{}",
		OK:            true,
		DurationMS:    5,
		CreatedAt:     1000,
	}
	if err := InsertStageRecord(db, r); err != nil {
		t.Fatalf("InsertStageRecord failed: %v", err)
	}

	reaped, err := ReapTransientSessions(db, 2000)
	if err != nil {
		t.Fatalf("ReapTransientSessions failed: %v", err)
	}
	if len(reaped) != 1 || reaped[0] != "01SES601" {
		t.Errorf("reaped = %v, want [01SES601]", reaped)
	}

	if _, err := GetSessionByID(db, "01SES601"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("reaped session still readable: %v", err)
	}
	if _, err := GetSessionByID(db, "01SES602"); err != nil {
		t.Errorf("durable session reaped: %v", err)
	}
	if _, err := GetSessionByID(db, "01SES603"); err != nil {
		t.Errorf("recent session reaped: %v", err)
	}

	records, err := ListStageRecords(db, "01SES601")
	if err != nil {
		t.Fatalf("ListStageRecords failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("stage records survived reap: %d", len(records))
	}
}

func TestCountSessionsByStatus(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer db.Close()

	a := newTestSession("01SES701", "user-1")
	a.Status = session.StatusProcessed
	a.Listable = true

	b := newTestSession("01SES702", "user-1")
	b.Status = session.StatusProcessed
	b.Listable = true

	c := newTestSession("01SES703", "user-1")
	c.Status = session.StatusError
	c.Listable = true

	// Not listable, must not count
	d := newTestSession("01SES704", "user-1")
	d.Status = session.StatusError

	for _, s := range []*session.Session{a, b, c, d} {
		if err := InsertSession(db, s); err != nil {
			t.Fatalf("InsertSession failed: %v", err)
		}
	}

	counts, err := CountSessionsByStatus(db)
	if err != nil {
		t.Fatalf("CountSessionsByStatus failed: %v", err)
	}
	if counts[session.StatusProcessed] != 2 {
		t.Errorf("processed = %d, want 2", counts[session.StatusProcessed])
	}
	if counts[session.StatusError] != 1 {
		t.Errorf("error = %d, want 1", counts[session.StatusError])
	}
}
