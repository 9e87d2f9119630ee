package ops

import (
	"context"
	"testing"

	"github.com/penciled/penciled/internal/db"
	"github.com/penciled/penciled/internal/errors"
	"github.com/penciled/penciled/internal/input"
	"github.com/penciled/penciled/internal/progress"
	"github.com/penciled/penciled/internal/session"
)

func TestProgressSnapshotWithLog(t *testing.T) {
	d := newTestDeps(t)

	created, err := CreateSession(context.Background(), d, CreateSessionInput{
		Input: input.NewText("dentist tomorrow, soccer friday"),
		Wait:  true,
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	out, err := Progress(d, ProgressInput{ID: created.Session.ID})
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}

	if !out.Done {
		t.Error("Done = false, want true for a settled session")
	}
	if out.Status != session.StatusProcessed {
		t.Errorf("Status = %q, want %q", out.Status, session.StatusProcessed)
	}
	if out.EventCount != 2 {
		t.Errorf("EventCount = %d, want 2", out.EventCount)
	}
	if len(out.Notifications) == 0 {
		t.Fatal("Notifications is empty, want the pipeline's log")
	}
	for i := 1; i < len(out.Notifications); i++ {
		if out.Notifications[i].Seq <= out.Notifications[i-1].Seq {
			t.Fatalf("Notifications out of order at %d: %d then %d",
				i, out.Notifications[i-1].Seq, out.Notifications[i].Seq)
		}
	}
	last := out.Notifications[len(out.Notifications)-1]
	if last.Kind != progress.KindComplete {
		t.Errorf("last notification Kind = %q, want %q", last.Kind, progress.KindComplete)
	}
}

func TestProgressWithoutLog(t *testing.T) {
	d := newTestDeps(t)
	// Seeded directly: no pipeline ran, so the broker has nothing. The
	// session row is still authoritative.
	seedSessionRow(t, d, "s-1", "local", session.StatusProcessed, true)

	out, err := Progress(d, ProgressInput{ID: "s-1"})
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if !out.Done {
		t.Error("Done = false, want true")
	}
	if len(out.Notifications) != 0 {
		t.Errorf("Notifications = %v, want empty", out.Notifications)
	}
	if out.Notifications == nil {
		t.Error("Notifications = nil, want empty array")
	}
}

func TestProgressFailedSessionCarriesError(t *testing.T) {
	d := newTestDeps(t)
	seedSessionRow(t, d, "s-err", "local", session.StatusProcessing, false)
	msg := "processing failed during ingest; resubmit to try again"
	if err := db.SetSessionError(d.DB, "s-err", msg); err != nil {
		t.Fatalf("SetSessionError() error = %v", err)
	}

	out, err := Progress(d, ProgressInput{ID: "s-err"})
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if !out.Done {
		t.Error("Done = false, want true for an errored session")
	}
	if out.Error != msg {
		t.Errorf("Error = %q, want %q", out.Error, msg)
	}
}

func TestProgressValidation(t *testing.T) {
	d := newTestDeps(t)

	if _, err := Progress(d, ProgressInput{}); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("empty id: error = %v, want ErrValidation", err)
	}
	if _, err := Progress(d, ProgressInput{ID: "missing"}); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("unknown id: error = %v, want ErrNotFound", err)
	}
}

func TestProgressGuestToken(t *testing.T) {
	d := newTestDeps(t)
	token := seedGuest(t, d, "s-guest")

	if _, err := Progress(d, ProgressInput{ID: "s-guest"}); !errors.Is(err, errors.ErrUnauthorized) {
		t.Errorf("tokenless: error = %v, want ErrUnauthorized", err)
	}
	out, err := Progress(d, ProgressInput{ID: "s-guest", Token: token})
	if err != nil {
		t.Fatalf("Progress() with token error = %v", err)
	}
	if out.SessionID != "s-guest" {
		t.Errorf("SessionID = %q, want %q", out.SessionID, "s-guest")
	}
}
