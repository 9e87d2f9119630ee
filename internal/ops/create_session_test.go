package ops

import (
	"context"
	"testing"

	"github.com/penciled/penciled/internal/db"
	"github.com/penciled/penciled/internal/errors"
	"github.com/penciled/penciled/internal/input"
	"github.com/penciled/penciled/internal/session"
)

func TestCreateSessionWaitReturnsProcessed(t *testing.T) {
	d := newTestDeps(t)

	out, err := CreateSession(context.Background(), d, CreateSessionInput{
		Input: input.NewText("dentist tomorrow 9am, soccer friday"),
		Wait:  true,
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if out.Session.Status != session.StatusProcessed {
		t.Errorf("Status = %q, want %q", out.Session.Status, session.StatusProcessed)
	}
	if out.Session.Owner != "local" {
		t.Errorf("Owner = %q, want %q", out.Session.Owner, "local")
	}
	if out.Session.EventCount != 2 {
		t.Errorf("EventCount = %d, want 2", out.Session.EventCount)
	}
	if len(out.Session.EventIDs) != 2 {
		t.Errorf("len(EventIDs) = %d, want 2", len(out.Session.EventIDs))
	}
	if out.AccessToken != "" {
		t.Errorf("AccessToken = %q, want empty for owned session", out.AccessToken)
	}
}

func TestCreateSessionAsyncStartsPending(t *testing.T) {
	d := newTestDeps(t)

	out, err := CreateSession(context.Background(), d, CreateSessionInput{
		Input: input.NewText("recital on the 12th"),
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if out.Session.Status != session.StatusPending {
		t.Errorf("immediate Status = %q, want %q", out.Session.Status, session.StatusPending)
	}

	waitForTerminal(t, d, out.Session.ID)

	s, err := db.GetSessionByID(d.DB, out.Session.ID)
	if err != nil {
		t.Fatalf("GetSessionByID() error = %v", err)
	}
	if s.Status != session.StatusProcessed {
		t.Errorf("final Status = %q, want %q", s.Status, session.StatusProcessed)
	}
	if !s.Listable {
		t.Error("Listable = false, want true after events landed")
	}
}

func TestCreateSessionRejectsInvalidInput(t *testing.T) {
	d := newTestDeps(t)

	_, err := CreateSession(context.Background(), d, CreateSessionInput{
		Input: input.NewText("   "),
	})
	if !errors.Is(err, errors.ErrValidation) {
		t.Errorf("CreateSession() error = %v, want ErrValidation", err)
	}
}

func TestCreateSessionRejectsGuestOwnerSpoof(t *testing.T) {
	d := newTestDeps(t)

	_, err := CreateSession(context.Background(), d, CreateSessionInput{
		Input: input.NewText("meeting monday"),
		Owner: session.GuestOwner,
	})
	if !errors.Is(err, errors.ErrValidation) {
		t.Errorf("CreateSession() error = %v, want ErrValidation", err)
	}
}

func TestCreateSessionGuestTokenAndCap(t *testing.T) {
	d := newTestDeps(t)
	d.Config.GuestSessionLimit = 2

	first, err := CreateSession(context.Background(), d, CreateSessionInput{
		Input: input.NewText("trial run one"),
		Guest: true,
		Wait:  true,
	})
	if err != nil {
		t.Fatalf("first guest CreateSession() error = %v", err)
	}
	if first.AccessToken == "" {
		t.Fatal("AccessToken is empty, want a guest bearer token")
	}
	if first.Session.Owner != session.GuestOwner {
		t.Errorf("Owner = %q, want %q", first.Session.Owner, session.GuestOwner)
	}

	// The token gates reads of the guest session.
	if _, err := GetSession(d, GetSessionInput{ID: first.Session.ID}); !errors.Is(err, errors.ErrUnauthorized) {
		t.Errorf("tokenless GetSession() error = %v, want ErrUnauthorized", err)
	}
	got, err := GetSession(d, GetSessionInput{ID: first.Session.ID, Token: first.AccessToken})
	if err != nil {
		t.Fatalf("GetSession() with token error = %v", err)
	}
	if got.Session.ID != first.Session.ID {
		t.Errorf("Session.ID = %q, want %q", got.Session.ID, first.Session.ID)
	}

	if _, err := CreateSession(context.Background(), d, CreateSessionInput{
		Input: input.NewText("trial run two"),
		Guest: true,
		Wait:  true,
	}); err != nil {
		t.Fatalf("second guest CreateSession() error = %v", err)
	}

	_, err = CreateSession(context.Background(), d, CreateSessionInput{
		Input: input.NewText("trial run three"),
		Guest: true,
	})
	if !errors.Is(err, errors.ErrGuestLimit) {
		t.Errorf("third guest CreateSession() error = %v, want ErrGuestLimit", err)
	}
}
