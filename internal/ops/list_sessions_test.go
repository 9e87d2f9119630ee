package ops

import (
	"fmt"
	"testing"
	"time"

	"github.com/penciled/penciled/internal/db"
	"github.com/penciled/penciled/internal/errors"
	"github.com/penciled/penciled/internal/input"
	"github.com/penciled/penciled/internal/session"
)

func seedListable(t *testing.T, d Deps, id, owner string, updatedAt int64) {
	t.Helper()
	s := &session.Session{
		ID:        id,
		Owner:     owner,
		InputKind: input.KindText,
		InputRef:  "note",
		Status:    session.StatusProcessed,
		Listable:  true,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
	if err := db.InsertSession(d.DB, s); err != nil {
		t.Fatalf("InsertSession(%s) error = %v", id, err)
	}
}

func TestListSessionsPaginatesNewestFirst(t *testing.T) {
	d := newTestDeps(t)

	base := time.Now().Unix()
	for i := 0; i < 5; i++ {
		seedListable(t, d, fmt.Sprintf("s-%d", i), "local", base+int64(i))
	}

	out, err := ListSessions(d, ListSessionsInput{Limit: 2})
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(out.Sessions) != 2 {
		t.Fatalf("len(Sessions) = %d, want 2", len(out.Sessions))
	}
	if out.Sessions[0].ID != "s-4" {
		t.Errorf("Sessions[0].ID = %q, want %q (most recently updated)", out.Sessions[0].ID, "s-4")
	}
	if out.Sort != "updated_at_desc" {
		t.Errorf("Sort = %q, want %q", out.Sort, "updated_at_desc")
	}
	if !out.Pagination.HasMore {
		t.Error("HasMore = false, want true")
	}
	if out.Pagination.Total != 5 {
		t.Errorf("Total = %d, want 5", out.Pagination.Total)
	}

	out, err = ListSessions(d, ListSessionsInput{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("ListSessions() offset error = %v", err)
	}
	if len(out.Sessions) != 1 {
		t.Fatalf("len(Sessions) = %d, want 1 at tail", len(out.Sessions))
	}
	if out.Pagination.HasMore {
		t.Error("HasMore = true at tail, want false")
	}
}

func TestListSessionsScopesOwnerAndListable(t *testing.T) {
	d := newTestDeps(t)

	now := time.Now().Unix()
	seedListable(t, d, "s-mine", "local", now)
	seedListable(t, d, "s-other", "someone-else", now)
	seedSessionRow(t, d, "s-transient", "local", session.StatusProcessed, false)

	out, err := ListSessions(d, ListSessionsInput{})
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(out.Sessions) != 1 {
		t.Fatalf("len(Sessions) = %d, want 1", len(out.Sessions))
	}
	if out.Sessions[0].ID != "s-mine" {
		t.Errorf("Sessions[0].ID = %q, want %q", out.Sessions[0].ID, "s-mine")
	}
}

func TestListSessionsRejectsGuestOwner(t *testing.T) {
	d := newTestDeps(t)

	_, err := ListSessions(d, ListSessionsInput{Owner: session.GuestOwner})
	if !errors.Is(err, errors.ErrUnauthorized) {
		t.Errorf("ListSessions() error = %v, want ErrUnauthorized", err)
	}
}

func TestListSessionsClampsLimit(t *testing.T) {
	d := newTestDeps(t)

	out, err := ListSessions(d, ListSessionsInput{})
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if out.Pagination.Limit != DefaultListLimit {
		t.Errorf("default Limit = %d, want %d", out.Pagination.Limit, DefaultListLimit)
	}
	if out.Sessions == nil {
		t.Error("Sessions = nil, want empty array")
	}

	out, err = ListSessions(d, ListSessionsInput{Limit: 9999, Offset: -3})
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if out.Pagination.Limit != MaxListLimit {
		t.Errorf("clamped Limit = %d, want %d", out.Pagination.Limit, MaxListLimit)
	}
	if out.Pagination.Offset != 0 {
		t.Errorf("clamped Offset = %d, want 0", out.Pagination.Offset)
	}
}
