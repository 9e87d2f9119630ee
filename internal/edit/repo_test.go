package edit

import "testing"

func snap(id string) State {
	return State{SessionID: id}
}

func TestRepoEvictsLeastRecentlyTouched(t *testing.T) {
	r := NewRepo(2)
	r.Put(snap("s1"))
	r.Put(snap("s2"))

	if _, ok := r.Get("s1"); !ok {
		t.Fatal("s1 should be cached")
	}

	r.Put(snap("s3"))

	if _, ok := r.Get("s2"); ok {
		t.Error("s2 was the least recently touched and should be evicted")
	}
	if _, ok := r.Get("s1"); !ok {
		t.Error("touching s1 should have kept it")
	}
	if _, ok := r.Get("s3"); !ok {
		t.Error("s3 was just stored")
	}
	if r.Len() != 2 {
		t.Errorf("expected 2 snapshots, got %d", r.Len())
	}
}

func TestRepoPutOverwritesWithoutEvicting(t *testing.T) {
	r := NewRepo(2)
	r.Put(snap("s1"))
	r.Put(snap("s2"))
	r.Put(State{SessionID: "s1", Failed: map[string]string{"ev": "boom"}})

	if r.Len() != 2 {
		t.Fatalf("overwrite should not evict, got %d snapshots", r.Len())
	}
	s, ok := r.Get("s1")
	if !ok || s.Failed["ev"] != "boom" {
		t.Errorf("expected the newer snapshot, got %+v", s)
	}
}

func TestRepoDrop(t *testing.T) {
	r := NewRepo(2)
	r.Put(snap("s1"))
	r.Drop("s1")
	r.Drop("s1")

	if _, ok := r.Get("s1"); ok {
		t.Error("dropped snapshot still present")
	}
	if r.Len() != 0 {
		t.Errorf("expected empty repo, got %d", r.Len())
	}
}

func TestRepoIgnoresAnonymousState(t *testing.T) {
	r := NewRepo(2)
	r.Put(State{})
	if r.Len() != 0 {
		t.Error("a snapshot without a session id should not be stored")
	}
}
