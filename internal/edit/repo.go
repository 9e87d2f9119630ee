package edit

import "sync"

// DefaultRepoCap bounds how many session snapshots the repo retains.
const DefaultRepoCap = 32

// Repo caches per-session edit state so returning to a recent session
// restores its view instantly. Bounded; the least recently touched
// snapshot falls off first.
type Repo struct {
	mu    sync.Mutex
	cap   int
	items map[string]State
	order []string // least recently touched first
}

func NewRepo(cap int) *Repo {
	if cap < 1 {
		cap = DefaultRepoCap
	}
	return &Repo{
		cap:   cap,
		items: make(map[string]State),
	}
}

// Put stores the snapshot under its session id.
func (r *Repo) Put(s State) {
	if s.SessionID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[s.SessionID]; !ok && len(r.items) >= r.cap {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.items, oldest)
	}
	r.items[s.SessionID] = s
	r.touchLocked(s.SessionID)
}

// Get returns the snapshot for a session, marking it recently used.
func (r *Repo) Get(sessionID string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.items[sessionID]
	if ok {
		r.touchLocked(sessionID)
	}
	return s, ok
}

// Drop forgets a session's snapshot.
func (r *Repo) Drop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[sessionID]; !ok {
		return
	}
	delete(r.items, sessionID)
	for i, id := range r.order {
		if id == sessionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Len reports how many snapshots are held.
func (r *Repo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func (r *Repo) touchLocked(sessionID string) {
	for i, id := range r.order {
		if id == sessionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.order = append(r.order, sessionID)
}
