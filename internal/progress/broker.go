package progress

import "sync"

// DefaultMaxLogs bounds how many session logs the broker retains.
const DefaultMaxLogs = 256

// Broker is the in-process notification hub. Publishers append to a
// per-session log; subscribers get the full log replayed and then live
// delivery, so late subscribers observe the same sequence early ones did.
// A subscriber that stops draining its channel is dropped rather than
// allowed to block the pipeline.
type Broker struct {
	mu      sync.Mutex
	buffer  int
	maxLogs int
	logs    map[string]*sessionLog
	order   []string // session ids, least recently touched first
}

type sessionLog struct {
	notes   []Notification
	closed  bool
	nextSeq int
	nextSub int
	subs    map[int]chan Notification
}

// NewBroker builds a broker. buffer is each subscriber's live headroom;
// maxLogs caps retained session logs, evicting the least recently touched.
func NewBroker(buffer, maxLogs int) *Broker {
	if buffer < 1 {
		buffer = 1
	}
	if maxLogs < 1 {
		maxLogs = DefaultMaxLogs
	}
	return &Broker{
		buffer:  buffer,
		maxLogs: maxLogs,
		logs:    make(map[string]*sessionLog),
	}
}

// Publish assigns the next sequence number, appends to the session's log,
// and delivers to every live subscriber. A terminal notification closes
// the log; anything published after it is dropped. Returns the
// notification with Seq set.
func (b *Broker) Publish(n Notification) Notification {
	b.mu.Lock()
	defer b.mu.Unlock()

	l := b.logLocked(n.SessionID)
	if l.closed {
		return n
	}

	l.nextSeq++
	n.Seq = l.nextSeq
	l.notes = append(l.notes, n)

	for id, ch := range l.subs {
		select {
		case ch <- n:
		default:
			// Subscriber stopped draining; drop it.
			delete(l.subs, id)
			close(ch)
		}
	}

	if n.Terminal() {
		l.closed = true
		for id, ch := range l.subs {
			delete(l.subs, id)
			close(ch)
		}
	}
	return n
}

// Subscribe returns a channel that replays the session's log and then
// carries live notifications. The channel is closed once the session's
// terminal notification has been delivered. The returned cancel is safe to
// call more than once.
func (b *Broker) Subscribe(sessionID string) (<-chan Notification, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	l := b.logLocked(sessionID)

	// Replay must fit in full, with live headroom on top.
	ch := make(chan Notification, len(l.notes)+b.buffer)
	for _, n := range l.notes {
		ch <- n
	}
	if l.closed {
		close(ch)
		return ch, func() {}
	}

	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Release discards a session's log and closes its subscribers. The reaper
// calls this when the session itself is discarded.
func (b *Broker) Release(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.logs[sessionID]
	if !ok {
		return
	}
	delete(b.logs, sessionID)
	for i, id := range b.order {
		if id == sessionID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.dropLocked(l)
}

// logLocked returns the session's log, creating and evicting as needed.
func (b *Broker) logLocked(sessionID string) *sessionLog {
	if l, ok := b.logs[sessionID]; ok {
		b.touchLocked(sessionID)
		return l
	}
	if len(b.logs) >= b.maxLogs {
		b.evictLocked()
	}
	l := &sessionLog{subs: make(map[int]chan Notification)}
	b.logs[sessionID] = l
	b.order = append(b.order, sessionID)
	return l
}

func (b *Broker) touchLocked(sessionID string) {
	for i, id := range b.order {
		if id == sessionID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			b.order = append(b.order, sessionID)
			return
		}
	}
}

// evictLocked removes one log: the oldest closed one, else the oldest
// without subscribers, else the oldest outright.
func (b *Broker) evictLocked() {
	victim := -1
	for i, id := range b.order {
		if b.logs[id].closed {
			victim = i
			break
		}
	}
	if victim == -1 {
		for i, id := range b.order {
			if len(b.logs[id].subs) == 0 {
				victim = i
				break
			}
		}
	}
	if victim == -1 {
		victim = 0
	}

	id := b.order[victim]
	b.order = append(b.order[:victim], b.order[victim+1:]...)
	l := b.logs[id]
	delete(b.logs, id)
	b.dropLocked(l)
}

// dropLocked closes out a log that is leaving the map. Publishers holding
// the stale pointer see it closed and drop their notifications.
func (b *Broker) dropLocked(l *sessionLog) {
	l.closed = true
	for id, ch := range l.subs {
		delete(l.subs, id)
		close(ch)
	}
}
