// Package progress carries pipeline observation: a push stream over an
// in-process broker, plus a pull poller for callers that cannot hold a
// connection open. Both converge on the same session reads, so a client
// may switch between them mid-session.
package progress

// Kind tags a notification.
type Kind string

const (
	// KindInit opens a session's stream: processing has started.
	KindInit Kind = "init"
	// KindStage marks one serial stage finishing.
	KindStage Kind = "stage"
	// KindEvent reports one extraction chain's outcome.
	KindEvent Kind = "event"
	// KindComplete ends the stream: the session is processed.
	KindComplete Kind = "complete"
	// KindError ends the stream: the session failed.
	KindError Kind = "error"
	// KindTimeout ends the stream: processing exceeded its deadline.
	KindTimeout Kind = "timeout"
)

// Notification is one observation of a session's progress. Seq is assigned
// by the broker, dense from 1 within the session. A terminal notification
// is always the session's last: it is published only after every per-event
// notification.
type Notification struct {
	SessionID string `json:"session_id"`
	Seq       int    `json:"seq"`
	Kind      Kind   `json:"kind"`

	// Stage names the serial stage that finished, on stage notifications.
	Stage string `json:"stage,omitempty"`

	// EventIndex is the event's slot on event notifications, zero otherwise.
	EventIndex int `json:"event_index"`

	// EventID is set when the chain persisted its event.
	EventID string `json:"event_id,omitempty"`

	// EventCount is the identified event total, on stage and terminal
	// notifications that know it.
	EventCount int `json:"event_count,omitempty"`

	// Message carries human-readable detail, including chain failures.
	Message string `json:"message,omitempty"`

	At int64 `json:"at"`
}

// Terminal reports whether the notification ends the session's stream.
func (n Notification) Terminal() bool {
	return n.Kind == KindComplete || n.Kind == KindError || n.Kind == KindTimeout
}
