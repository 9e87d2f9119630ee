package session

import (
	"github.com/penciled/penciled/internal/input"
)

// GuestOwner is the owner value for sessions created without an account.
// Migration rewrites it to a real user id.
const GuestOwner = "guest"

// Status is a session's position in its lifecycle. It only advances
// pending → processing → {processed, error} and never regresses.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusError      Status = "error"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusProcessed, StatusError:
		return true
	}
	return false
}

// Terminal reports whether s admits no successor.
func (s Status) Terminal() bool {
	return s == StatusProcessed || s == StatusError
}

// CanAdvance reports whether moving from s to next respects the lifecycle
// order. Repeating the current status is not an advance.
func (s Status) CanAdvance(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusProcessed || next == StatusError
	default:
		return false
	}
}

// Session represents one user-initiated run from raw input to a set of
// calendar events.
type Session struct {
	// ID is a ULID that uniquely identifies this session
	ID string `json:"id"`

	// Owner is the owning user id, or GuestOwner for anonymous sessions
	Owner string `json:"owner"`

	// InputKind is the kind tag of the submitted input
	InputKind input.Kind `json:"input_kind"`

	// InputRef is the content reference: inline text for textual kinds,
	// the file name for payload kinds
	InputRef string `json:"input_ref"`

	// InputHint is the optional caller-supplied processing hint
	InputHint string `json:"input_hint,omitempty"`

	// Status is the lifecycle position
	Status Status `json:"status"`

	// ErrorMessage carries the terminal failure message (nullable)
	ErrorMessage *string `json:"error_message,omitempty"`

	// EventIDs is the ordered list of live event ids, by slot position
	EventIDs []string `json:"event_ids,omitempty"`

	// EventCount is len(EventIDs), denormalized for listings
	EventCount int `json:"event_count"`

	// Listable marks the session durable: flipped once the pipeline
	// persists its first event. Non-listable terminal sessions are
	// surfaced transiently, then reaped.
	Listable bool `json:"listable"`

	// CreatedAt is the Unix timestamp when the session was created
	CreatedAt int64 `json:"created_at"`

	// UpdatedAt is the Unix timestamp when the session last changed
	UpdatedAt int64 `json:"updated_at"`
}

// Guest reports whether the session is anonymous.
func (s *Session) Guest() bool {
	return s.Owner == GuestOwner
}

// StageRecord is one entry in a session's append-only stage audit trail.
type StageRecord struct {
	// ID is a UUID for this record
	ID string `json:"id"`

	// SessionID is the session the stage ran for
	SessionID string `json:"session_id"`

	// Stage is the stage name, e.g. "event-identification"
	Stage string `json:"stage"`

	// InputSnapshot is a JSON snapshot of what the stage consumed
	InputSnapshot string `json:"input_snapshot,omitempty"`

	// OutputSnapshot is a JSON snapshot of what the stage produced
	OutputSnapshot string `json:"output_snapshot,omitempty"`

	// OK records whether the stage succeeded
	OK bool `json:"ok"`

	// DurationMS is the stage's wall-clock duration
	DurationMS int64 `json:"duration_ms"`

	// ErrorMessage carries the stage failure (nullable)
	ErrorMessage *string `json:"error_message,omitempty"`

	// CreatedAt is the Unix timestamp when the record was appended
	CreatedAt int64 `json:"created_at"`
}

// GuestSession links an anonymous session to its bearer token hash and
// contributes to the trial counter. Rows are never deleted; migration sets
// MigratedAt so the counter stays at cap.
type GuestSession struct {
	// SessionID is the one session this token grants access to
	SessionID string

	// TokenHash is the SHA-256 hex of the bearer secret; the secret itself
	// is returned once at creation and never stored
	TokenHash string

	// CreatedAt is the Unix timestamp when the guest session was created
	CreatedAt int64

	// MigratedAt is the Unix timestamp when ownership moved to an account
	// (nullable)
	MigratedAt *int64
}
