package ops

import (
	"strings"

	"github.com/penciled/penciled/internal/db"
	"github.com/penciled/penciled/internal/errors"
)

// SessionEventsInput contains parameters for the SessionEvents operation.
type SessionEventsInput struct {
	ID    string
	Token string
}

// SessionEventsOutput contains the result of the SessionEvents operation.
type SessionEventsOutput struct {
	SessionID string      `json:"session_id"`
	Events    []EventView `json:"events"`
}

// SessionEvents retrieves a session's live events in slot order, each with
// its derived sync state. Deleted slots are gone, not blanked; the order
// of the survivors is preserved.
func SessionEvents(d Deps, in SessionEventsInput) (*SessionEventsOutput, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return nil, errors.NewValidation("session id is required")
	}
	if _, err := authorizeSession(d.DB, id, in.Token); err != nil {
		return nil, err
	}

	events, err := db.ListSessionEvents(d.DB, id)
	if err != nil {
		return nil, err
	}

	views := make([]EventView, 0, len(events))
	for i := range events {
		views = append(views, d.eventView(&events[i]))
	}
	return &SessionEventsOutput{SessionID: id, Events: views}, nil
}
