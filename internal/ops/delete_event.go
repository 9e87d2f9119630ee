package ops

import (
	"github.com/penciled/penciled/internal/db"
)

// DeleteEventInput contains parameters for the DeleteEvent operation.
type DeleteEventInput struct {
	ID    string
	Token string
}

// DeleteEventOutput contains the result of the DeleteEvent operation.
type DeleteEventOutput struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Remaining int    `json:"remaining"`
}

// DeleteEvent tombstones an event and reports how many live events its
// session still has. Provider sync rows are kept; any calendar-side copy
// is untouched.
func DeleteEvent(d Deps, in DeleteEventInput) (*DeleteEventOutput, error) {
	e, err := authorizeEvent(d.DB, in.ID, in.Token)
	if err != nil {
		return nil, err
	}
	if err := db.SoftDeleteEvent(d.DB, e.ID); err != nil {
		return nil, err
	}
	if err := db.RefreshSessionEventCount(d.DB, e.SessionID); err != nil {
		return nil, err
	}
	ids, err := db.ListSessionEventIDs(d.DB, e.SessionID)
	if err != nil {
		return nil, err
	}
	return &DeleteEventOutput{ID: e.ID, SessionID: e.SessionID, Remaining: len(ids)}, nil
}
