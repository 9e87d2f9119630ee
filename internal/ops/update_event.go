package ops

import (
	"github.com/penciled/penciled/internal/db"
	"github.com/penciled/penciled/internal/errors"
	"github.com/penciled/penciled/internal/event"
)

// UpdateEventInput contains parameters for the UpdateEvent operation.
type UpdateEventInput struct {
	ID    string
	Token string
	Patch event.Patch
}

// UpdateEventOutput contains the result of the UpdateEvent operation.
type UpdateEventOutput struct {
	Event EventView `json:"event"`
}

// UpdateEvent applies a field patch to an event. The version bump is
// atomic with the write, and the returned event carries the version the
// store accepted, so a subsequent sync pushes exactly this revision.
func UpdateEvent(d Deps, in UpdateEventInput) (*UpdateEventOutput, error) {
	if in.Patch.IsZero() {
		return nil, errors.NewValidation("patch changes nothing")
	}
	if err := event.ValidatePatch(in.Patch); err != nil {
		return nil, err
	}

	e, err := authorizeEvent(d.DB, in.ID, in.Token)
	if err != nil {
		return nil, err
	}

	updated := in.Patch.Apply(*e)
	if err := updated.Validate(); err != nil {
		return nil, err
	}
	if err := db.UpdateEventByID(d.DB, &updated); err != nil {
		return nil, err
	}

	return &UpdateEventOutput{Event: d.eventView(&updated)}, nil
}
