package ops

import (
	"context"
	"fmt"
	"strings"

	"github.com/penciled/penciled/internal/db"
	"github.com/penciled/penciled/internal/errors"
	"github.com/penciled/penciled/internal/event"
	"github.com/penciled/penciled/internal/stage"
)

// BatchEditInput contains parameters for the BatchEdit operation. Targets
// are addressed by session or by an explicit event id list, never both.
type BatchEditInput struct {
	SessionID   string
	EventIDs    []string
	Token       string
	Instruction string
}

// BatchEditItem is the outcome of one planned action.
type BatchEditItem struct {
	EventID string `json:"event_id,omitempty"`
	Action  string `json:"action"`

	// Event is the persisted result for edit actions.
	Event *EventView `json:"event,omitempty"`

	// Error carries this action's failure; the other actions proceed.
	Error string `json:"error,omitempty"`
}

// BatchEditOutput contains the result of the BatchEdit operation.
type BatchEditOutput struct {
	Planned int             `json:"planned"`
	Items   []BatchEditItem `json:"items"`
}

// BatchEdit turns a natural-language instruction into per-event actions
// and applies each one on its own: edits run through the same validated
// patch path as UpdateEvent, deletes through the DeleteEvent path. A
// failed action is reported in its item and never blocks the rest.
func BatchEdit(ctx context.Context, d Deps, in BatchEditInput) (*BatchEditOutput, error) {
	instruction := strings.TrimSpace(in.Instruction)
	if instruction == "" {
		return nil, errors.NewValidation("instruction is required")
	}
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID != "" && len(in.EventIDs) > 0 {
		return nil, errors.NewValidation("address events by session or by ids, not both")
	}
	if sessionID == "" && len(in.EventIDs) == 0 {
		return nil, errors.NewValidation("must specify a session or event ids")
	}

	// Load and authorize everything up front; planning over a list the
	// caller cannot touch would leak its contents via error items.
	var events []event.Event
	if sessionID != "" {
		if _, err := authorizeSession(d.DB, sessionID, in.Token); err != nil {
			return nil, err
		}
		list, err := db.ListSessionEvents(d.DB, sessionID)
		if err != nil {
			return nil, err
		}
		events = list
	} else {
		for _, id := range in.EventIDs {
			e, err := authorizeEvent(d.DB, id, in.Token)
			if err != nil {
				return nil, err
			}
			events = append(events, *e)
		}
	}
	if len(events) == 0 {
		return nil, errors.NewValidation("no events to edit")
	}

	actions, err := d.Planner.PlanEdits(ctx, instruction, events)
	if err != nil {
		return nil, errors.NewStageFailed(stage.StageEditPlanning, err)
	}

	out := &BatchEditOutput{Planned: len(actions), Items: []BatchEditItem{}}
	touched := map[string]bool{}
	for _, action := range actions {
		item := BatchEditItem{Action: action.Action}
		if action.Index < 0 || action.Index >= len(events) {
			item.Error = fmt.Sprintf("planned index %d is out of range", action.Index)
			out.Items = append(out.Items, item)
			continue
		}
		target := events[action.Index]
		item.EventID = target.ID

		switch action.Action {
		case stage.ActionDelete:
			if err := db.SoftDeleteEvent(d.DB, target.ID); err != nil {
				item.Error = errors.From(err).Message
				break
			}
			touched[target.SessionID] = true

		case stage.ActionEdit:
			if action.Patch == nil || action.Patch.IsZero() {
				item.Error = "edit action carries no changes"
				break
			}
			if err := event.ValidatePatch(*action.Patch); err != nil {
				item.Error = errors.From(err).Message
				break
			}
			// The patch lands on the loaded original, so id, slot, and
			// sync history carry forward through the rewrite.
			updated := action.Patch.Apply(target)
			if err := updated.Validate(); err != nil {
				item.Error = errors.From(err).Message
				break
			}
			if err := db.UpdateEventByID(d.DB, &updated); err != nil {
				item.Error = errors.From(err).Message
				break
			}
			view := d.eventView(&updated)
			item.Event = &view

		default:
			item.Error = fmt.Sprintf("unknown action %q", action.Action)
		}
		out.Items = append(out.Items, item)
	}

	for sid := range touched {
		if err := db.RefreshSessionEventCount(d.DB, sid); err != nil {
			return nil, err
		}
	}
	return out, nil
}
