package ops

import (
	"context"
	"strings"

	"github.com/penciled/penciled/internal/db"
	"github.com/penciled/penciled/internal/errors"
	"github.com/penciled/penciled/internal/event"
	"github.com/penciled/penciled/internal/sync"
)

// SyncSessionInput contains parameters for the SyncSession operation.
// SessionID pushes a whole session; EventIDs pushes an explicit set.
type SyncSessionInput struct {
	SessionID string
	EventIDs  []string
	Token     string

	// Provider overrides every event's calendar for this push.
	Provider string
}

// SyncSessionOutput contains the result of the SyncSession operation.
type SyncSessionOutput struct {
	sync.Result
}

// SyncSession pushes a batch of events. Each event syncs on its own; the
// result buckets every outcome, so a partial failure still lands the rest.
func SyncSession(ctx context.Context, d Deps, in SyncSessionInput) (*SyncSessionOutput, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID != "" && len(in.EventIDs) > 0 {
		return nil, errors.NewValidation("address events by session or by ids, not both")
	}
	if sessionID == "" && len(in.EventIDs) == 0 {
		return nil, errors.NewValidation("must specify a session or event ids")
	}

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

	res := d.Engine.SyncEvents(ctx, events, strings.TrimSpace(in.Provider))
	return &SyncSessionOutput{Result: *res}, nil
}
