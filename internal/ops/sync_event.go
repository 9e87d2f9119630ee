package ops

import (
	"context"
	"strings"

	"github.com/penciled/penciled/internal/event"
	"github.com/penciled/penciled/internal/sync"
)

// SyncEventInput contains parameters for the SyncEvent operation.
type SyncEventInput struct {
	ID    string
	Token string

	// Provider overrides the event's calendar for this push.
	Provider string
}

// SyncEventOutput contains the result of the SyncEvent operation.
type SyncEventOutput struct {
	sync.Result
}

// SyncEvent pushes one event to its calendar. Repeating the call with an
// unchanged version reports the event skipped.
func SyncEvent(ctx context.Context, d Deps, in SyncEventInput) (*SyncEventOutput, error) {
	e, err := authorizeEvent(d.DB, in.ID, in.Token)
	if err != nil {
		return nil, err
	}
	res := d.Engine.SyncEvents(ctx, []event.Event{*e}, strings.TrimSpace(in.Provider))
	return &SyncEventOutput{Result: *res}, nil
}
