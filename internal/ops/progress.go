package ops

import (
	"strings"

	"github.com/penciled/penciled/internal/errors"
	"github.com/penciled/penciled/internal/progress"
	"github.com/penciled/penciled/internal/session"
)

// ProgressInput contains parameters for the Progress operation.
type ProgressInput struct {
	ID    string
	Token string
}

// ProgressOutput contains the result of the Progress operation.
type ProgressOutput struct {
	SessionID     string                  `json:"session_id"`
	Status        session.Status          `json:"status"`
	Done          bool                    `json:"done"`
	Error         string                  `json:"error,omitempty"`
	EventCount    int                     `json:"event_count"`
	EventIDs      []string                `json:"event_ids,omitempty"`
	Notifications []progress.Notification `json:"notifications"`
}

// Progress retrieves one poll-transport snapshot: the authoritative
// session state plus the notification log so far. A poller that missed
// the live stream still sees every notification, in order, and can stop
// once Done is set.
func Progress(d Deps, in ProgressInput) (*ProgressOutput, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return nil, errors.NewValidation("session id is required")
	}
	s, err := authorizeSession(d.DB, id, in.Token)
	if err != nil {
		return nil, err
	}

	out := &ProgressOutput{
		SessionID:     s.ID,
		Status:        s.Status,
		Done:          s.Status.Terminal(),
		EventCount:    s.EventCount,
		EventIDs:      s.EventIDs,
		Notifications: []progress.Notification{},
	}
	if s.ErrorMessage != nil {
		out.Error = *s.ErrorMessage
	}

	// Subscribe replays the retained log into the channel buffer; drain
	// what is already there and detach without blocking on live delivery.
	ch, cancel := d.Broker.Subscribe(id)
	defer cancel()
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				return out, nil
			}
			out.Notifications = append(out.Notifications, n)
		default:
			return out, nil
		}
	}
}
