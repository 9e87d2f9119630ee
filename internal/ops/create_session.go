package ops

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/penciled/penciled/internal/db"
	"github.com/penciled/penciled/internal/errors"
	"github.com/penciled/penciled/internal/input"
	"github.com/penciled/penciled/internal/progress"
	"github.com/penciled/penciled/internal/session"
)

// CreateSessionInput contains parameters for the CreateSession operation.
type CreateSessionInput struct {
	Input input.Input
	Owner string // account owner; empty falls back to the configured default
	Guest bool   // anonymous trial session, authorized by a one-time token
	Wait  bool   // block until processing settles, bounded by the poll limits
}

// CreateSessionOutput contains the result of the CreateSession operation.
type CreateSessionOutput struct {
	Session session.Session `json:"session"`

	// AccessToken is the guest bearer secret, returned exactly once.
	AccessToken string `json:"access_token,omitempty"`
}

// CreateSession validates the input, records the session, and launches the
// extraction pipeline in the background. The returned snapshot is the
// pending session unless Wait is set, in which case it is the first
// terminal state the poller observes.
func CreateSession(ctx context.Context, d Deps, in CreateSessionInput) (*CreateSessionOutput, error) {
	limits := input.Limits{
		MinAudioBytes: d.Config.MinAudioBytes,
		MaxInputBytes: d.Config.MaxInputBytes,
	}
	if err := in.Input.Validate(limits); err != nil {
		return nil, err
	}

	owner := strings.TrimSpace(in.Owner)
	if in.Guest {
		owner = session.GuestOwner
	} else if owner == "" {
		owner = d.Config.DefaultOwner
	}
	if !in.Guest && owner == session.GuestOwner {
		return nil, errors.NewValidation("guest sessions are created with the guest flag, not the owner field")
	}

	// The trial cap counts every guest session ever created, so deletion
	// and migration never free slots.
	var token, tokenHash string
	if in.Guest {
		n, err := db.CountGuestSessions(d.DB)
		if err != nil {
			return nil, err
		}
		if n >= d.Config.GuestSessionLimit {
			return nil, errors.NewGuestLimit(d.Config.GuestSessionLimit)
		}
		token, tokenHash, err = session.NewToken()
		if err != nil {
			return nil, errors.NewInternal(err)
		}
	}

	now := time.Now().Unix()
	s := &session.Session{
		ID:        ulid.Make().String(),
		Owner:     owner,
		InputKind: in.Input.Kind,
		InputRef:  in.Input.Ref(),
		InputHint: in.Input.Hint,
		Status:    session.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.InsertSession(d.DB, s); err != nil {
		return nil, err
	}
	if in.Guest {
		g := &session.GuestSession{SessionID: s.ID, TokenHash: tokenHash, CreatedAt: now}
		if err := db.InsertGuestSession(d.DB, g); err != nil {
			return nil, err
		}
	}

	go d.Pipeline.Run(s.ID, input.Normalize(in.Input))

	out := &CreateSessionOutput{Session: *s, AccessToken: token}
	if !in.Wait {
		return out, nil
	}

	// A wait that times out is not a create failure: the session keeps
	// processing and the returned snapshot says so.
	err := progress.Poll(ctx, d.Config.PollInterval(), d.Config.PollMaxWait(), func(context.Context) (bool, error) {
		cur, err := db.GetSessionByID(d.DB, s.ID)
		if err != nil {
			return false, err
		}
		out.Session = *cur
		return cur.Status.Terminal(), nil
	})
	if err != nil && !errors.Is(err, errors.ErrTimeout) {
		return nil, err
	}
	return out, nil
}
