package ops

import (
	"strings"
	"time"

	"github.com/penciled/penciled/internal/db"
	"github.com/penciled/penciled/internal/errors"
	"github.com/penciled/penciled/internal/session"
)

// MigrateGuestSessionsInput contains parameters for the
// MigrateGuestSessions operation.
type MigrateGuestSessionsInput struct {
	UserID     string
	SessionIDs []string
}

// MigrateGuestSessionsOutput contains the result of the
// MigrateGuestSessions operation.
type MigrateGuestSessionsOutput struct {
	Migrated []string `json:"migrated"`
	Skipped  []string `json:"skipped"`
}

// MigrateGuestSessions moves guest sessions to an account owner. The call
// is idempotent: an id that is not a guest session, or migrated already,
// is reported as skipped. Migration rewrites the owner, which retires the
// token requirement; the guest row stays counted against the trial cap.
func MigrateGuestSessions(d Deps, in MigrateGuestSessionsInput) (*MigrateGuestSessionsOutput, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return nil, errors.NewValidation("user id is required")
	}
	if userID == session.GuestOwner {
		return nil, errors.NewValidation("cannot migrate sessions to the guest owner")
	}
	if len(in.SessionIDs) == 0 {
		return nil, errors.NewValidation("session ids are required")
	}

	now := time.Now().Unix()
	out := &MigrateGuestSessionsOutput{Migrated: []string{}, Skipped: []string{}}
	seen := map[string]bool{}
	for _, raw := range in.SessionIDs {
		id := strings.TrimSpace(raw)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		g, err := db.GetGuestBySessionID(d.DB, id)
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				out.Skipped = append(out.Skipped, id)
				continue
			}
			return nil, err
		}
		if g.MigratedAt != nil {
			out.Skipped = append(out.Skipped, id)
			continue
		}

		// Owner first: if the mark below fails, the next call retries
		// both, while the reverse order would strand a marked row with a
		// guest owner.
		if err := db.UpdateSessionOwner(d.DB, id, userID); err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				out.Skipped = append(out.Skipped, id)
				continue
			}
			return nil, err
		}
		ok, err := db.MarkGuestMigrated(d.DB, id, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			out.Skipped = append(out.Skipped, id)
			continue
		}
		out.Migrated = append(out.Migrated, id)
	}
	return out, nil
}
