package ops

import (
	"strings"

	"github.com/penciled/penciled/internal/db"
	"github.com/penciled/penciled/internal/errors"
	"github.com/penciled/penciled/internal/session"
)

// ListSessionsInput contains parameters for the ListSessions operation.
type ListSessionsInput struct {
	Owner  string // defaults to the configured owner
	Limit  int    // default: 20, max: 100
	Offset int    // default: 0
}

// ListSessionsOutput contains the result of the ListSessions operation.
type ListSessionsOutput struct {
	Sessions   []session.Session `json:"sessions"`
	Pagination Pagination        `json:"pagination"`
	Sort       string            `json:"sort"`
}

// ListSessions retrieves an owner's listable sessions, most recently
// updated first.
func ListSessions(d Deps, in ListSessionsInput) (*ListSessionsOutput, error) {
	owner := strings.TrimSpace(in.Owner)
	if owner == "" {
		owner = d.Config.DefaultOwner
	}
	// Guest sessions are read one at a time with their token; there is no
	// guest listing.
	if owner == session.GuestOwner {
		return nil, errors.NewUnauthorized("guest sessions cannot be listed")
	}

	limit := clampLimit(in.Limit)
	offset := max(in.Offset, 0)

	sessions, total, err := db.ListSessions(d.DB, owner, limit, offset)
	if err != nil {
		return nil, err
	}
	// Ensure we return an empty array rather than nil
	if sessions == nil {
		sessions = []session.Session{}
	}

	return &ListSessionsOutput{
		Sessions: sessions,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(sessions) < total,
			Total:   total,
		},
		Sort: "updated_at_desc",
	}, nil
}
