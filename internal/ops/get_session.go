package ops

import (
	"strings"

	"github.com/penciled/penciled/internal/db"
	"github.com/penciled/penciled/internal/errors"
	"github.com/penciled/penciled/internal/session"
)

// GetSessionInput contains parameters for the GetSession operation.
type GetSessionInput struct {
	ID    string
	Token string

	// IncludeStages attaches the session's stage audit trail.
	IncludeStages bool
}

// GetSessionOutput contains the result of the GetSession operation.
type GetSessionOutput struct {
	Session session.Session       `json:"session"`
	Stages  []session.StageRecord `json:"stages,omitempty"`
}

// GetSession retrieves one session snapshot. Pollers and the live stream
// both converge on this read; its status is authoritative.
func GetSession(d Deps, in GetSessionInput) (*GetSessionOutput, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return nil, errors.NewValidation("session id is required")
	}
	s, err := authorizeSession(d.DB, id, in.Token)
	if err != nil {
		return nil, err
	}

	out := &GetSessionOutput{Session: *s}
	if in.IncludeStages {
		recs, err := db.ListStageRecords(d.DB, id)
		if err != nil {
			return nil, err
		}
		out.Stages = recs
	}
	return out, nil
}
