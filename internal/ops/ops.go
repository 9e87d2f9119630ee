// Package ops implements penciled operations shared by the MCP, HTTP, and
// CLI transports. Each operation validates input, enforces the session
// access rule, and returns a typed output; transports only decode, call,
// and encode.
package ops

import (
	"database/sql"
	"strings"

	"github.com/penciled/penciled/internal/calendar"
	"github.com/penciled/penciled/internal/config"
	"github.com/penciled/penciled/internal/db"
	"github.com/penciled/penciled/internal/errors"
	"github.com/penciled/penciled/internal/event"
	"github.com/penciled/penciled/internal/pipeline"
	"github.com/penciled/penciled/internal/progress"
	"github.com/penciled/penciled/internal/session"
	"github.com/penciled/penciled/internal/stage"
	"github.com/penciled/penciled/internal/sync"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// Deps bundles the collaborators the operations share. Transports build
// one Deps at startup and hand it to every call.
type Deps struct {
	DB       *sql.DB
	Config   *config.Config
	Broker   *progress.Broker
	Registry *calendar.Registry
	Engine   *sync.Engine
	Planner  stage.EditPlanner
	Pipeline *pipeline.Pipeline
}

// EventView is an event as transports render it: the persisted fields
// plus the sync state derived against its active calendar.
type EventView struct {
	event.Event
	SyncStatus event.SyncState `json:"sync_status"`
}

func (d Deps) eventView(e *event.Event) EventView {
	return EventView{Event: *e, SyncStatus: e.SyncStateFor(d.activeCalendar(e))}
}

// activeCalendar resolves the calendar an event would sync to: its own
// target when set, otherwise the configured or first registered calendar.
func (d Deps) activeCalendar(e *event.Event) string {
	if e.CalendarID != nil && *e.CalendarID != "" {
		return *e.CalendarID
	}
	if d.Registry == nil {
		return d.Config.DefaultCalendar
	}
	return d.Registry.DefaultName(d.Config.DefaultCalendar)
}

// authorizeSession loads a session and enforces its access rule: a guest
// session is readable and writable only with its own bearer token; an
// owned session is local and needs none.
func authorizeSession(database *sql.DB, id, token string) (*session.Session, error) {
	s, err := db.GetSessionByID(database, id)
	if err != nil {
		return nil, err
	}
	if !s.Guest() {
		return s, nil
	}
	g, err := db.GetGuestBySessionID(database, id)
	if err != nil {
		return nil, err
	}
	if token == "" || !session.TokenMatches(token, g.TokenHash) {
		return nil, errors.NewUnauthorized("this session requires its access token")
	}
	return s, nil
}

// authorizeEvent loads a live event and applies its session's access rule.
func authorizeEvent(database *sql.DB, id, token string) (*event.Event, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.NewValidation("event id is required")
	}
	e, err := db.GetEventByID(database, id)
	if err != nil {
		return nil, err
	}
	if _, err := authorizeSession(database, e.SessionID, token); err != nil {
		return nil, err
	}
	return e, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
