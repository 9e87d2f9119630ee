// Package sync pushes persisted events to calendar providers. Each event
// is handled independently: one event's failure never blocks the rest of
// a batch, and re-running a sync is safe because pushes are skipped when
// the provider already holds the current version.
package sync

import (
	"context"
	"database/sql"
	"time"

	"github.com/teambition/rrule-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/penciled/penciled/internal/calendar"
	"github.com/penciled/penciled/internal/config"
	"github.com/penciled/penciled/internal/db"
	"github.com/penciled/penciled/internal/errors"
	"github.com/penciled/penciled/internal/event"
)

// maxCandidateOccurrences caps recurrence expansion during conflict
// checks.
const maxCandidateOccurrences = 500

// Engine pushes events to their calendar providers and records which
// version each provider has seen.
type Engine struct {
	DB       *sql.DB
	Registry *calendar.Registry
	Config   *config.Config
}

// Result is the outcome of one sync batch. Every event lands in exactly
// one bucket.
type Result struct {
	Created []string  `json:"created"`
	Updated []string  `json:"updated"`
	Skipped []string  `json:"skipped"`
	Failed  []Failure `json:"failed"`

	// Conflicts are advisory schedule overlaps found before pushing.
	// They never block a push.
	Conflicts []Conflict `json:"conflicts,omitempty"`
}

// Failure pairs an event with the error that kept it from syncing.
type Failure struct {
	EventID string `json:"event_id"`
	Message string `json:"message"`
}

// Conflict records a schedule overlap between an event being pushed and
// an entry already on the calendar.
type Conflict struct {
	EventID      string    `json:"event_id"`
	Provider     string    `json:"provider"`
	EntryUID     string    `json:"entry_uid"`
	EntrySummary string    `json:"entry_summary"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
}

// NewResult returns a Result with empty buckets, so JSON renders [] and
// not null.
func NewResult() *Result {
	return &Result{
		Created: make([]string, 0),
		Updated: make([]string, 0),
		Skipped: make([]string, 0),
		Failed:  make([]Failure, 0),
	}
}

func (r *Result) fail(eventID, msg string) {
	r.Failed = append(r.Failed, Failure{EventID: eventID, Message: msg})
}

// SyncEvents pushes a batch of events. Events route to their own
// calendar unless providerOverride names one for the whole batch. The
// slice is updated in place with the new sync rows.
func (g *Engine) SyncEvents(ctx context.Context, events []event.Event, providerOverride string) *Result {
	ctx, span := tracer.Start(ctx, "calendar sync")
	defer span.End()

	res := NewResult()
	for i := range events {
		g.syncOne(ctx, &events[i], providerOverride, res)
	}

	span.SetAttributes(
		attribute.Int("sync.created", len(res.Created)),
		attribute.Int("sync.updated", len(res.Updated)),
		attribute.Int("sync.skipped", len(res.Skipped)),
		attribute.Int("sync.failed", len(res.Failed)),
	)
	record := func(outcome string, n int) {
		if n > 0 {
			eventsSynced.Add(ctx, int64(n), metric.WithAttributes(attribute.String("outcome", outcome)))
		}
	}
	record("created", len(res.Created))
	record("updated", len(res.Updated))
	record("skipped", len(res.Skipped))
	record("failed", len(res.Failed))

	if len(res.Failed) > 0 {
		logger.WarnContext(ctx, "some events failed to sync", "failed", len(res.Failed))
	}
	return res
}

func (g *Engine) syncOne(ctx context.Context, e *event.Event, providerOverride string, res *Result) {
	name := g.resolveProviderName(e, providerOverride)
	if name == "" {
		res.fail(e.ID, "no calendar is configured; add one to calendars.yaml")
		return
	}
	prov, err := g.Registry.Provider(name)
	if err != nil {
		res.fail(e.ID, errors.From(err).Message)
		return
	}

	state := e.SyncStateFor(name)
	if state == event.SyncApplied {
		res.Skipped = append(res.Skipped, e.ID)
		return
	}

	res.Conflicts = append(res.Conflicts, g.conflicts(ctx, prov, name, e)...)

	ps := event.ProviderSync{
		Provider:      name,
		CalendarID:    name,
		SyncedVersion: e.Version,
		SyncedAt:      time.Now().Unix(),
	}
	var bucket *[]string

	switch state {
	case event.SyncDraft:
		var providerEventID string
		err = g.withAuthRetry(ctx, prov, func() error {
			var cerr error
			providerEventID, cerr = prov.Create(ctx, name, e)
			return cerr
		})
		if err != nil {
			res.fail(e.ID, errors.From(err).Message)
			return
		}
		ps.ProviderEventID = providerEventID
		bucket = &res.Created

	case event.SyncEdited:
		// The provider copy lives wherever it was first pushed.
		prev := e.SyncFor(name)
		ps.ProviderEventID = prev.ProviderEventID
		ps.CalendarID = prev.CalendarID
		err = g.withAuthRetry(ctx, prov, func() error {
			return prov.Update(ctx, prev.CalendarID, prev.ProviderEventID, e)
		})
		if err != nil {
			res.fail(e.ID, errors.From(err).Message)
			return
		}
		bucket = &res.Updated
	}

	if err := db.UpsertProviderSync(g.DB, e.ID, &ps); err != nil {
		// The provider holds the entry but the ledger missed it; the
		// next sync repeats the push rather than lose track of it.
		res.fail(e.ID, errors.From(err).Message)
		return
	}
	*bucket = append(*bucket, e.ID)
	applySync(e, ps)
}

// resolveProviderName picks the calendar for one event: the batch
// override, then the event's own choice, then the configured default.
func (g *Engine) resolveProviderName(e *event.Event, override string) string {
	if override != "" {
		return override
	}
	if e.CalendarID != nil && *e.CalendarID != "" {
		return *e.CalendarID
	}
	return g.Registry.DefaultName(g.Config.DefaultCalendar)
}

// withAuthRetry runs op, refreshing provider credentials once when it
// reports an expired auth. A second failure surfaces to the caller.
func (g *Engine) withAuthRetry(ctx context.Context, prov calendar.Provider, op func() error) error {
	err := op()
	if !errors.Is(err, errors.ErrAuthExpired) {
		return err
	}
	if rerr := prov.Refresh(ctx); rerr != nil {
		return rerr
	}
	return op()
}

// conflicts lists advisory overlaps between the event's upcoming
// occurrences and what is already on the calendar. Failures here are
// logged and never block the push.
func (g *Engine) conflicts(ctx context.Context, prov calendar.Provider, calendarID string, e *event.Event) []Conflict {
	wins, err := g.candidateWindows(e, time.Now())
	if err != nil {
		logger.WarnContext(ctx, "conflict check skipped", "event_id", e.ID, "error", err)
		return nil
	}
	if len(wins) == 0 {
		return nil
	}

	from, to := wins[0].start, wins[0].end
	for _, w := range wins[1:] {
		if w.start.Before(from) {
			from = w.start
		}
		if w.end.After(to) {
			to = w.end
		}
	}

	var entries []calendar.Entry
	err = g.withAuthRetry(ctx, prov, func() error {
		var lerr error
		entries, lerr = prov.Entries(ctx, calendarID, from, to)
		return lerr
	})
	if err != nil {
		logger.WarnContext(ctx, "conflict check skipped", "event_id", e.ID, "error", err)
		return nil
	}

	ownID := ""
	if ps := e.SyncFor(prov.Name()); ps != nil {
		ownID = ps.ProviderEventID
	}

	var out []Conflict
	for _, en := range entries {
		if ownID != "" && en.UID == ownID {
			continue
		}
		for _, w := range wins {
			if calendar.Overlaps(w.start, w.end, en.Start, en.End) {
				out = append(out, Conflict{
					EventID:      e.ID,
					Provider:     prov.Name(),
					EntryUID:     en.UID,
					EntrySummary: en.Summary,
					Start:        en.Start,
					End:          en.End,
				})
				break
			}
		}
	}
	return out
}

// window is one concrete [start, end) occurrence of an event.
type window struct {
	start, end time.Time
}

// candidateWindows resolves the event's occurrences for conflict
// checking: a single event contributes its own window, a recurring one
// expands from now to the configured horizon.
func (g *Engine) candidateWindows(e *event.Event, now time.Time) ([]window, error) {
	start, end, err := e.Window(time.UTC)
	if err != nil {
		return nil, err
	}
	if e.Recurrence == nil || *e.Recurrence == "" {
		return []window{{start: start, end: end}}, nil
	}

	r, err := rrule.StrToRRule(*e.Recurrence)
	if err != nil {
		return nil, err
	}
	r.DTStart(start)

	var set rrule.Set
	set.RRule(r)

	horizon := now.Add(time.Duration(g.Config.ConflictWindowDays) * 24 * time.Hour)
	times := set.Between(now.In(start.Location()), horizon.In(start.Location()), true)
	if len(times) > maxCandidateOccurrences {
		times = times[:maxCandidateOccurrences]
	}

	dur := end.Sub(start)
	wins := make([]window, 0, len(times))
	for _, s := range times {
		wins = append(wins, window{start: s, end: s.Add(dur)})
	}
	return wins, nil
}

// applySync records the push on the in-memory event so a repeated sync
// in the same batch sees the applied state.
func applySync(e *event.Event, ps event.ProviderSync) {
	for i := range e.Syncs {
		if e.Syncs[i].Provider == ps.Provider {
			e.Syncs[i] = ps
			return
		}
	}
	e.Syncs = append(e.Syncs, ps)
}
