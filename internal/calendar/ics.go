package calendar

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"
	"github.com/yuin/goldmark"

	"github.com/penciled/penciled/internal/event"
)

// maxOccurrences caps how many instances one recurring entry expands to
// inside a single Entries window.
const maxOccurrences = 500

const altDescProperty ics.ComponentProperty = "X-ALT-DESC"

// ICSProvider serves a single calendar backed by one ICS file. Writes go
// through a temp file and rename, so readers never see a torn calendar.
type ICSProvider struct {
	name string
	path string
	loc  *time.Location

	mu sync.Mutex
}

// NewICSProvider builds a provider for one registry source.
func NewICSProvider(src Source) (*ICSProvider, error) {
	loc := time.UTC
	if src.TimeZone != "" {
		l, err := time.LoadLocation(src.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("calendar %q: %w", src.Name, err)
		}
		loc = l
	}
	return &ICSProvider{name: src.Name, path: src.Path, loc: loc}, nil
}

// Name returns the registry key.
func (p *ICSProvider) Name() string { return p.name }

// Calendars lists the single calendar the file holds.
func (p *ICSProvider) Calendars(ctx context.Context) ([]string, error) {
	return []string{p.name}, nil
}

// Refresh is a no-op: file-backed calendars carry no credentials.
func (p *ICSProvider) Refresh(ctx context.Context) error { return nil }

// Create adds the event to the file and returns its UID. An existing
// entry with the same UID is replaced, so a retried create stays clean.
func (p *ICSProvider) Create(ctx context.Context, calendarID string, e *event.Event) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cal, err := p.load()
	if err != nil {
		return "", err
	}

	uid := entryUID(e)
	removeComponent(cal, uid)
	if err := addEntry(cal, uid, 0, e, p.loc); err != nil {
		return "", err
	}
	if err := p.save(cal); err != nil {
		return "", err
	}
	return uid, nil
}

// Update rewrites the entry stored under providerEventID, bumping its
// SEQUENCE. A vanished entry is recreated rather than failed; hand-edited
// files must not wedge sync.
func (p *ICSProvider) Update(ctx context.Context, calendarID, providerEventID string, e *event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cal, err := p.load()
	if err != nil {
		return err
	}

	seq := 0
	if prev := removeComponent(cal, providerEventID); prev != nil {
		if sp := prev.GetProperty(ics.ComponentPropertySequence); sp != nil {
			if n, err := strconv.Atoi(strings.TrimSpace(sp.Value)); err == nil {
				seq = n
			}
		}
	}
	if err := addEntry(cal, providerEventID, seq+1, e, p.loc); err != nil {
		return err
	}
	return p.save(cal)
}

// Entries lists concrete occurrences within [from, to), expanding RRULEs
// and honoring EXDATE. Unreadable entries are skipped, not fatal.
func (p *ICSProvider) Entries(ctx context.Context, calendarID string, from, to time.Time) ([]Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.path)
	if stderrors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cal, err := ics.ParseCalendar(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", p.path, err)
	}

	var entries []Entry
	for _, ve := range cal.Events() {
		// Overridden instances keep their base UID; the base expansion
		// already covers the slot.
		if ve.GetProperty("RECURRENCE-ID") != nil {
			continue
		}
		parsed, err := p.parseVEvent(ve)
		if err != nil {
			logger.Warn("skipping unreadable calendar entry", "path", p.path, "error", err)
			continue
		}
		entries = append(entries, p.expand(parsed, from, to)...)
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Start.Equal(entries[j].Start) {
			return entries[i].Start.Before(entries[j].Start)
		}
		return entries[i].UID < entries[j].UID
	})
	return entries, nil
}

// load reads the backing file, or starts a fresh calendar when it does
// not exist yet.
func (p *ICSProvider) load() (*ics.Calendar, error) {
	data, err := os.ReadFile(p.path)
	if stderrors.Is(err, fs.ErrNotExist) {
		cal := ics.NewCalendar()
		cal.SetMethod(ics.MethodPublish)
		return cal, nil
	}
	if err != nil {
		return nil, err
	}
	cal, err := ics.ParseCalendar(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", p.path, err)
	}
	return cal, nil
}

// save writes atomically: temp file in the same directory, then rename.
func (p *ICSProvider) save(cal *ics.Calendar) error {
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".penciled-ics-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(cal.Serialize()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, p.path)
}

// entryUID derives the stable VEVENT UID for an event. Every push and
// export of the same event reuses it.
func entryUID(e *event.Event) string {
	return e.ID + "@penciled"
}

// addEntry appends a fresh VEVENT for the event under the given UID.
func addEntry(cal *ics.Calendar, uid string, seq int, e *event.Event, loc *time.Location) error {
	start, end, err := e.Window(loc)
	if err != nil {
		return err
	}

	ve := cal.AddEvent(uid)
	ve.SetDtStampTime(time.Now().UTC())
	ve.SetProperty(ics.ComponentPropertySequence, strconv.Itoa(seq))
	ve.SetSummary(e.Summary)

	if e.AllDay {
		ve.SetAllDayStartAt(start)
		ve.SetAllDayEndAt(end)
	} else {
		ve.SetStartAt(start)
		ve.SetEndAt(end)
	}

	if e.Location != nil {
		ve.SetLocation(*e.Location)
	}
	if e.Description != nil {
		ve.SetDescription(*e.Description)
		if html := renderHTML(*e.Description); html != "" {
			ve.SetProperty(altDescProperty, html,
				&ics.KeyValues{Key: "FMTTYPE", Value: []string{"text/html"}})
		}
	}
	if e.Recurrence != nil {
		ve.AddRrule(*e.Recurrence)
	}
	return nil
}

// removeComponent drops the VEVENT with the given UID from the calendar
// and returns it, or nil when absent.
func removeComponent(cal *ics.Calendar, uid string) *ics.VEvent {
	var removed *ics.VEvent
	kept := cal.Components[:0]
	for _, c := range cal.Components {
		if ve, ok := c.(*ics.VEvent); ok && removed == nil {
			if id := ve.GetProperty(ics.ComponentPropertyUniqueId); id != nil && id.Value == uid {
				removed = ve
				continue
			}
		}
		kept = append(kept, c)
	}
	cal.Components = kept
	return removed
}

// renderHTML converts markdown notes to a single-line HTML alternative
// for the X-ALT-DESC property.
func renderHTML(md string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return ""
	}
	return strings.TrimSpace(strings.ReplaceAll(buf.String(), "\n", ""))
}

// icsEntry is one parsed VEVENT before recurrence expansion.
type icsEntry struct {
	uid      string
	summary  string
	location string
	start    time.Time
	end      time.Time
	allDay   bool
	rawRRule string
	exDates  []time.Time
}

func (p *ICSProvider) parseVEvent(ve *ics.VEvent) (icsEntry, error) {
	var out icsEntry

	uidProp := ve.GetProperty(ics.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, stderrors.New("missing UID")
	}
	out.uid = uidProp.Value

	if sp := ve.GetProperty(ics.ComponentPropertySummary); sp != nil {
		out.summary = sp.Value
	}
	if lp := ve.GetProperty(ics.ComponentPropertyLocation); lp != nil {
		out.location = lp.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, fmt.Errorf("entry %s: %w", out.uid, err)
	}
	out.start = start
	if end, err := ve.GetEndAt(); err == nil {
		out.end = end
	}

	// All-day when DTSTART carries VALUE=DATE or a bare date value.
	if dtStart := ve.GetProperty(ics.ComponentPropertyDtStart); dtStart != nil {
		if vs, ok := dtStart.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			out.allDay = true
		}
		if !strings.Contains(dtStart.Value, "T") {
			out.allDay = true
		}
	}

	// Date-only values parse in the machine zone; pin them to the
	// provider's zone so windows stay deterministic.
	if out.allDay {
		out.start = time.Date(out.start.Year(), out.start.Month(), out.start.Day(), 0, 0, 0, 0, p.loc)
		if !out.end.IsZero() {
			out.end = time.Date(out.end.Year(), out.end.Month(), out.end.Day(), 0, 0, 0, 0, p.loc)
		}
	}

	// Missing DTEND defaults to one day for all-day entries, one hour
	// otherwise.
	if out.end.IsZero() {
		if out.allDay {
			out.end = out.start.Add(24 * time.Hour)
		} else {
			out.end = out.start.Add(time.Hour)
		}
	}

	if rp := ve.GetProperty(ics.ComponentPropertyRrule); rp != nil {
		out.rawRRule = rp.Value
	}

	for _, ep := range ve.GetProperties(ics.ComponentPropertyExdate) {
		for _, part := range strings.Split(ep.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, p.loc); err == nil {
				out.exDates = append(out.exDates, t)
			}
		}
	}

	return out, nil
}

// expand turns one parsed entry into its concrete occurrences within
// [from, to).
func (p *ICSProvider) expand(e icsEntry, from, to time.Time) []Entry {
	if e.rawRRule == "" {
		if !Overlaps(e.start, e.end, from, to) {
			return nil
		}
		return []Entry{e.occurrence(e.start, e.end)}
	}

	r, err := rrule.StrToRRule(e.rawRRule)
	if err != nil {
		logger.Warn("skipping unparseable RRULE", "uid", e.uid, "rrule", e.rawRRule, "error", err)
		return nil
	}
	r.DTStart(e.start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range e.exDates {
		set.ExDate(ex.In(e.start.Location()))
	}

	// Between works in the entry's own location.
	times := set.Between(from.In(e.start.Location()), to.In(e.start.Location()), true)
	if len(times) > maxOccurrences {
		times = times[:maxOccurrences]
		logger.Warn("occurrence cap hit", "uid", e.uid, "cap", maxOccurrences)
	}

	out := make([]Entry, 0, len(times))
	dur := e.end.Sub(e.start)
	for _, occStart := range times {
		if e.allDay {
			day := time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			out = append(out, e.occurrence(day, day.Add(24*time.Hour)))
			continue
		}
		out = append(out, e.occurrence(occStart, occStart.Add(dur)))
	}
	return out
}

func (e icsEntry) occurrence(start, end time.Time) Entry {
	return Entry{
		UID:      e.uid,
		Summary:  e.summary,
		Location: e.location,
		Start:    start,
		End:      end,
		AllDay:   e.allDay,
	}
}

// parseICSTime parses the basic ICS date and date-time forms used by
// EXDATE values.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, stderrors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}
