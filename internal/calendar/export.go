package calendar

import (
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/penciled/penciled/internal/event"
)

// BuildICS serializes events into a standalone calendar, one VEVENT per
// event, in the same entry shape the file-backed provider writes. UIDs
// match what sync would create, so an exported file imported elsewhere
// lines up with later pushes.
func BuildICS(events []event.Event, timeZone string) (string, error) {
	loc := time.UTC
	if timeZone != "" {
		l, err := time.LoadLocation(timeZone)
		if err != nil {
			return "", err
		}
		loc = l
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	for i := range events {
		e := &events[i]
		if err := addEntry(cal, entryUID(e), 0, e, loc); err != nil {
			return "", err
		}
	}
	return cal.Serialize(), nil
}
