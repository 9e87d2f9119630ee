package event

import (
	"fmt"
	"time"
)

// LintResult carries non-fatal draft quality warnings. A draft with warnings
// is still persisted; warnings exist so callers can log or surface them.
type LintResult struct {
	Clean    bool
	Warnings []string
}

const (
	// maxPastDrift flags starts suspiciously far in the past.
	maxPastDrift = 366 * 24 * time.Hour

	// maxFutureDrift flags starts suspiciously far in the future.
	maxFutureDrift = 5 * 366 * 24 * time.Hour

	// longDuration flags timed events that run implausibly long.
	longDuration = 12 * time.Hour
)

// Lint inspects a formatted draft for signs the extraction misread the
// input. Validation gates persistence; lint only warns.
func Lint(e *Event, now time.Time) *LintResult {
	result := &LintResult{Clean: true}

	warn := func(format string, args ...any) {
		result.Clean = false
		result.Warnings = append(result.Warnings, fmt.Sprintf(format, args...))
	}

	start, end, err := e.Window(time.UTC)
	if err != nil {
		// Validate reports unparseable fields; nothing more to inspect.
		return result
	}

	if now.Sub(start) > maxPastDrift {
		warn("start %s is more than a year in the past", e.Start.Date)
	}
	if start.Sub(now) > maxFutureDrift {
		warn("start %s is more than five years out", e.Start.Date)
	}
	if !e.AllDay {
		if e.Start.TimeZone == "" {
			warn("timed event has no timezone; the local zone will be assumed")
		}
		if d := end.Sub(start); d > longDuration {
			warn("event runs %.1f hours; check the end time", d.Hours())
		}
		if end.Equal(start) {
			warn("event has zero duration")
		}
	}

	return result
}
