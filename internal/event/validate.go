package event

import (
	"regexp"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/penciled/penciled/internal/errors"
)

// whitespaceRegex matches one or more whitespace characters
var whitespaceRegex = regexp.MustCompile(`\s+`)

// NormalizeSummary trims, collapses internal whitespace, and caps nothing:
// summaries keep their case.
func NormalizeSummary(s string) string {
	s = strings.TrimSpace(s)
	s = whitespaceRegex.ReplaceAllString(s, " ")
	return s
}

// Validate checks the event is well-formed enough to persist: a summary, a
// parseable start, end not before start, a loadable timezone, and a parseable
// recurrence rule. Violations return VALIDATION errors.
func (e *Event) Validate() error {
	if NormalizeSummary(e.Summary) == "" {
		return errors.NewValidation("event summary is required")
	}
	if e.Start.IsZero() {
		return errors.NewValidation("event start date is required")
	}
	start, err := e.Start.Resolve(time.UTC)
	if err != nil {
		return errors.NewValidation(err.Error())
	}
	if !e.End.IsZero() {
		end, err := e.End.Resolve(time.UTC)
		if err != nil {
			return errors.NewValidation(err.Error())
		}
		if end.Before(start) {
			return errors.NewValidation("event end is before its start")
		}
	}
	if !e.AllDay && e.Start.Time == "" {
		return errors.NewValidation("timed event is missing a start time")
	}
	if e.AllDay && e.Start.Time != "" {
		return errors.NewValidation("all-day event must not carry a start time")
	}
	if e.Recurrence != nil {
		if _, err := rrule.StrToRRule(*e.Recurrence); err != nil {
			return errors.NewValidation("invalid recurrence rule: " + *e.Recurrence)
		}
	}
	return nil
}

// ValidatePatch checks a patch in isolation: any fields it does set must be
// well-formed. Cross-field rules are re-checked against the patched event by
// the update path.
func ValidatePatch(p Patch) error {
	if p.Summary != nil && NormalizeSummary(*p.Summary) == "" {
		return errors.NewValidation("event summary cannot be blank")
	}
	if p.Start != nil {
		if _, err := p.Start.Resolve(time.UTC); err != nil {
			return errors.NewValidation(err.Error())
		}
	}
	if p.End != nil && !p.End.IsZero() {
		if _, err := p.End.Resolve(time.UTC); err != nil {
			return errors.NewValidation(err.Error())
		}
	}
	if p.Recurrence != nil && *p.Recurrence != "" {
		if _, err := rrule.StrToRRule(*p.Recurrence); err != nil {
			return errors.NewValidation("invalid recurrence rule: " + *p.Recurrence)
		}
	}
	return nil
}
