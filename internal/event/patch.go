package event

// Patch is a partial update to an event. Nil fields are left untouched;
// non-nil pointer-to-pointer semantics are flattened: setting Location to an
// empty string clears it.
type Patch struct {
	Summary     *string   `json:"summary,omitempty"`
	Start       *DateTime `json:"start,omitempty"`
	End         *DateTime `json:"end,omitempty"`
	AllDay      *bool     `json:"all_day,omitempty"`
	Location    *string   `json:"location,omitempty"`
	Description *string   `json:"description,omitempty"`
	Recurrence  *string   `json:"recurrence,omitempty"`
	CalendarID  *string   `json:"calendar_id,omitempty"`
}

// IsZero reports whether the patch changes nothing.
func (p Patch) IsZero() bool {
	return p.Summary == nil && p.Start == nil && p.End == nil &&
		p.AllDay == nil && p.Location == nil && p.Description == nil &&
		p.Recurrence == nil && p.CalendarID == nil
}

// Apply overlays the patch onto a copy of e and returns it. The copy's
// Version is untouched; version bumps belong to whoever accepts the
// mutation.
func (p Patch) Apply(e Event) Event {
	if p.Summary != nil {
		e.Summary = *p.Summary
	}
	if p.Start != nil {
		e.Start = *p.Start
	}
	if p.End != nil {
		e.End = *p.End
	}
	if p.AllDay != nil {
		e.AllDay = *p.AllDay
	}
	if p.Location != nil {
		e.Location = clearableString(*p.Location)
	}
	if p.Description != nil {
		e.Description = clearableString(*p.Description)
	}
	if p.Recurrence != nil {
		e.Recurrence = clearableString(*p.Recurrence)
	}
	if p.CalendarID != nil {
		e.CalendarID = clearableString(*p.CalendarID)
	}
	return e
}

// clearableString maps "" to nil so patches can erase optional fields.
func clearableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
