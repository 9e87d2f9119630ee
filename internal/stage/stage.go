package stage

import (
	"context"

	"github.com/penciled/penciled/internal/event"
	"github.com/penciled/penciled/internal/input"
)

// Stage names as recorded in the audit trail and surfaced in errors.
const (
	StageIngest              = "ingest"
	StageContextAnalysis     = "context-analysis"
	StageEventIdentification = "event-identification"
	StageFactExtraction      = "fact-extraction"
	StageCalendarFormatting  = "calendar-formatting"
	StageEditPlanning        = "edit-planning"
)

// Ingested is the ingest stage output: clean source text plus whatever
// metadata the stage recovered from the payload.
type Ingested struct {
	Text     string            `json:"text" jsonschema:"description=The full readable text recovered from the input"`
	Metadata map[string]string `json:"metadata,omitempty" jsonschema:"description=Recovered attributes such as sender or document title"`
}

// Context captures what the input is about before any events are
// identified. Downstream stages use it to resolve relative dates and pick
// sensible defaults.
type Context struct {
	Summary       string   `json:"summary" jsonschema:"description=One or two sentences describing what this input is"`
	Setting       string   `json:"setting,omitempty" jsonschema:"description=The life area the input belongs to,enum=work,enum=school,enum=family,enum=personal,enum=other"`
	TimeZone      string   `json:"time_zone,omitempty" jsonschema:"description=IANA timezone the input's times are expressed in when evident"`
	ReferenceDate string   `json:"reference_date,omitempty" jsonschema:"description=Date in YYYY-MM-DD that relative expressions like 'next Tuesday' count from"`
	Participants  []string `json:"participants,omitempty" jsonschema:"description=People or groups the input mentions"`
}

// Candidate is one event the identification stage found in the text.
type Candidate struct {
	Description string `json:"description" jsonschema:"description=Short human label for this event"`
	RawText     string `json:"raw_text" jsonschema:"description=The verbatim excerpt the event was found in"`
}

// Identified is the event-identification output. Count and HasEvents are
// redundant with Events but keep the upstream contract explicit: a zero
// count short-circuits the pipeline.
type Identified struct {
	Events    []Candidate `json:"events"`
	Count     int         `json:"count"`
	HasEvents bool        `json:"has_events"`
}

// Facts carries the scheduling facts extracted for a single candidate.
// Fields stay as loosely-typed strings on purpose; formatting resolves
// them into a concrete calendar entry.
type Facts struct {
	Title      string `json:"title" jsonschema:"description=What the calendar entry should be called"`
	Date       string `json:"date,omitempty" jsonschema:"description=Start date in YYYY-MM-DD"`
	StartTime  string `json:"start_time,omitempty" jsonschema:"description=Start time in 24h HH:MM when the event is not all-day"`
	EndTime    string `json:"end_time,omitempty" jsonschema:"description=End time in 24h HH:MM when stated or implied"`
	EndDate    string `json:"end_date,omitempty" jsonschema:"description=End date in YYYY-MM-DD for multi-day events"`
	TimeZone   string `json:"time_zone,omitempty" jsonschema:"description=IANA timezone for the stated times"`
	AllDay     bool   `json:"all_day,omitempty" jsonschema:"description=True when the event has no specific time of day"`
	Location   string `json:"location,omitempty" jsonschema:"description=Venue or address when stated"`
	Recurrence string `json:"recurrence,omitempty" jsonschema:"description=Repeat pattern in plain words such as 'every Monday'"`
	Notes      string `json:"notes,omitempty" jsonschema:"description=Other details worth keeping with the entry"`
}

// Draft is a formatted calendar entry ready to persist. Confidence is the
// formatter's own estimate that the entry is what the user meant.
type Draft struct {
	Summary     string         `json:"summary"`
	Start       event.DateTime `json:"start"`
	End         event.DateTime `json:"end,omitempty"`
	AllDay      bool           `json:"all_day,omitempty"`
	Location    string         `json:"location,omitempty"`
	Description string         `json:"description,omitempty" jsonschema:"description=Free-form notes in markdown"`
	Recurrence  string         `json:"recurrence,omitempty" jsonschema:"description=RFC 5545 RRULE without the RRULE: prefix, e.g. FREQ=WEEKLY;BYDAY=MO"`
	CalendarID  string         `json:"calendar_id,omitempty" jsonschema:"description=Target calendar when the input names one"`
	Confidence  float64        `json:"confidence" jsonschema:"description=0 to 1 estimate that this entry matches the user's intent"`
}

// Edit action verbs produced by the planning stage.
const (
	ActionEdit   = "edit"
	ActionDelete = "delete"
)

// EditAction is one planned change derived from a natural-language
// instruction over an event list.
type EditAction struct {
	Index  int          `json:"index" jsonschema:"description=Zero-based index into the submitted event list"`
	Action string       `json:"action" jsonschema:"enum=edit,enum=delete"`
	Patch  *event.Patch `json:"patch,omitempty" jsonschema:"description=Field changes to apply when action is edit"`
}

// Ingestor recovers readable text from a normalized input payload.
type Ingestor interface {
	Ingest(ctx context.Context, p input.Payload) (*Ingested, error)
}

// ContextAnalyzer summarizes what the ingested text is about.
type ContextAnalyzer interface {
	AnalyzeContext(ctx context.Context, text string, metadata map[string]string) (*Context, error)
}

// EventIdentifier finds the distinct schedulable events in the text.
type EventIdentifier interface {
	IdentifyEvents(ctx context.Context, text string, metadata map[string]string, sctx *Context) (*Identified, error)
}

// FactExtractor pulls one candidate's scheduling facts out of the source
// text.
type FactExtractor interface {
	ExtractFacts(ctx context.Context, rawText, description string) (*Facts, error)
}

// EventFormatter resolves extracted facts into a concrete calendar draft.
type EventFormatter interface {
	FormatEvent(ctx context.Context, facts *Facts) (*Draft, error)
}

// EditPlanner turns a natural-language instruction over an event list into
// per-index actions.
type EditPlanner interface {
	PlanEdits(ctx context.Context, instruction string, events []event.Event) ([]EditAction, error)
}

// Stages bundles the five pipeline collaborators behind one dependency.
type Stages interface {
	Ingestor
	ContextAnalyzer
	EventIdentifier
	FactExtractor
	EventFormatter
}

// Transcriber converts recorded audio to text locally, before ingest.
// Optional; when absent the audio payload rides through ingest as-is.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// LinkFetcher resolves a link input into page content, before ingest.
// Optional; when absent the URL itself is all ingest sees.
type LinkFetcher interface {
	FetchLink(ctx context.Context, url string) (data []byte, mime string, err error)
}
