package stage

import (
	"context"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/penciled/penciled/internal/config"
	"github.com/penciled/penciled/internal/event"
	"github.com/penciled/penciled/internal/input"
)

// defaultBaseURL serves stage calls when no endpoint is configured.
const defaultBaseURL = "https://api.openai.com/v1"

//go:embed prompts/ingest.tmpl
var ingestPrompt string

//go:embed prompts/context.tmpl
var contextPrompt string

//go:embed prompts/identify.tmpl
var identifyPrompt string

//go:embed prompts/facts.tmpl
var factsPrompt string

//go:embed prompts/format.tmpl
var formatPrompt string

//go:embed prompts/edits.tmpl
var editsPrompt string

// Gateway implements every model-backed stage against one OpenAI-compatible
// chat completion endpoint. A single Gateway is shared across sessions and
// is safe for concurrent use.
type Gateway struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewGateway builds a gateway from configuration. An empty base URL selects
// the public OpenAI endpoint.
func NewGateway(cfg *config.Config) *Gateway {
	baseURL := cfg.GatewayBaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Gateway{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  cfg.GatewayAPIKey,
		model:   cfg.GatewayModel,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   cfg.GatewayTimeout(),
		},
	}
}

// Ingest recovers readable text and metadata from the payload. Inline text
// goes through as-is for cleanup; images ride along as data URLs for the
// vision model; textual attachments are decoded in place.
func (g *Gateway) Ingest(ctx context.Context, p input.Payload) (*Ingested, error) {
	content, err := ingestContent(p)
	if err != nil {
		g.count(ctx, StageIngest, err)
		return nil, err
	}
	out, err := promptSchema[Ingested](ctx, g, StageIngest, ingestPrompt, content)
	g.count(ctx, StageIngest, err)
	if err != nil {
		return nil, err
	}

	// Normalize metadata rides forward alongside whatever the stage read
	// out of the content itself.
	if out.Metadata == nil {
		out.Metadata = make(map[string]string, len(p.Metadata))
	}
	for k, v := range p.Metadata {
		if _, ok := out.Metadata[k]; !ok {
			out.Metadata[k] = v
		}
	}
	return out, nil
}

// AnalyzeContext summarizes what the ingested text is about.
func (g *Gateway) AnalyzeContext(ctx context.Context, text string, metadata map[string]string) (*Context, error) {
	var b strings.Builder
	b.WriteString("today: " + today() + "\n")
	b.WriteString(header(metadata))
	b.WriteString("\n")
	b.WriteString(text)

	out, err := promptSchema[Context](ctx, g, StageContextAnalysis, contextPrompt, b.String())
	g.count(ctx, StageContextAnalysis, err)
	return out, err
}

// IdentifyEvents finds the distinct schedulable events in the text. The
// returned Count and HasEvents are recomputed from the event list, which is
// authoritative.
func (g *Gateway) IdentifyEvents(ctx context.Context, text string, metadata map[string]string, sctx *Context) (*Identified, error) {
	var b strings.Builder
	b.WriteString("today: " + today() + "\n")
	b.WriteString(header(metadata))
	if sctx != nil {
		if sctx.Summary != "" {
			fmt.Fprintf(&b, "about: %s\n", sctx.Summary)
		}
		if sctx.Setting != "" {
			fmt.Fprintf(&b, "setting: %s\n", sctx.Setting)
		}
		if sctx.TimeZone != "" {
			fmt.Fprintf(&b, "time_zone: %s\n", sctx.TimeZone)
		}
		if sctx.ReferenceDate != "" {
			fmt.Fprintf(&b, "reference_date: %s\n", sctx.ReferenceDate)
		}
	}
	b.WriteString("\n")
	b.WriteString(text)

	out, err := promptSchema[Identified](ctx, g, StageEventIdentification, identifyPrompt, b.String())
	g.count(ctx, StageEventIdentification, err)
	if err != nil {
		return nil, err
	}
	out.Count = len(out.Events)
	out.HasEvents = out.Count > 0
	return out, nil
}

// ExtractFacts pulls one candidate's scheduling facts out of its source
// excerpt.
func (g *Gateway) ExtractFacts(ctx context.Context, rawText, description string) (*Facts, error) {
	var b strings.Builder
	b.WriteString("today: " + today() + "\n")
	fmt.Fprintf(&b, "event: %s\n\n", description)
	b.WriteString(rawText)

	out, err := promptSchema[Facts](ctx, g, StageFactExtraction, factsPrompt, b.String())
	g.count(ctx, StageFactExtraction, err)
	return out, err
}

// FormatEvent resolves extracted facts into a concrete calendar draft.
func (g *Gateway) FormatEvent(ctx context.Context, facts *Facts) (*Draft, error) {
	factsJSON, err := json.MarshalIndent(facts, "", "  ")
	if err != nil {
		g.count(ctx, StageCalendarFormatting, err)
		return nil, err
	}
	content := "today: " + today() + "\n\n" + string(factsJSON)

	out, err := promptSchema[Draft](ctx, g, StageCalendarFormatting, formatPrompt, content)
	g.count(ctx, StageCalendarFormatting, err)
	return out, err
}

// editPlan wraps the action list; structured output needs an object root.
type editPlan struct {
	Actions []EditAction `json:"actions" jsonschema:"description=One entry per affected event; untouched events are omitted"`
}

// eventView is the numbered snapshot PlanEdits shows the model. Indexes are
// positions in the submitted list, not event ids.
type eventView struct {
	Index       int            `json:"index"`
	Summary     string         `json:"summary"`
	Start       event.DateTime `json:"start"`
	End         event.DateTime `json:"end"`
	AllDay      bool           `json:"all_day,omitempty"`
	Location    *string        `json:"location,omitempty"`
	Description *string        `json:"description,omitempty"`
	Recurrence  *string        `json:"recurrence,omitempty"`
	CalendarID  *string        `json:"calendar_id,omitempty"`
}

// PlanEdits turns a natural-language instruction over an event list into
// per-index actions. Index validation is the caller's job; the plan may
// reference any index the model chose.
func (g *Gateway) PlanEdits(ctx context.Context, instruction string, events []event.Event) ([]EditAction, error) {
	views := make([]eventView, len(events))
	for i, e := range events {
		views[i] = eventView{
			Index:       i,
			Summary:     e.Summary,
			Start:       e.Start,
			End:         e.End,
			AllDay:      e.AllDay,
			Location:    e.Location,
			Description: e.Description,
			Recurrence:  e.Recurrence,
			CalendarID:  e.CalendarID,
		}
	}
	viewJSON, err := json.MarshalIndent(views, "", "  ")
	if err != nil {
		g.count(ctx, StageEditPlanning, err)
		return nil, err
	}
	content := fmt.Sprintf("today: %s\ninstruction: %s\n\nevents:\n%s", today(), instruction, viewJSON)

	out, err := promptSchema[editPlan](ctx, g, StageEditPlanning, editsPrompt, content)
	g.count(ctx, StageEditPlanning, err)
	if err != nil {
		return nil, err
	}
	return out.Actions, nil
}

// count records per-stage call metrics.
func (g *Gateway) count(ctx context.Context, name string, err error) {
	stageCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", name)))
	if err != nil {
		stageErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", name)))
	}
}

// ingestContent shapes the payload into chat message content: a plain
// string for text, content parts for images, decoded text for readable
// attachments.
func ingestContent(p input.Payload) (any, error) {
	if p.Inline() {
		return header(p.Metadata) + "\n" + p.Text, nil
	}

	switch {
	case strings.HasPrefix(p.MIME, "image/"):
		url := "data:" + p.MIME + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
		return []contentPart{
			{Type: "text", Text: header(p.Metadata)},
			{Type: "image_url", ImageURL: &imageURL{URL: url}},
		}, nil

	case strings.HasPrefix(p.MIME, "audio/"):
		return nil, fmt.Errorf("audio payload requires transcription and no transcriber is configured")

	case textualMIME(p.MIME) || utf8.Valid(p.Data):
		return header(p.Metadata) + "\n" + string(p.Data), nil

	default:
		return nil, fmt.Errorf("unreadable document type %q", p.MIME)
	}
}

// textualMIME reports whether the attachment decodes as plain text.
func textualMIME(mime string) bool {
	if strings.HasPrefix(mime, "text/") {
		return true
	}
	switch mime {
	case "application/json", "application/xml", "application/xhtml+xml",
		"application/rtf", "message/rfc822":
		return true
	}
	return false
}

// header renders payload metadata as "key: value" lines the model can read.
// Keys are sorted so prompts are stable across runs.
func header(md map[string]string) string {
	if len(md) == 0 {
		return ""
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, md[k])
	}
	return b.String()
}

// today anchors the model's clock for resolving relative dates.
func today() string {
	return time.Now().UTC().Format("2006-01-02")
}
