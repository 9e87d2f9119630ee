package stage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/penciled/penciled/internal/config"
	"github.com/penciled/penciled/internal/event"
	"github.com/penciled/penciled/internal/input"
)

// capturedRequest mirrors the wire shape of one chat completion call.
type capturedRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
	ResponseFormat struct {
		Type       string `json:"type"`
		JSONSchema struct {
			Name   string         `json:"name"`
			Strict bool           `json:"strict"`
			Schema map[string]any `json:"schema"`
		} `json:"json_schema"`
	} `json:"response_format"`
}

func newTestGateway(t *testing.T, handler http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.GatewayBaseURL = srv.URL
	cfg.GatewayAPIKey = "test-key"
	return NewGateway(cfg)
}

// reply writes a chat completion envelope whose content is payload
// marshalled to JSON.
func reply(w http.ResponseWriter, payload any) {
	content, _ := json.Marshal(payload)
	json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": string(content)}},
		},
		"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 8, "total_tokens": 20},
	})
}

func decodeRequest(t *testing.T, r *http.Request) capturedRequest {
	t.Helper()
	var req capturedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Errorf("decoding request: %v", err)
	}
	return req
}

// userText returns the user message content as a plain string.
func userText(t *testing.T, req capturedRequest) string {
	t.Helper()
	if len(req.Messages) != 2 {
		t.Errorf("expected system and user messages, got %d", len(req.Messages))
		return ""
	}
	var s string
	if err := json.Unmarshal(req.Messages[1].Content, &s); err != nil {
		t.Errorf("user content is not a string: %v", err)
	}
	return s
}

func TestAnalyzeContext_RequestShape(t *testing.T) {
	var path, auth string
	var got capturedRequest
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		got = decodeRequest(t, r)
		reply(w, Context{
			Summary:       "a weekly team standup",
			Setting:       "work",
			TimeZone:      "America/New_York",
			ReferenceDate: "2026-03-02",
		})
	})

	out, err := g.AnalyzeContext(context.Background(), "standup every monday at 9am", map[string]string{"source": "text"})
	if err != nil {
		t.Fatalf("AnalyzeContext failed: %v", err)
	}

	if path != "/chat/completions" {
		t.Errorf("expected /chat/completions, got %s", path)
	}
	if auth != "Bearer test-key" {
		t.Errorf("expected bearer auth, got %q", auth)
	}
	if got.Model != "gpt-4o-mini" {
		t.Errorf("expected default model, got %q", got.Model)
	}
	if got.ResponseFormat.Type != "json_schema" {
		t.Errorf("expected json_schema response format, got %q", got.ResponseFormat.Type)
	}
	if got.ResponseFormat.JSONSchema.Name != "Context" {
		t.Errorf("expected schema named Context, got %q", got.ResponseFormat.JSONSchema.Name)
	}
	if !got.ResponseFormat.JSONSchema.Strict {
		t.Error("expected strict schema")
	}
	if got.ResponseFormat.JSONSchema.Schema["type"] != "object" {
		t.Errorf("expected object schema, got %v", got.ResponseFormat.JSONSchema.Schema["type"])
	}
	if got.Messages[0].Role != "system" {
		t.Errorf("expected system message first, got %q", got.Messages[0].Role)
	}

	user := userText(t, got)
	if !strings.Contains(user, "standup every monday at 9am") {
		t.Errorf("user content missing input text: %q", user)
	}
	if !strings.Contains(user, "today: ") {
		t.Errorf("user content missing today anchor: %q", user)
	}
	if !strings.Contains(user, "source: text") {
		t.Errorf("user content missing metadata header: %q", user)
	}

	if out.Summary != "a weekly team standup" {
		t.Errorf("expected summary carried through, got %q", out.Summary)
	}
	if out.ReferenceDate != "2026-03-02" {
		t.Errorf("expected reference date carried through, got %q", out.ReferenceDate)
	}
}

func TestIdentifyEvents_CountFollowsList(t *testing.T) {
	var got capturedRequest
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		got = decodeRequest(t, r)
		// Deliberately wrong count and has_events; the list is authoritative.
		reply(w, map[string]any{
			"events": []map[string]string{
				{"description": "dentist appointment", "raw_text": "dentist tuesday at 2pm"},
				{"description": "team standup", "raw_text": "standup every monday at 9am"},
			},
			"count":      99,
			"has_events": false,
		})
	})

	sctx := &Context{Summary: "a scheduling note", Setting: "personal", ReferenceDate: "2026-03-02"}
	out, err := g.IdentifyEvents(context.Background(), "dentist tuesday at 2pm, standup every monday at 9am",
		map[string]string{"source": "text"}, sctx)
	if err != nil {
		t.Fatalf("IdentifyEvents failed: %v", err)
	}

	if out.Count != 2 {
		t.Errorf("expected recomputed count 2, got %d", out.Count)
	}
	if !out.HasEvents {
		t.Error("expected HasEvents true")
	}
	if out.Events[0].Description != "dentist appointment" {
		t.Errorf("expected first candidate carried through, got %q", out.Events[0].Description)
	}

	user := userText(t, got)
	if !strings.Contains(user, "reference_date: 2026-03-02") {
		t.Errorf("user content missing context reference date: %q", user)
	}
	if !strings.Contains(user, "about: a scheduling note") {
		t.Errorf("user content missing context summary: %q", user)
	}
}

func TestIdentifyEvents_NothingSchedulable(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]any{"events": []map[string]string{}, "count": 0, "has_events": false})
	})

	out, err := g.IdentifyEvents(context.Background(), "thanks, see you around", nil, nil)
	if err != nil {
		t.Fatalf("IdentifyEvents failed: %v", err)
	}
	if out.Count != 0 || out.HasEvents {
		t.Errorf("expected empty identification, got count=%d has_events=%v", out.Count, out.HasEvents)
	}
}

func TestExtractFacts(t *testing.T) {
	var got capturedRequest
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		got = decodeRequest(t, r)
		reply(w, Facts{
			Title:     "Dentist appointment",
			Date:      "2026-03-03",
			StartTime: "14:00",
			TimeZone:  "America/New_York",
		})
	})

	out, err := g.ExtractFacts(context.Background(), "dentist tuesday at 2pm", "dentist appointment")
	if err != nil {
		t.Fatalf("ExtractFacts failed: %v", err)
	}

	user := userText(t, got)
	if !strings.Contains(user, "event: dentist appointment") {
		t.Errorf("user content missing candidate label: %q", user)
	}
	if !strings.Contains(user, "dentist tuesday at 2pm") {
		t.Errorf("user content missing source excerpt: %q", user)
	}
	if got.ResponseFormat.JSONSchema.Name != "Facts" {
		t.Errorf("expected schema named Facts, got %q", got.ResponseFormat.JSONSchema.Name)
	}

	if out.Title != "Dentist appointment" || out.Date != "2026-03-03" || out.StartTime != "14:00" {
		t.Errorf("facts not carried through: %+v", out)
	}
}

func TestFormatEvent(t *testing.T) {
	var got capturedRequest
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		got = decodeRequest(t, r)
		reply(w, Draft{
			Summary:    "Dentist appointment",
			Start:      event.DateTime{Date: "2026-03-03", Time: "14:00", TimeZone: "America/New_York"},
			End:        event.DateTime{Date: "2026-03-03", Time: "15:00", TimeZone: "America/New_York"},
			Confidence: 0.9,
		})
	})

	facts := &Facts{Title: "Dentist appointment", Date: "2026-03-03", StartTime: "14:00", EndTime: "15:00"}
	out, err := g.FormatEvent(context.Background(), facts)
	if err != nil {
		t.Fatalf("FormatEvent failed: %v", err)
	}

	if got.ResponseFormat.JSONSchema.Name != "Draft" {
		t.Errorf("expected schema named Draft, got %q", got.ResponseFormat.JSONSchema.Name)
	}
	user := userText(t, got)
	if !strings.Contains(user, `"title": "Dentist appointment"`) {
		t.Errorf("user content missing facts JSON: %q", user)
	}

	if out.Summary != "Dentist appointment" {
		t.Errorf("expected summary carried through, got %q", out.Summary)
	}
	if out.Start.Date != "2026-03-03" || out.Start.Time != "14:00" {
		t.Errorf("expected start carried through, got %+v", out.Start)
	}
	if out.Confidence != 0.9 {
		t.Errorf("expected confidence 0.9, got %v", out.Confidence)
	}
}

func TestPlanEdits(t *testing.T) {
	var got capturedRequest
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		got = decodeRequest(t, r)
		reply(w, map[string]any{
			"actions": []map[string]any{
				{"index": 1, "action": "delete"},
				{"index": 0, "action": "edit", "patch": map[string]string{"summary": "Daily standup"}},
			},
		})
	})

	events := []event.Event{
		{ID: "ev-1", Summary: "Standup", Start: event.DateTime{Date: "2026-03-02", Time: "09:00"}},
		{ID: "ev-2", Summary: "Retro", Start: event.DateTime{Date: "2026-03-06", Time: "16:00"}},
	}
	actions, err := g.PlanEdits(context.Background(), "rename the standup and drop the retro", events)
	if err != nil {
		t.Fatalf("PlanEdits failed: %v", err)
	}

	user := userText(t, got)
	if !strings.Contains(user, "instruction: rename the standup and drop the retro") {
		t.Errorf("user content missing instruction: %q", user)
	}
	if !strings.Contains(user, `"summary": "Retro"`) {
		t.Errorf("user content missing numbered event list: %q", user)
	}

	if len(actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(actions))
	}
	if actions[0].Index != 1 || actions[0].Action != ActionDelete {
		t.Errorf("expected delete of index 1, got %+v", actions[0])
	}
	if actions[1].Action != ActionEdit || actions[1].Patch == nil || *actions[1].Patch.Summary != "Daily standup" {
		t.Errorf("expected edit with summary patch, got %+v", actions[1])
	}
}

func TestIngest_InlineTextCarriesMetadata(t *testing.T) {
	var got capturedRequest
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		got = decodeRequest(t, r)
		reply(w, Ingested{Text: "team offsite thursday", Metadata: map[string]string{"title": "note to self"}})
	})

	payload := input.Normalize(input.NewText("team offsite thursday"))
	out, err := g.Ingest(context.Background(), payload)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	user := userText(t, got)
	if !strings.Contains(user, "source: text") {
		t.Errorf("user content missing payload metadata: %q", user)
	}
	if !strings.Contains(user, "team offsite thursday") {
		t.Errorf("user content missing payload text: %q", user)
	}

	if out.Metadata["title"] != "note to self" {
		t.Errorf("expected stage metadata kept, got %v", out.Metadata)
	}
	if out.Metadata["source"] != "text" {
		t.Errorf("expected normalize metadata merged in, got %v", out.Metadata)
	}
}

func TestIngest_ImageBecomesDataURL(t *testing.T) {
	var got capturedRequest
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		got = decodeRequest(t, r)
		reply(w, Ingested{Text: "school bake sale saturday 10am"})
	})

	payload := input.Normalize(input.NewFile(input.KindImage, "poster.png", "image/png", []byte{0x89, 0x50, 0x4e, 0x47}))
	out, err := g.Ingest(context.Background(), payload)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if len(got.Messages) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(got.Messages))
	}
	var parts []struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		ImageURL *struct {
			URL string `json:"url"`
		} `json:"image_url"`
	}
	if err := json.Unmarshal(got.Messages[1].Content, &parts); err != nil {
		t.Fatalf("user content is not content parts: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("expected text and image parts, got %d", len(parts))
	}
	if parts[0].Type != "text" || !strings.Contains(parts[0].Text, "filename: poster.png") {
		t.Errorf("expected metadata text part, got %+v", parts[0])
	}
	if parts[1].Type != "image_url" || parts[1].ImageURL == nil {
		t.Fatalf("expected image part, got %+v", parts[1])
	}
	if !strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,") {
		t.Errorf("expected base64 data URL, got %q", parts[1].ImageURL.URL)
	}

	if out.Text != "school bake sale saturday 10am" {
		t.Errorf("expected recovered text, got %q", out.Text)
	}
}

func TestIngest_TextualDocumentDecodedInPlace(t *testing.T) {
	var got capturedRequest
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		got = decodeRequest(t, r)
		reply(w, Ingested{Text: "project kickoff friday at 10am"})
	})

	payload := input.Normalize(input.NewFile(input.KindDocument, "agenda.txt", "text/plain", []byte("project kickoff friday at 10am")))
	if _, err := g.Ingest(context.Background(), payload); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	user := userText(t, got)
	if !strings.Contains(user, "project kickoff friday at 10am") {
		t.Errorf("user content missing decoded document: %q", user)
	}
	if !strings.Contains(user, "filename: agenda.txt") {
		t.Errorf("user content missing file metadata: %q", user)
	}
}

func TestIngest_AudioNeedsTranscriber(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("gateway should not be called for raw audio")
	})

	payload := input.Normalize(input.NewFile(input.KindAudio, "memo.ogg", "audio/ogg", make([]byte, 2048)))
	_, err := g.Ingest(context.Background(), payload)
	if err == nil || !strings.Contains(err.Error(), "transcription") {
		t.Fatalf("expected transcription error, got %v", err)
	}
}

func TestIngest_UnreadableDocument(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("gateway should not be called for unreadable payloads")
	})

	payload := input.Normalize(input.NewFile(input.KindDocument, "deck.bin", "application/octet-stream", []byte{0xff, 0xfe, 0x00, 0x01}))
	_, err := g.Ingest(context.Background(), payload)
	if err == nil || !strings.Contains(err.Error(), "unreadable document") {
		t.Fatalf("expected unreadable document error, got %v", err)
	}
}

func TestPromptSchema_FencedContent(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "```json\n{\"summary\":\"fenced\"}\n```"}},
			},
		})
	})

	out, err := g.AnalyzeContext(context.Background(), "anything", nil)
	if err != nil {
		t.Fatalf("AnalyzeContext failed: %v", err)
	}
	if out.Summary != "fenced" {
		t.Errorf("expected fence stripped, got %q", out.Summary)
	}
}

func TestPromptSchema_EmptyChoices(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	})

	_, err := g.AnalyzeContext(context.Background(), "anything", nil)
	if err == nil || !strings.Contains(err.Error(), "empty response") {
		t.Fatalf("expected empty response error, got %v", err)
	}
}

func TestPromptSchema_NonOKStatus(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	})

	_, err := g.AnalyzeContext(context.Background(), "anything", nil)
	if err == nil || !strings.Contains(err.Error(), "non-OK HTTP status") {
		t.Fatalf("expected non-OK status error, got %v", err)
	}
}
