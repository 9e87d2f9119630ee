package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// dateTimeSchema describes the wall-clock object used by event start and
// end fields. Date-only values mark all-day events.
var dateTimeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"date":      map[string]any{"type": "string", "description": "Calendar date, YYYY-MM-DD"},
		"time":      map[string]any{"type": "string", "description": "Wall-clock time, HH:MM; omit for all-day"},
		"time_zone": map[string]any{"type": "string", "description": "IANA zone name, e.g. America/New_York"},
	},
	"required": []string{"date"},
}

var createSessionToolDef = mcp.NewTool("create_session",
	mcp.WithDescription("Submit unstructured input (text, image, audio, document, email, or link) and start extracting calendar events from it. Returns the session snapshot; pass wait=true to block until processing settles."),
	mcp.WithString("kind",
		mcp.Description("Input kind; defaults to text"),
		mcp.Enum("text", "image", "audio", "document", "email", "link"),
	),
	mcp.WithString("text",
		mcp.Description("Inline content: the text itself, a raw email message, or the URL for link inputs"),
	),
	mcp.WithString("data",
		mcp.Description("Base64-encoded payload for image, audio, and document inputs"),
	),
	mcp.WithString("file_name",
		mcp.Description("Original file name for payload inputs"),
	),
	mcp.WithString("mime",
		mcp.Description("Payload content type, e.g. audio/wav"),
	),
	mcp.WithString("hint",
		mcp.Description("Optional processing hint, e.g. 'school newsletter for the fall term'"),
	),
	mcp.WithString("owner",
		mcp.Description("Owner recorded on the session; defaults to the configured owner"),
	),
	mcp.WithBoolean("guest",
		mcp.Description("Create an anonymous trial session; the response carries a one-time access token"),
	),
	mcp.WithBoolean("wait",
		mcp.Description("Block until the session reaches a terminal status"),
	),
)

var getSessionToolDef = mcp.NewTool("get_session",
	mcp.WithDescription("Fetch one session snapshot: status, error if any, and extracted event ids."),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Session id"),
	),
	mcp.WithString("token",
		mcp.Description("Guest access token; required for guest sessions"),
	),
	mcp.WithBoolean("include_stages",
		mcp.Description("Attach the session's per-stage audit trail"),
	),
)

var listSessionsToolDef = mcp.NewTool("list_sessions",
	mcp.WithDescription("List an owner's sessions, most recently updated first. Guest sessions are never listable."),
	mcp.WithString("owner",
		mcp.Description("Owner id; defaults to the configured owner"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Page size (default 20, max 100)"),
	),
	mcp.WithNumber("offset",
		mcp.Description("Pagination offset"),
	),
)

var sessionEventsToolDef = mcp.NewTool("session_events",
	mcp.WithDescription("List a session's events in extraction order, each with its sync status (draft, applied, or edited)."),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Session id"),
	),
	mcp.WithString("token",
		mcp.Description("Guest access token; required for guest sessions"),
	),
)

var updateEventToolDef = mcp.NewTool("update_event",
	mcp.WithDescription("Apply a field patch to one event. Omitted patch fields are untouched; empty strings clear optional fields. Returns the persisted event with its bumped version."),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Event id"),
	),
	mcp.WithString("token",
		mcp.Description("Guest access token; required for events in guest sessions"),
	),
	mcp.WithObject("patch",
		mcp.Required(),
		mcp.Description("Fields to change"),
		mcp.Properties(map[string]any{
			"summary":     map[string]any{"type": "string"},
			"start":       dateTimeSchema,
			"end":         dateTimeSchema,
			"all_day":     map[string]any{"type": "boolean"},
			"location":    map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
			"recurrence":  map[string]any{"type": "string", "description": "RFC 5545 RRULE; empty string clears"},
			"calendar_id": map[string]any{"type": "string"},
		}),
	),
)

var deleteEventToolDef = mcp.NewTool("delete_event",
	mcp.WithDescription("Delete one event. The event disappears from its session; copies already pushed to a calendar are not touched."),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Event id"),
	),
	mcp.WithString("token",
		mcp.Description("Guest access token; required for events in guest sessions"),
	),
)

var batchEditToolDef = mcp.NewTool("batch_edit",
	mcp.WithDescription("Apply a natural-language instruction across events, targeting either a whole session or an explicit id list. The instruction is planned into per-event edit and delete actions; each action lands or fails on its own."),
	mcp.WithString("session_id",
		mcp.Description("Session whose live events are the edit targets"),
	),
	mcp.WithArray("event_ids",
		mcp.Description("Explicit event targets; mutually exclusive with session_id"),
		mcp.Items(map[string]any{"type": "string"}),
	),
	mcp.WithString("token",
		mcp.Description("Guest access token; required for guest sessions"),
	),
	mcp.WithString("instruction",
		mcp.Required(),
		mcp.Description("What to change, e.g. 'push everything after lunch back an hour'"),
	),
)

var syncEventToolDef = mcp.NewTool("sync_event",
	mcp.WithDescription("Push one event to its calendar. Unchanged events are skipped; previously pushed events update in place. Schedule overlaps are reported as advisory conflicts, never blocking."),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Event id"),
	),
	mcp.WithString("token",
		mcp.Description("Guest access token; required for events in guest sessions"),
	),
	mcp.WithString("provider",
		mcp.Description("Calendar name override for this push"),
	),
)

var syncSessionToolDef = mcp.NewTool("sync_session",
	mcp.WithDescription("Push a batch of events to their calendars, targeting either a whole session or an explicit id list. Each event syncs on its own; the result buckets created, updated, skipped, and failed ids."),
	mcp.WithString("session_id",
		mcp.Description("Session whose live events are pushed"),
	),
	mcp.WithArray("event_ids",
		mcp.Description("Explicit event targets; mutually exclusive with session_id"),
		mcp.Items(map[string]any{"type": "string"}),
	),
	mcp.WithString("token",
		mcp.Description("Guest access token; required for guest sessions"),
	),
	mcp.WithString("provider",
		mcp.Description("Calendar name override for this push"),
	),
)

var migrateToolDef = mcp.NewTool("migrate_guest_sessions",
	mcp.WithDescription("Move guest sessions to an account owner. Idempotent: non-guest, unknown, and already-migrated ids are reported as skipped. Migration never frees guest trial slots."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("Account owner receiving the sessions"),
	),
	mcp.WithArray("session_ids",
		mcp.Required(),
		mcp.Description("Guest session ids to move"),
		mcp.Items(map[string]any{"type": "string"}),
	),
)

var exportToolDef = mcp.NewTool("export_ics",
	mcp.WithDescription("Write a session's events to an .ics calendar file. Defaults to ~/.penciled/exports; other destinations must be on the configured allowlist."),
	mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("Session to export"),
	),
	mcp.WithString("token",
		mcp.Description("Guest access token; required for guest sessions"),
	),
	mcp.WithString("path",
		mcp.Description("Destination file; must end in .ics"),
	),
	mcp.WithString("time_zone",
		mcp.Description("Fallback IANA zone for events that carry none"),
	),
)

var progressToolDef = mcp.NewTool("progress",
	mcp.WithDescription("One-shot progress snapshot: authoritative session status plus the ordered notification log so far. Poll until done is true."),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Session id"),
	),
	mcp.WithString("token",
		mcp.Description("Guest access token; required for guest sessions"),
	),
)
