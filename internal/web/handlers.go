package web

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/penciled/penciled/internal/calendar"
	"github.com/penciled/penciled/internal/errors"
	"github.com/penciled/penciled/internal/event"
	"github.com/penciled/penciled/internal/input"
	"github.com/penciled/penciled/internal/ops"
)

// Handlers contains HTTP route handlers for the JSON API.
type Handlers struct {
	deps    ops.Deps
	version string
}

// NewHandlers builds the handler set over shared dependencies.
func NewHandlers(deps ops.Deps, version string) *Handlers {
	return &Handlers{deps: deps, version: version}
}

// HandleHealth handles GET /api/health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.version,
	})
}

type createSessionRequest struct {
	Kind     string `json:"kind"`
	Text     string `json:"text"`
	Data     string `json:"data"` // base64 for binary inputs
	FileName string `json:"file_name"`
	MIME     string `json:"mime"`
	Hint     string `json:"hint"`
	Owner    string `json:"owner"`
	Guest    bool   `json:"guest"`
	Wait     bool   `json:"wait"`
}

// HandleCreateSession handles POST /api/sessions — submit an input for
// extraction.
func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[createSessionRequest](w, r, h.bodyLimit())
	if err != nil {
		writeError(w, err)
		return
	}

	kind := input.KindText
	if req.Kind != "" {
		kind, err = input.ParseKind(req.Kind)
		if err != nil {
			writeError(w, errors.NewValidation(err.Error()))
			return
		}
	}

	var data []byte
	if req.Data != "" {
		data, err = base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			writeError(w, errors.NewValidation("data must be base64-encoded"))
			return
		}
	}

	result, err := ops.CreateSession(r.Context(), h.deps, ops.CreateSessionInput{
		Input: input.Input{
			Kind:     kind,
			Text:     req.Text,
			FileName: req.FileName,
			MIME:     req.MIME,
			Data:     data,
			Hint:     req.Hint,
		},
		Owner: req.Owner,
		Guest: req.Guest,
		Wait:  req.Wait,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// HandleListSessions handles GET /api/sessions.
func (h *Handlers) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	result, err := ops.ListSessions(h.deps, ops.ListSessionsInput{
		Owner:  r.URL.Query().Get("owner"),
		Limit:  parseIntParam(r, "limit", 0),
		Offset: parseIntParam(r, "offset", 0),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleGetSession handles GET /api/sessions/{id}.
func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	result, err := ops.GetSession(h.deps, ops.GetSessionInput{
		ID:            r.PathValue("id"),
		Token:         bearerToken(r),
		IncludeStages: parseBoolParam(r, "include_stages"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleSessionEvents handles GET /api/sessions/{id}/events.
func (h *Handlers) HandleSessionEvents(w http.ResponseWriter, r *http.Request) {
	result, err := ops.SessionEvents(h.deps, ops.SessionEventsInput{
		ID:    r.PathValue("id"),
		Token: bearerToken(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleProgress handles GET /api/sessions/{id}/progress — one
// point-in-time snapshot; the stream route carries the live feed.
func (h *Handlers) HandleProgress(w http.ResponseWriter, r *http.Request) {
	result, err := ops.Progress(h.deps, ops.ProgressInput{
		ID:    r.PathValue("id"),
		Token: bearerToken(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleExportICS handles GET /api/sessions/{id}/export.ics — the
// session's events serialized as a calendar download. Unlike the export
// operation nothing touches disk; the body is the file.
func (h *Handlers) HandleExportICS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	result, err := ops.SessionEvents(h.deps, ops.SessionEventsInput{
		ID:    id,
		Token: bearerToken(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if len(result.Events) == 0 {
		writeError(w, errors.NewValidation("session has no events to export"))
		return
	}

	events := make([]event.Event, len(result.Events))
	for i, v := range result.Events {
		events[i] = v.Event
	}
	body, err := calendar.BuildICS(events, r.URL.Query().Get("time_zone"))
	if err != nil {
		writeError(w, errors.NewValidation("cannot serialize events: "+err.Error()))
		return
	}

	name := ops.SanitizeForFilename(id) + ".ics"
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// HandleUpdateEvent handles PATCH /api/events/{id}. The body is the
// patch document itself; absent fields keep their values, null clears.
func (h *Handlers) HandleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	patch, err := decodeBody[event.Patch](w, r, h.bodyLimit())
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := ops.UpdateEvent(h.deps, ops.UpdateEventInput{
		ID:    r.PathValue("id"),
		Token: bearerToken(r),
		Patch: patch,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleDeleteEvent handles DELETE /api/events/{id}.
func (h *Handlers) HandleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	result, err := ops.DeleteEvent(h.deps, ops.DeleteEventInput{
		ID:    r.PathValue("id"),
		Token: bearerToken(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type batchEditRequest struct {
	SessionID   string   `json:"session_id"`
	EventIDs    []string `json:"event_ids"`
	Instruction string   `json:"instruction"`
}

// HandleBatchEdit handles POST /api/events/batch-edit — apply a natural
// language instruction across a session or an explicit set of events.
func (h *Handlers) HandleBatchEdit(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[batchEditRequest](w, r, h.bodyLimit())
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := ops.BatchEdit(r.Context(), h.deps, ops.BatchEditInput{
		SessionID:   req.SessionID,
		EventIDs:    req.EventIDs,
		Token:       bearerToken(r),
		Instruction: req.Instruction,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type syncRequest struct {
	EventIDs []string `json:"event_ids"`
	Provider string   `json:"provider"`
}

// HandleSyncEvent handles POST /api/events/{id}/sync. The body is
// optional; it may name a provider override.
func (h *Handlers) HandleSyncEvent(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if r.ContentLength != 0 {
		var err error
		req, err = decodeBody[syncRequest](w, r, h.bodyLimit())
		if err != nil {
			writeError(w, err)
			return
		}
	}

	result, err := ops.SyncEvent(r.Context(), h.deps, ops.SyncEventInput{
		ID:       r.PathValue("id"),
		Token:    bearerToken(r),
		Provider: req.Provider,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleSyncSession handles POST /api/sessions/{id}/sync. An event_ids
// body narrows the push to those events instead of the whole session.
func (h *Handlers) HandleSyncSession(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if r.ContentLength != 0 {
		var err error
		req, err = decodeBody[syncRequest](w, r, h.bodyLimit())
		if err != nil {
			writeError(w, err)
			return
		}
	}

	in := ops.SyncSessionInput{
		Token:    bearerToken(r),
		Provider: req.Provider,
	}
	// The operation takes exactly one target; explicit ids win.
	if len(req.EventIDs) > 0 {
		in.EventIDs = req.EventIDs
	} else {
		in.SessionID = r.PathValue("id")
	}

	result, err := ops.SyncSession(r.Context(), h.deps, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type migrateRequest struct {
	UserID     string   `json:"user_id"`
	SessionIDs []string `json:"session_ids"`
}

// HandleMigrate handles POST /api/migrate — adopt guest sessions into an
// account after signup.
func (h *Handlers) HandleMigrate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[migrateRequest](w, r, h.bodyLimit())
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := ops.MigrateGuestSessions(h.deps, ops.MigrateGuestSessionsInput{
		UserID:     req.UserID,
		SessionIDs: req.SessionIDs,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// bodyLimit bounds request bodies at double the raw input cap, which
// leaves room for base64 growth plus the JSON envelope.
func (h *Handlers) bodyLimit() int64 {
	return h.deps.Config.MaxInputBytes * 2
}

// decodeBody decodes a JSON request body, bounded by limit.
func decodeBody[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, error) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	if err := dec.Decode(&v); err != nil {
		return v, errors.NewValidation("invalid request body: " + err.Error())
	}
	return v, nil
}

// writeJSON writes data as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}

// writeError writes an error as the standard JSON error envelope, using
// the error's own HTTP status.
func writeError(w http.ResponseWriter, err error) {
	penErr := errors.From(err)
	writeJSON(w, penErr.Status, map[string]any{
		"error": map[string]any{
			"code":    penErr.Code,
			"message": penErr.Message,
			"status":  penErr.Status,
		},
	})
}

// bearerToken extracts the guest access token from the Authorization
// header. Websocket dials from browsers cannot set headers, so a token
// query parameter is honored as a fallback.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("token")
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// parseBoolParam parses a boolean query parameter.
func parseBoolParam(r *http.Request, name string) bool {
	s := r.URL.Query().Get(name)
	return s == "true" || s == "1"
}
