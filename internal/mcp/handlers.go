package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/penciled/penciled/internal/errors"
	"github.com/penciled/penciled/internal/event"
	"github.com/penciled/penciled/internal/input"
	"github.com/penciled/penciled/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	deps ops.Deps
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps ops.Deps) *Handlers {
	return &Handlers{deps: deps}
}

// Request types for each tool

// CreateSessionRequest represents the arguments for create_session.
type CreateSessionRequest struct {
	Kind     string `json:"kind,omitempty"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	FileName string `json:"file_name,omitempty"`
	MIME     string `json:"mime,omitempty"`
	Hint     string `json:"hint,omitempty"`
	Owner    string `json:"owner,omitempty"`
	Guest    bool   `json:"guest,omitempty"`
	Wait     bool   `json:"wait,omitempty"`
}

// GetSessionRequest represents the arguments for get_session.
type GetSessionRequest struct {
	ID            string `json:"id"`
	Token         string `json:"token,omitempty"`
	IncludeStages bool   `json:"include_stages,omitempty"`
}

// ListSessionsRequest represents the arguments for list_sessions.
type ListSessionsRequest struct {
	Owner  string `json:"owner,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// SessionEventsRequest represents the arguments for session_events.
type SessionEventsRequest struct {
	ID    string `json:"id"`
	Token string `json:"token,omitempty"`
}

// UpdateEventRequest represents the arguments for update_event.
type UpdateEventRequest struct {
	ID    string      `json:"id"`
	Token string      `json:"token,omitempty"`
	Patch event.Patch `json:"patch"`
}

// DeleteEventRequest represents the arguments for delete_event.
type DeleteEventRequest struct {
	ID    string `json:"id"`
	Token string `json:"token,omitempty"`
}

// BatchEditRequest represents the arguments for batch_edit.
type BatchEditRequest struct {
	SessionID   string   `json:"session_id,omitempty"`
	EventIDs    []string `json:"event_ids,omitempty"`
	Token       string   `json:"token,omitempty"`
	Instruction string   `json:"instruction"`
}

// SyncEventRequest represents the arguments for sync_event.
type SyncEventRequest struct {
	ID       string `json:"id"`
	Token    string `json:"token,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// SyncSessionRequest represents the arguments for sync_session.
type SyncSessionRequest struct {
	SessionID string   `json:"session_id,omitempty"`
	EventIDs  []string `json:"event_ids,omitempty"`
	Token     string   `json:"token,omitempty"`
	Provider  string   `json:"provider,omitempty"`
}

// MigrateRequest represents the arguments for migrate_guest_sessions.
type MigrateRequest struct {
	UserID     string   `json:"user_id"`
	SessionIDs []string `json:"session_ids"`
}

// ExportRequest represents the arguments for export_ics.
type ExportRequest struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token,omitempty"`
	Path      string `json:"path,omitempty"`
	TimeZone  string `json:"time_zone,omitempty"`
}

// ProgressRequest represents the arguments for progress.
type ProgressRequest struct {
	ID    string `json:"id"`
	Token string `json:"token,omitempty"`
}

// Handler implementations

// HandleCreateSession handles the create_session tool call.
func (h *Handlers) HandleCreateSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := decode[CreateSessionRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	kind := input.KindText
	if strings.TrimSpace(args.Kind) != "" {
		kind, err = input.ParseKind(args.Kind)
		if err != nil {
			return errorResult(err), nil
		}
	}

	var data []byte
	if args.Data != "" {
		data, err = base64.StdEncoding.DecodeString(args.Data)
		if err != nil {
			return errorResult(errors.NewValidation("data must be base64-encoded")), nil
		}
	}

	result, err := ops.CreateSession(ctx, h.deps, ops.CreateSessionInput{
		Input: input.Input{
			Kind:     kind,
			Text:     args.Text,
			FileName: args.FileName,
			MIME:     args.MIME,
			Data:     data,
			Hint:     args.Hint,
		},
		Owner: args.Owner,
		Guest: args.Guest,
		Wait:  args.Wait,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleGetSession handles the get_session tool call.
func (h *Handlers) HandleGetSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := decode[GetSessionRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	result, err := ops.GetSession(h.deps, ops.GetSessionInput{
		ID:            args.ID,
		Token:         args.Token,
		IncludeStages: args.IncludeStages,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleListSessions handles the list_sessions tool call.
func (h *Handlers) HandleListSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := decode[ListSessionsRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	result, err := ops.ListSessions(h.deps, ops.ListSessionsInput{
		Owner:  args.Owner,
		Limit:  args.Limit,
		Offset: args.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSessionEvents handles the session_events tool call.
func (h *Handlers) HandleSessionEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := decode[SessionEventsRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	result, err := ops.SessionEvents(h.deps, ops.SessionEventsInput{
		ID:    args.ID,
		Token: args.Token,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleUpdateEvent handles the update_event tool call.
func (h *Handlers) HandleUpdateEvent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := decode[UpdateEventRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	result, err := ops.UpdateEvent(h.deps, ops.UpdateEventInput{
		ID:    args.ID,
		Token: args.Token,
		Patch: args.Patch,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleDeleteEvent handles the delete_event tool call.
func (h *Handlers) HandleDeleteEvent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := decode[DeleteEventRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	result, err := ops.DeleteEvent(h.deps, ops.DeleteEventInput{
		ID:    args.ID,
		Token: args.Token,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleBatchEdit handles the batch_edit tool call.
func (h *Handlers) HandleBatchEdit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := decode[BatchEditRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	result, err := ops.BatchEdit(ctx, h.deps, ops.BatchEditInput{
		SessionID:   args.SessionID,
		EventIDs:    args.EventIDs,
		Token:       args.Token,
		Instruction: args.Instruction,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSyncEvent handles the sync_event tool call.
func (h *Handlers) HandleSyncEvent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := decode[SyncEventRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	result, err := ops.SyncEvent(ctx, h.deps, ops.SyncEventInput{
		ID:       args.ID,
		Token:    args.Token,
		Provider: args.Provider,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSyncSession handles the sync_session tool call.
func (h *Handlers) HandleSyncSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := decode[SyncSessionRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	result, err := ops.SyncSession(ctx, h.deps, ops.SyncSessionInput{
		SessionID: args.SessionID,
		EventIDs:  args.EventIDs,
		Token:     args.Token,
		Provider:  args.Provider,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleMigrate handles the migrate_guest_sessions tool call.
func (h *Handlers) HandleMigrate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := decode[MigrateRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	result, err := ops.MigrateGuestSessions(h.deps, ops.MigrateGuestSessionsInput{
		UserID:     args.UserID,
		SessionIDs: args.SessionIDs,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleExport handles the export_ics tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	result, err := ops.Export(h.deps, ops.ExportInput{
		SessionID: args.SessionID,
		Token:     args.Token,
		Path:      args.Path,
		TimeZone:  args.TimeZone,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleProgress handles the progress tool call.
func (h *Handlers) HandleProgress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := decode[ProgressRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	result, err := ops.Progress(h.deps, ops.ProgressInput{
		ID:    args.ID,
		Token: args.Token,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	penErr := errors.From(err)

	errorObj := map[string]any{
		"code":    penErr.Code,
		"message": penErr.Message,
		"status":  penErr.Status,
	}
	// Only include details for non-internal errors to avoid leaking
	// sensitive info like file paths or SQL errors
	if penErr.Code != errors.ErrInternal && penErr.Details != nil {
		errorObj["details"] = penErr.Details
	}
	payload := map[string]any{"error": errorObj}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
