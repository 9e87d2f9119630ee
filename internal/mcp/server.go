package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/penciled/penciled/internal/ops"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"create_session": {
		def:     createSessionToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCreateSession },
	},
	"get_session": {
		def:     getSessionToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGetSession },
	},
	"list_sessions": {
		def:     listSessionsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleListSessions },
	},
	"session_events": {
		def:     sessionEventsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionEvents },
	},
	"update_event": {
		def:     updateEventToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleUpdateEvent },
	},
	"delete_event": {
		def:     deleteEventToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDeleteEvent },
	},
	"batch_edit": {
		def:     batchEditToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleBatchEdit },
	},
	"sync_event": {
		def:     syncEventToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSyncEvent },
	},
	"sync_session": {
		def:     syncSessionToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSyncSession },
	},
	"migrate_guest_sessions": {
		def:     migrateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMigrate },
	},
	"export_ics": {
		def:     exportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExport },
	},
	"progress": {
		def:     progressToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleProgress },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with penciled tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(deps ops.Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"penciled",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(deps)

	disabled := make(map[string]bool)
	for _, name := range deps.Config.DisabledTools {
		disabled[name] = true
	}

	// Register tools (skip disabled)
	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(deps ops.Deps, version string) error {
	return server.ServeStdio(NewServer(deps, version))
}
