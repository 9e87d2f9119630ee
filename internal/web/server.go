package web

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/penciled/penciled/internal/ops"
)

// NewServer creates and configures the HTTP server for the penciled API.
// An empty addr falls back to the configured listen address.
func NewServer(deps ops.Deps, version, addr string) *http.Server {
	if addr == "" {
		addr = deps.Config.WebAddr
	}

	h := NewHandlers(deps, version)

	mux := http.NewServeMux()

	// Routes using Go 1.22+ pattern syntax
	mux.HandleFunc("GET /api/health", h.HandleHealth)

	mux.HandleFunc("POST /api/sessions", h.HandleCreateSession)
	mux.HandleFunc("GET /api/sessions", h.HandleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", h.HandleGetSession)
	mux.HandleFunc("GET /api/sessions/{id}/events", h.HandleSessionEvents)
	mux.HandleFunc("GET /api/sessions/{id}/progress", h.HandleProgress)
	mux.HandleFunc("GET /api/sessions/{id}/stream", h.HandleStream)
	mux.HandleFunc("GET /api/sessions/{id}/export.ics", h.HandleExportICS)
	mux.HandleFunc("POST /api/sessions/{id}/sync", h.HandleSyncSession)

	mux.HandleFunc("PATCH /api/events/{id}", h.HandleUpdateEvent)
	mux.HandleFunc("DELETE /api/events/{id}", h.HandleDeleteEvent)
	mux.HandleFunc("POST /api/events/batch-edit", h.HandleBatchEdit)
	mux.HandleFunc("POST /api/events/{id}/sync", h.HandleSyncEvent)

	mux.HandleFunc("POST /api/migrate", h.HandleMigrate)

	// otelhttp wraps the writer through httpsnoop, so websocket
	// upgrades still reach the underlying hijacker.
	handler := otelhttp.NewHandler(securityHeaders(countRequests(mux)), "penciled.web")

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// countRequests records served requests by matched route pattern. It
// never wraps the response writer.
func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		requestsServed.Add(r.Context(), 1,
			metric.WithAttributes(attribute.String("pattern", r.Pattern)))
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *http.Server) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("penciled API listening", "addr", srv.Addr)

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		logger.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
