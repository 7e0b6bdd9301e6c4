/*
Package adminhttp is the daemon's plain-HTTP admin/debug surface: health,
instance status, and a read-only window onto the audit log. It is kept
separate from the reverse proxy's public listener and from the
control-IPC socket — neither is appropriate for a human or a monitoring
system to poll with a browser or curl. The self-updater does not call
it.
*/
package adminhttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/odacrun/odac/internal/audit"
	"github.com/odacrun/odac/internal/config"
)

// Dependencies groups the collaborators the admin surface reads from.
// Every handler is read-only: nothing here mutates the Config Store.
type Dependencies struct {
	Store  *config.Store
	Audit  *audit.Log
	Logger *slog.Logger
}

// NewRouter builds the chi multiplexer for the admin surface.
func NewRouter(deps Dependencies) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(deps.Logger))

	h := &handler{deps: deps}

	router.Get("/healthz", h.health)
	router.Route("/api", func(api chi.Router) {
		api.Get("/status", h.status)
		api.Get("/events", h.recentEvents)
	})

	return router
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("admin http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		})
	}
}

type handler struct {
	deps Dependencies
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	var server config.ServerModule
	h.deps.Store.ViewServer(func(s config.ServerModule) { server = s })

	writeJSON(w, http.StatusOK, map[string]any{
		"instance_id": server.InstanceID,
		"started_at":  server.StartedAtEpochMs,
	})
}

func (h *handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	events, err := h.deps.Audit.Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read audit log", h.deps.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	body, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, `{"error":"internal encoding error"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	w.Write(body) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string, logger *slog.Logger, err error) {
	logger.Error("admin http request error", "status", status, "message", message, "error", err)
	writeJSON(w, status, map[string]string{"error": message})
}
