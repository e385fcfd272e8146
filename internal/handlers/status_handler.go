package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/common"
	"github.com/ternarybob/tessera/internal/interfaces"
)

// StatusHandler serves version, health and status routes.
type StatusHandler struct {
	store  interfaces.GraphStore
	graph  string
	logger arbor.ILogger
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(store interfaces.GraphStore, graph string, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		store:  store,
		graph:  graph,
		logger: logger,
	}
}

// VersionHandler handles GET /api/version.
func (h *StatusHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
	})
}

// HealthHandler handles GET /api/health.
func (h *StatusHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// StatusHandler handles GET /api/status: version plus backing-store health.
func (h *StatusHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	database := "ok"
	status := "ok"
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn().Err(err).Msg("Database ping failed")
		database = "unreachable"
		status = "degraded"
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"status":   status,
		"version":  common.GetVersion(),
		"graph":    h.graph,
		"database": database,
	})
}

// NotFoundHandler handles unmatched API routes with a JSON response.
func (h *StatusHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
