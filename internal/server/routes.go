package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Model catalog
	mux.HandleFunc("POST /api/models", s.app.ModelsHandler.CreateHandler)
	mux.HandleFunc("GET /api/models", s.app.ModelsHandler.ListHandler)
	mux.HandleFunc("DELETE /api/models", s.app.ModelsHandler.DeleteAllHandler)
	mux.HandleFunc("GET /api/models/{id}", s.app.ModelsHandler.GetHandler)
	mux.HandleFunc("PATCH /api/models/{id}", s.app.ModelsHandler.UpdateHandler)
	mux.HandleFunc("PUT /api/models/{id}", s.app.ModelsHandler.ReplaceHandler)
	mux.HandleFunc("DELETE /api/models/{id}", s.app.ModelsHandler.DeleteHandler)

	// Twins
	mux.HandleFunc("POST /api/digitaltwins", s.app.TwinsHandler.BatchHandler)
	mux.HandleFunc("PUT /api/digitaltwins/{id}", s.app.TwinsHandler.CreateOrReplaceHandler)
	mux.HandleFunc("GET /api/digitaltwins/{id}", s.app.TwinsHandler.GetHandler)
	mux.HandleFunc("PATCH /api/digitaltwins/{id}", s.app.TwinsHandler.UpdateHandler)
	mux.HandleFunc("DELETE /api/digitaltwins/{id}", s.app.TwinsHandler.DeleteHandler)

	// Relationships
	mux.HandleFunc("POST /api/relationships", s.app.TwinsHandler.RelationshipBatchHandler)
	mux.HandleFunc("GET /api/digitaltwins/{id}/relationships", s.app.TwinsHandler.ListRelationshipsHandler)
	mux.HandleFunc("GET /api/digitaltwins/{id}/incomingrelationships", s.app.TwinsHandler.ListIncomingRelationshipsHandler)
	mux.HandleFunc("PUT /api/digitaltwins/{id}/relationships/{relationshipId}", s.app.TwinsHandler.CreateOrReplaceRelationshipHandler)
	mux.HandleFunc("GET /api/digitaltwins/{id}/relationships/{relationshipId}", s.app.TwinsHandler.GetRelationshipHandler)
	mux.HandleFunc("PATCH /api/digitaltwins/{id}/relationships/{relationshipId}", s.app.TwinsHandler.UpdateRelationshipHandler)
	mux.HandleFunc("DELETE /api/digitaltwins/{id}/relationships/{relationshipId}", s.app.TwinsHandler.DeleteRelationshipHandler)

	// Components
	mux.HandleFunc("GET /api/digitaltwins/{id}/components/{component}", s.app.TwinsHandler.GetComponentHandler)
	mux.HandleFunc("PATCH /api/digitaltwins/{id}/components/{component}", s.app.TwinsHandler.UpdateComponentHandler)

	// Query
	mux.HandleFunc("POST /api/query", s.app.QueryHandler.QueryHandler)

	// Jobs
	mux.HandleFunc("PUT /api/jobs/imports/{id}", s.app.JobsHandler.ImportHandler)
	mux.HandleFunc("PUT /api/jobs/deletions/{id}", s.app.JobsHandler.DeleteAllHandler)
	mux.HandleFunc("GET /api/jobs", s.app.JobsHandler.ListHandler)
	mux.HandleFunc("GET /api/jobs/{id}", s.app.JobsHandler.GetHandler)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", s.app.JobsHandler.CancelHandler)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.app.JobsHandler.DeleteHandler)

	// System
	mux.HandleFunc("GET /api/version", s.app.StatusHandler.VersionHandler)
	mux.HandleFunc("GET /api/health", s.app.StatusHandler.HealthHandler)
	mux.HandleFunc("GET /api/status", s.app.StatusHandler.StatusHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.StatusHandler.NotFoundHandler)

	return mux
}
