package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
)

// JobsHandler serves the import and bulk-delete job routes.
type JobsHandler struct {
	jobs   interfaces.JobService
	logger arbor.ILogger
}

// NewJobsHandler creates a new JobsHandler.
func NewJobsHandler(jobs interfaces.JobService, logger arbor.ILogger) *JobsHandler {
	return &JobsHandler{
		jobs:   jobs,
		logger: logger,
	}
}

// ImportHandler handles PUT /api/jobs/imports/{id}. The request body is the
// ND-JSON import stream; the call returns when the import finishes. Options
// come from query parameters: continueOnFailure, operationTimeoutSeconds and
// batchSize.
func (h *JobsHandler) ImportHandler(w http.ResponseWriter, r *http.Request) {
	opts := models.DefaultImportOptions()
	opts.ContinueOnFailure = BoolQuery(r, "continueOnFailure")
	if secs := IntQuery(r, "operationTimeoutSeconds", 0); secs > 0 {
		opts.OperationTimeout = time.Duration(secs) * time.Second
	}
	if n := IntQuery(r, "batchSize", 0); n > 0 {
		opts.BatchSize = n
	}

	output := &jobLogWriter{logger: h.logger, jobID: r.PathValue("id")}
	job, err := h.jobs.ImportGraph(r.Context(), r.PathValue("id"), r.Body, output, opts)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, job)
}

// DeleteAllHandler handles PUT /api/jobs/deletions/{id}: the three-phase
// bulk delete of the whole graph.
func (h *JobsHandler) DeleteAllHandler(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.DeleteAll(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, job)
}

// GetHandler handles GET /api/jobs/{id}.
func (h *JobsHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// ListHandler handles GET /api/jobs, optionally filtered by ?type=.
func (h *JobsHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.ListJobs(r.Context(), models.JobType(r.URL.Query().Get("type")))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"value": jobs})
}

// CancelHandler handles POST /api/jobs/{id}/cancel.
func (h *JobsHandler) CancelHandler(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.CancelJob(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// DeleteHandler handles DELETE /api/jobs/{id}.
func (h *JobsHandler) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.DeleteJob(r.Context(), r.PathValue("id")); err != nil {
		WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// jobLogWriter forwards the import output log to the application logger.
type jobLogWriter struct {
	logger arbor.ILogger
	jobID  string
}

func (lw *jobLogWriter) Write(p []byte) (int, error) {
	lw.logger.Info().Str("job_id", lw.jobID).Msg(string(trimNewline(p)))
	return len(p), nil
}

func trimNewline(p []byte) []byte {
	for len(p) > 0 && (p[len(p)-1] == '\n' || p[len(p)-1] == '\r') {
		p = p[:len(p)-1]
	}
	return p
}
