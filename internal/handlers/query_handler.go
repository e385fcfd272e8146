package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
)

// QueryHandler serves the query route.
type QueryHandler struct {
	query  interfaces.QueryService
	logger arbor.ILogger
}

// NewQueryHandler creates a new QueryHandler.
func NewQueryHandler(query interfaces.QueryService, logger arbor.ILogger) *QueryHandler {
	return &QueryHandler{
		query:  query,
		logger: logger,
	}
}

// queryRequest is the body of POST /api/query. Query is required on the
// first call; subsequent pages pass it back together with the token.
type queryRequest struct {
	Query             string `json:"query"`
	ContinuationToken string `json:"continuationToken,omitempty"`
	PageSize          int    `json:"pageSize,omitempty"`
}

// QueryHandler handles POST /api/query and returns one page of results.
func (h *QueryHandler) QueryHandler(w http.ResponseWriter, r *http.Request) {
	body, ok := ReadBody(w, r)
	if !ok {
		return
	}

	var req queryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		WriteError(w, http.StatusBadRequest, string(models.KindArgument), "request body must be a JSON query object")
		return
	}

	page, err := h.query.Page(r.Context(), req.Query, req.ContinuationToken, req.PageSize)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}
