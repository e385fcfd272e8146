package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
)

// TwinsHandler serves the twin, relationship and component routes.
type TwinsHandler struct {
	twins  interfaces.TwinService
	logger arbor.ILogger
}

// NewTwinsHandler creates a new TwinsHandler.
func NewTwinsHandler(twins interfaces.TwinService, logger arbor.ILogger) *TwinsHandler {
	return &TwinsHandler{
		twins:  twins,
		logger: logger,
	}
}

// CreateOrReplaceHandler handles PUT /api/digitaltwins/{id}. If-None-Match
// "*" makes the call create-only.
func (h *TwinsHandler) CreateOrReplaceHandler(w http.ResponseWriter, r *http.Request) {
	body, ok := ReadBody(w, r)
	if !ok {
		return
	}

	twin, err := h.twins.CreateOrReplaceTwin(r.Context(), r.PathValue("id"), body, r.Header.Get("If-None-Match"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	w.Header().Set("ETag", twin.ETag())
	WriteJSON(w, http.StatusOK, twin)
}

// GetHandler handles GET /api/digitaltwins/{id}.
func (h *TwinsHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	twin, err := h.twins.GetTwin(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	w.Header().Set("ETag", twin.ETag())
	WriteJSON(w, http.StatusOK, twin)
}

// UpdateHandler handles PATCH /api/digitaltwins/{id} with a JSON Patch body.
func (h *TwinsHandler) UpdateHandler(w http.ResponseWriter, r *http.Request) {
	body, ok := ReadBody(w, r)
	if !ok {
		return
	}

	if err := h.twins.UpdateTwin(r.Context(), r.PathValue("id"), body, r.Header.Get("If-Match")); err != nil {
		WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteHandler handles DELETE /api/digitaltwins/{id}.
func (h *TwinsHandler) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.twins.DeleteTwin(r.Context(), r.PathValue("id"), r.Header.Get("If-Match")); err != nil {
		WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BatchHandler handles POST /api/digitaltwins. The body is a JSON array of
// twin documents; each element succeeds or fails independently.
func (h *TwinsHandler) BatchHandler(w http.ResponseWriter, r *http.Request) {
	body, ok := ReadBody(w, r)
	if !ok {
		return
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(body, &batch); err != nil {
		WriteError(w, http.StatusBadRequest, string(models.KindArgument), "request body must be a JSON array of twins")
		return
	}

	result, err := h.twins.CreateOrReplaceTwins(r.Context(), batch)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// CreateOrReplaceRelationshipHandler handles
// PUT /api/digitaltwins/{id}/relationships/{relationshipId}.
func (h *TwinsHandler) CreateOrReplaceRelationshipHandler(w http.ResponseWriter, r *http.Request) {
	body, ok := ReadBody(w, r)
	if !ok {
		return
	}

	rel, err := h.twins.CreateOrReplaceRelationship(r.Context(),
		r.PathValue("id"), r.PathValue("relationshipId"), body, r.Header.Get("If-None-Match"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	w.Header().Set("ETag", rel.ETag())
	WriteJSON(w, http.StatusOK, rel)
}

// GetRelationshipHandler handles
// GET /api/digitaltwins/{id}/relationships/{relationshipId}.
func (h *TwinsHandler) GetRelationshipHandler(w http.ResponseWriter, r *http.Request) {
	rel, err := h.twins.GetRelationship(r.Context(), r.PathValue("id"), r.PathValue("relationshipId"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	w.Header().Set("ETag", rel.ETag())
	WriteJSON(w, http.StatusOK, rel)
}

// UpdateRelationshipHandler handles
// PATCH /api/digitaltwins/{id}/relationships/{relationshipId}.
func (h *TwinsHandler) UpdateRelationshipHandler(w http.ResponseWriter, r *http.Request) {
	body, ok := ReadBody(w, r)
	if !ok {
		return
	}

	err := h.twins.UpdateRelationship(r.Context(),
		r.PathValue("id"), r.PathValue("relationshipId"), body, r.Header.Get("If-Match"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteRelationshipHandler handles
// DELETE /api/digitaltwins/{id}/relationships/{relationshipId}.
func (h *TwinsHandler) DeleteRelationshipHandler(w http.ResponseWriter, r *http.Request) {
	err := h.twins.DeleteRelationship(r.Context(),
		r.PathValue("id"), r.PathValue("relationshipId"), r.Header.Get("If-Match"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RelationshipBatchHandler handles POST /api/relationships.
func (h *TwinsHandler) RelationshipBatchHandler(w http.ResponseWriter, r *http.Request) {
	body, ok := ReadBody(w, r)
	if !ok {
		return
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(body, &batch); err != nil {
		WriteError(w, http.StatusBadRequest, string(models.KindArgument), "request body must be a JSON array of relationships")
		return
	}

	result, err := h.twins.CreateOrReplaceRelationships(r.Context(), batch)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// ListRelationshipsHandler handles GET /api/digitaltwins/{id}/relationships,
// optionally filtered by ?relationshipName=.
func (h *TwinsHandler) ListRelationshipsHandler(w http.ResponseWriter, r *http.Request) {
	rels, err := h.twins.ListRelationships(r.Context(), r.PathValue("id"), r.URL.Query().Get("relationshipName"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"value": rels})
}

// ListIncomingRelationshipsHandler handles
// GET /api/digitaltwins/{id}/incomingrelationships.
func (h *TwinsHandler) ListIncomingRelationshipsHandler(w http.ResponseWriter, r *http.Request) {
	rels, err := h.twins.ListIncomingRelationships(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"value": rels})
}

// GetComponentHandler handles GET /api/digitaltwins/{id}/components/{component}.
func (h *TwinsHandler) GetComponentHandler(w http.ResponseWriter, r *http.Request) {
	component, err := h.twins.GetComponent(r.Context(), r.PathValue("id"), r.PathValue("component"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, component)
}

// UpdateComponentHandler handles
// PATCH /api/digitaltwins/{id}/components/{component} with a JSON Patch body.
func (h *TwinsHandler) UpdateComponentHandler(w http.ResponseWriter, r *http.Request) {
	body, ok := ReadBody(w, r)
	if !ok {
		return
	}

	err := h.twins.UpdateComponent(r.Context(),
		r.PathValue("id"), r.PathValue("component"), body, r.Header.Get("If-Match"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
