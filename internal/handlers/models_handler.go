package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
)

// ModelsHandler serves the model catalog routes.
type ModelsHandler struct {
	catalog interfaces.ModelService
	logger  arbor.ILogger
}

// NewModelsHandler creates a new ModelsHandler.
func NewModelsHandler(catalog interfaces.ModelService, logger arbor.ILogger) *ModelsHandler {
	return &ModelsHandler{
		catalog: catalog,
		logger:  logger,
	}
}

// CreateHandler handles POST /api/models. The body is a JSON array of DTDL
// interface documents; the batch is all-or-nothing.
func (h *ModelsHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	body, ok := ReadBody(w, r)
	if !ok {
		return
	}

	var docs []json.RawMessage
	if err := json.Unmarshal(body, &docs); err != nil {
		WriteError(w, http.StatusBadRequest, string(models.KindArgument), "request body must be a JSON array of models")
		return
	}

	created, err := h.catalog.CreateModels(r.Context(), docs)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, created)
}

// ListHandler handles GET /api/models.
func (h *ModelsHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	opts := models.ListModelsOptions{
		IncludeModelDefinition: BoolQuery(r, "includeModelDefinition"),
		DependenciesFor:        r.URL.Query()["dependenciesFor"],
	}

	records, err := h.catalog.ListModels(r.Context(), opts)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"value": records})
}

// GetHandler handles GET /api/models/{id}.
func (h *ModelsHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	opts := models.GetModelOptions{
		IncludeModelDefinition:   BoolQuery(r, "includeModelDefinition"),
		IncludeBaseModelContents: BoolQuery(r, "includeBaseModelContents"),
	}

	record, err := h.catalog.GetModel(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, record)
}

// decommissionOp is the single patch operation the model update accepts.
type decommissionOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value bool   `json:"value"`
}

// UpdateHandler handles PATCH /api/models/{id}. The only supported patch is
// replacing /decommissioned.
func (h *ModelsHandler) UpdateHandler(w http.ResponseWriter, r *http.Request) {
	body, ok := ReadBody(w, r)
	if !ok {
		return
	}

	var ops []decommissionOp
	if err := json.Unmarshal(body, &ops); err != nil || len(ops) != 1 {
		WriteError(w, http.StatusBadRequest, string(models.KindArgument),
			"request body must be a JSON patch with a single operation")
		return
	}
	op := ops[0]
	if op.Op != "replace" || op.Path != "/decommissioned" {
		WriteError(w, http.StatusBadRequest, string(models.KindArgument),
			"only replacing /decommissioned is supported")
		return
	}

	if err := h.catalog.UpdateModel(r.Context(), r.PathValue("id"), op.Value); err != nil {
		WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReplaceHandler handles PUT /api/models/{id}.
func (h *ModelsHandler) ReplaceHandler(w http.ResponseWriter, r *http.Request) {
	body, ok := ReadBody(w, r)
	if !ok {
		return
	}

	record, err := h.catalog.ReplaceModel(r.Context(), r.PathValue("id"), body)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, record)
}

// DeleteHandler handles DELETE /api/models/{id}.
func (h *ModelsHandler) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteModel(r.Context(), r.PathValue("id")); err != nil {
		WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAllHandler handles DELETE /api/models.
func (h *ModelsHandler) DeleteAllHandler(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.catalog.DeleteAllModels(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}
