package models

import (
	"encoding/json"
	"time"
)

// ModelRecord is a persisted DTDL interface together with the derived
// inheritance indexes. Bases and Descendants are the transitive closure
// over `extends`, kept as materialized arrays so subtype queries never walk
// the `_extends` edges at read time.
type ModelRecord struct {
	ID             string            `json:"id"`
	Model          json.RawMessage   `json:"model,omitempty"` // raw DTDL document
	Bases          []string          `json:"bases,omitempty"`
	Descendants    []string          `json:"descendants,omitempty"`
	Decommissioned bool              `json:"decommissioned"`
	UploadTime     time.Time         `json:"uploadTime"`
	DisplayName    map[string]string `json:"displayName,omitempty"`
	Description    map[string]string `json:"description,omitempty"`
}

// GetModelOptions controls the shape of a single-model read.
type GetModelOptions struct {
	IncludeModelDefinition   bool
	IncludeBaseModelContents bool
}

// ListModelsOptions controls a model listing.
type ListModelsOptions struct {
	IncludeModelDefinition bool
	DependenciesFor        []string
}
