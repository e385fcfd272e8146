package models

import (
	"encoding/json"
	"time"
)

// Reserved keys inside twin and relationship documents.
const (
	KeyDtID             = "$dtId"
	KeyETag             = "$etag"
	KeyMetadata         = "$metadata"
	KeyModel            = "$model"
	KeyLastUpdate       = "$lastUpdateTime"
	KeyRelationshipID   = "$relationshipId"
	KeyRelationshipName = "$relationshipName"
	KeySourceID         = "$sourceId"
	KeyTargetID         = "$targetId"
)

// DigitalTwin is the raw twin document as stored in the graph. The map keys
// mirror the wire format: `$dtId`, `$etag`, `$metadata` plus user
// properties. Values stay as decoded JSON (map[string]interface{},
// []interface{}, float64, string, bool, nil).
type DigitalTwin map[string]interface{}

// ID returns the twin's `$dtId`, or "" when absent.
func (t DigitalTwin) ID() string {
	s, _ := t[KeyDtID].(string)
	return s
}

// ETag returns the twin's `$etag`, or "" when absent.
func (t DigitalTwin) ETag() string {
	s, _ := t[KeyETag].(string)
	return s
}

// ModelID returns `$metadata.$model`, or "" when absent.
func (t DigitalTwin) ModelID() string {
	meta, _ := t[KeyMetadata].(map[string]interface{})
	if meta == nil {
		return ""
	}
	s, _ := meta[KeyModel].(string)
	return s
}

// Metadata returns the `$metadata` object, creating it when absent.
func (t DigitalTwin) Metadata() map[string]interface{} {
	meta, ok := t[KeyMetadata].(map[string]interface{})
	if !ok {
		meta = map[string]interface{}{}
		t[KeyMetadata] = meta
	}
	return meta
}

// PropertyMetadata is the per-property write metadata kept under
// `$metadata.<property>`.
type PropertyMetadata struct {
	LastUpdatedOn string `json:"lastUpdatedOn,omitempty"`
	SourceTime    string `json:"sourceTime,omitempty"`
}

// Relationship is the raw relationship document: `$relationshipId`,
// `$sourceId`, `$targetId`, `$relationshipName`, `$etag` plus custom
// properties.
type Relationship map[string]interface{}

// ID returns `$relationshipId`.
func (r Relationship) ID() string {
	s, _ := r[KeyRelationshipID].(string)
	return s
}

// SourceID returns `$sourceId`.
func (r Relationship) SourceID() string {
	s, _ := r[KeySourceID].(string)
	return s
}

// TargetID returns `$targetId`.
func (r Relationship) TargetID() string {
	s, _ := r[KeyTargetID].(string)
	return s
}

// Name returns `$relationshipName`.
func (r Relationship) Name() string {
	s, _ := r[KeyRelationshipName].(string)
	return s
}

// ETag returns `$etag`.
func (r Relationship) ETag() string {
	s, _ := r[KeyETag].(string)
	return s
}

// BatchItemError records a single failed element of a batch upsert.
type BatchItemError struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// BatchResult is the outcome of a batch twin or relationship upsert. The
// batch never has all-or-nothing semantics: every element is reported in
// exactly one of the two lists.
type BatchResult struct {
	Successes []string         `json:"successes"`
	Failures  []BatchItemError `json:"failures"`
}

// Page is one page of query results together with the token that resumes
// the query after the last row.
type Page struct {
	Values            []json.RawMessage `json:"value"`
	ContinuationToken string            `json:"continuationToken,omitempty"`
}

// Timestamp formats t the way twin metadata stores times.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
