package interfaces

import (
	"context"
	"encoding/json"
	"io"

	"github.com/ternarybob/tessera/internal/dtdl"
	"github.com/ternarybob/tessera/internal/models"
)

// ModelService is the model catalog: DTDL parsing, cross-batch resolution,
// persisted bases/descendants, and the guarded update/replace/delete
// operations.
type ModelService interface {
	// CreateModels creates a batch atomically: either every model in docs
	// is persisted or none.
	CreateModels(ctx context.Context, docs []json.RawMessage) ([]*models.ModelRecord, error)
	GetModel(ctx context.Context, id string, opts models.GetModelOptions) (*models.ModelRecord, error)
	ListModels(ctx context.Context, opts models.ListModelsOptions) ([]*models.ModelRecord, error)
	// UpdateModel toggles the decommissioned flag.
	UpdateModel(ctx context.Context, id string, decommissioned bool) error
	// ReplaceModel replaces the DTDL document in place, subject to the
	// immutable-extends and descendant-name-collision guards.
	ReplaceModel(ctx context.Context, id string, doc json.RawMessage) (*models.ModelRecord, error)
	DeleteModel(ctx context.Context, id string) error
	DeleteAllModels(ctx context.Context) (int, error)

	// ResolveInterface returns the parsed interface for a model id plus
	// its base interfaces in persisted bases order, for flattened-content
	// validation. Served through the TTL model cache.
	ResolveInterface(ctx context.Context, id string) (*dtdl.Interface, []*dtdl.Interface, error)

	// FlattenedContents returns the model's contents merged over all its
	// bases, derived definitions shadowing base ones.
	FlattenedContents(ctx context.Context, id string) ([]dtdl.Content, error)
}

// TwinService is the data plane over twins, relationships and components.
type TwinService interface {
	CreateOrReplaceTwin(ctx context.Context, id string, body []byte, ifNoneMatch string) (models.DigitalTwin, error)
	GetTwin(ctx context.Context, id string) (models.DigitalTwin, error)
	UpdateTwin(ctx context.Context, id string, patch []byte, ifMatch string) error
	DeleteTwin(ctx context.Context, id string, ifMatch string) error
	CreateOrReplaceTwins(ctx context.Context, batch []json.RawMessage) (*models.BatchResult, error)

	CreateOrReplaceRelationship(ctx context.Context, sourceID, relID string, body []byte, ifNoneMatch string) (models.Relationship, error)
	GetRelationship(ctx context.Context, sourceID, relID string) (models.Relationship, error)
	UpdateRelationship(ctx context.Context, sourceID, relID string, patch []byte, ifMatch string) error
	DeleteRelationship(ctx context.Context, sourceID, relID string, ifMatch string) error
	CreateOrReplaceRelationships(ctx context.Context, batch []json.RawMessage) (*models.BatchResult, error)
	ListRelationships(ctx context.Context, twinID, name string) ([]models.Relationship, error)
	ListIncomingRelationships(ctx context.Context, twinID string) ([]models.Relationship, error)

	GetComponent(ctx context.Context, twinID, component string) (map[string]interface{}, error)
	UpdateComponent(ctx context.Context, twinID, component string, patch []byte, ifMatch string) error
}

// ValueCursor streams query result rows as raw JSON values.
type ValueCursor interface {
	Next() bool
	Value() json.RawMessage
	Err() error
	Close()
}

// QueryService executes TDQL or PGQL queries against the graph. The
// dialect is detected from the leading keyword: SELECT means TDQL and is
// translated, MATCH is passed through.
type QueryService interface {
	// Stream lazily iterates every row of the query.
	Stream(ctx context.Context, query string) (ValueCursor, error)

	// Page returns one page. A non-empty continuationToken resumes a
	// previous query; pageSizeHint of 0 uses the configured default. The
	// returned page carries the token for the next call, or "" at the end.
	Page(ctx context.Context, query, continuationToken string, pageSizeHint int) (*models.Page, error)
}

// StreamFactory opens the input and output streams for a background import
// run. It is invoked on the background goroutine so handles are not held
// across the scheduling boundary.
type StreamFactory func() (input io.ReadCloser, output io.WriteCloser, err error)

// JobService owns durable job records, the per-job distributed lock, and
// the import/delete executors.
type JobService interface {
	// ImportGraph runs an import synchronously: acquires the job lock,
	// streams the ND-JSON input, and returns the finished record.
	ImportGraph(ctx context.Context, jobID string, input io.Reader, output io.Writer, opts models.ImportOptions) (*models.JobRecord, error)

	// ImportGraphInBackground acquires the lock, marks the job running and
	// returns immediately; the workload runs on a background goroutine
	// with a heartbeat renewing the lock.
	ImportGraphInBackground(ctx context.Context, jobID string, streams StreamFactory, opts models.ImportOptions) (*models.JobRecord, error)

	// DeleteAll runs the three-phase bulk delete (relationships, twins,
	// models), resuming from a persisted checkpoint when one exists.
	DeleteAll(ctx context.Context, jobID string) (*models.JobRecord, error)

	GetJob(ctx context.Context, jobID string) (*models.JobRecord, error)
	ListJobs(ctx context.Context, jobType models.JobType) ([]*models.JobRecord, error)
	CancelJob(ctx context.Context, jobID string) (*models.JobRecord, error)
	DeleteJob(ctx context.Context, jobID string) error
}
