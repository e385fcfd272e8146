package interfaces

import (
	"context"

	"github.com/ternarybob/tessera/internal/models"
)

// GraphQuerier executes parameterized Cypher against one graph. Both the
// pooled store and an open transaction satisfy it, so services can run the
// same statements inside or outside a transaction.
type GraphQuerier interface {
	// ExecuteCypher runs a Cypher statement and returns all rows. columns
	// names the RETURN projection left to right; decoded values are keyed
	// by those names.
	ExecuteCypher(ctx context.Context, graph, cypher string, params map[string]interface{}, columns []string) ([]map[string]interface{}, error)

	// ExecuteScalar runs a Cypher statement expected to produce a single
	// row with a single column. Returns nil when no row matched.
	ExecuteScalar(ctx context.Context, graph, cypher string, params map[string]interface{}) (interface{}, error)
}

// RowCursor iterates a streamed result set. Next advances and reports
// whether a row is available; Close releases the underlying cursor.
type RowCursor interface {
	Next() bool
	Row() map[string]interface{}
	Err() error
	Close()
}

// GraphStore is the adapter over the PostgreSQL + AGE backing store. It is
// stateless apart from its connection pool.
type GraphStore interface {
	GraphQuerier

	// ExecuteCypherStream runs a Cypher statement and returns a lazy
	// cursor over the rows.
	ExecuteCypherStream(ctx context.Context, graph, cypher string, params map[string]interface{}, columns []string) (RowCursor, error)

	// WithTransaction runs fn inside a single store transaction,
	// committing on nil and rolling back on error.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx GraphQuerier) error) error

	// CreateGraph provisions the named graph, its helper functions and the
	// companion jobs schema. DropGraph tears all of it down.
	CreateGraph(ctx context.Context, graph string) error
	DropGraph(ctx context.Context, graph string) error
	GraphExists(ctx context.Context, graph string) (bool, error)

	Ping(ctx context.Context) error
	Close()
}

// JobStorage persists job records, locks and checkpoints in the
// <graph>_jobs schema.
type JobStorage interface {
	CreateJob(ctx context.Context, job *models.JobRecord) error
	GetJob(ctx context.Context, jobID string) (*models.JobRecord, error)
	SaveJob(ctx context.Context, job *models.JobRecord) error
	ListJobs(ctx context.Context, jobType models.JobType) ([]*models.JobRecord, error)
	DeleteJob(ctx context.Context, jobID string) error
	PurgeFinishedJobs(ctx context.Context) (int, error)

	// Lock operations. TryAcquireLock returns false when an unexpired lock
	// is already held; expiry is evaluated by the store's clock.
	TryAcquireLock(ctx context.Context, jobID, owner string, ttlSeconds int) (bool, error)
	RenewLock(ctx context.Context, jobID, owner string) (bool, error)
	ReleaseLock(ctx context.Context, jobID, owner string) error
	CleanupExpiredLocks(ctx context.Context) (int, error)
	GetLockInfo(ctx context.Context, jobID string) (*models.JobLockInfo, error)

	SaveCheckpoint(ctx context.Context, checkpoint *models.DeleteCheckpoint) error
	LoadDeleteCheckpoint(ctx context.Context, jobID string) (*models.DeleteCheckpoint, error)
	DeleteCheckpoint(ctx context.Context, jobID string) error
}
