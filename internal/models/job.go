package models

import (
	"time"
)

// JobType identifies the workload a job record tracks.
type JobType string

const (
	JobTypeImport JobType = "import"
	JobTypeDelete JobType = "delete"
)

// JobStatus is the lifecycle state of a job. Terminal states are final:
// once a job reaches Succeeded, PartiallySucceeded, Failed or Cancelled it
// never transitions again.
type JobStatus string

const (
	JobStatusNotStarted         JobStatus = "notstarted"
	JobStatusRunning            JobStatus = "running"
	JobStatusSucceeded          JobStatus = "succeeded"
	JobStatusPartiallySucceeded JobStatus = "partiallysucceeded"
	JobStatusFailed             JobStatus = "failed"
	JobStatusCancelled          JobStatus = "cancelled"
)

// IsTerminal reports whether the status is final.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusPartiallySucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the transition s -> next is legal:
// NotStarted -> Running -> one terminal state.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case JobStatusNotStarted:
		return next == JobStatusRunning || next.IsTerminal()
	case JobStatusRunning:
		return next.IsTerminal()
	}
	return false
}

// JobRecord is the durable record of an import or bulk-delete job. Counters
// are monotonically non-decreasing while the job runs.
type JobRecord struct {
	ID                   string     `json:"id"`
	JobType              JobType    `json:"jobType"`
	Status               JobStatus  `json:"status"`
	CreatedDateTime      time.Time  `json:"createdDateTime"`
	LastActionDateTime   time.Time  `json:"lastActionDateTime"`
	FinishedDateTime     *time.Time `json:"finishedDateTime,omitempty"`
	PurgeDateTime        *time.Time `json:"purgeDateTime,omitempty"`
	ModelsCreated        int        `json:"modelsCreated"`
	ModelsDeleted        int        `json:"modelsDeleted"`
	TwinsCreated         int        `json:"twinsCreated"`
	TwinsDeleted         int        `json:"twinsDeleted"`
	RelationshipsCreated int        `json:"relationshipsCreated"`
	RelationshipsDeleted int        `json:"relationshipsDeleted"`
	ErrorCount           int        `json:"errorCount"`
	Error                string     `json:"error,omitempty"`
	Configuration        string     `json:"-"` // opaque blob, never serialized outward
}

// JobLockInfo describes the lock row for a job. IsExpired is computed by
// the store against its own clock; callers must not compute expiry locally.
type JobLockInfo struct {
	JobID           string        `json:"jobId"`
	OwnerInstanceID string        `json:"ownerInstanceId"`
	AcquiredAt      time.Time     `json:"acquiredAt"`
	HeartbeatAt     time.Time     `json:"heartbeatAt"`
	TTL             time.Duration `json:"ttl"`
	IsExpired       bool          `json:"isExpired"`
}

// DeleteSection is the phase a bulk delete is in. The order is fixed:
// relationships, then twins, then models.
type DeleteSection string

const (
	DeleteSectionRelationships DeleteSection = "Relationships"
	DeleteSectionTwins         DeleteSection = "Twins"
	DeleteSectionModels        DeleteSection = "Models"
	DeleteSectionCompleted     DeleteSection = "Completed"
)

// DeleteCheckpoint is the durable progress snapshot of a bulk delete,
// saved after every batch so the job can resume mid-phase.
type DeleteCheckpoint struct {
	JobID                  string        `json:"jobId"`
	CurrentSection         DeleteSection `json:"currentSection"`
	RelationshipsCompleted bool          `json:"relationshipsCompleted"`
	TwinsCompleted         bool          `json:"twinsCompleted"`
	ModelsCompleted        bool          `json:"modelsCompleted"`
	RelationshipsDeleted   int           `json:"relationshipsDeleted"`
	TwinsDeleted           int           `json:"twinsDeleted"`
	ModelsDeleted          int           `json:"modelsDeleted"`
	LastUpdated            time.Time     `json:"lastUpdated"`
}

// NewDeleteCheckpoint starts a checkpoint at the relationships phase.
func NewDeleteCheckpoint(jobID string) *DeleteCheckpoint {
	return &DeleteCheckpoint{
		JobID:          jobID,
		CurrentSection: DeleteSectionRelationships,
		LastUpdated:    time.Now().UTC(),
	}
}

// ImportOptions tunes the ND-JSON importer.
type ImportOptions struct {
	ContinueOnFailure bool          // log per-record failures and keep going
	OperationTimeout  time.Duration // timeout for each store operation
	BatchSize         int           // model batch size hint
}

// DefaultImportOptions mirror the documented defaults (30s per item op).
func DefaultImportOptions() ImportOptions {
	return ImportOptions{
		ContinueOnFailure: false,
		OperationTimeout:  30 * time.Second,
		BatchSize:         100,
	}
}
