// -----------------------------------------------------------------------
// Job record, lock and checkpoint persistence (<graph>_jobs schema)
// -----------------------------------------------------------------------

package age

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
)

// JobsSchemaName derives the jobs schema from the graph name.
func JobsSchemaName(graph string) string {
	return graph + "_jobs"
}

const jobsSchemaTemplate = `
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[1]s.job_records (
    id                    text PRIMARY KEY,
    job_type              text NOT NULL,
    status                text NOT NULL,
    created_at            timestamptz NOT NULL DEFAULT now(),
    last_action_at        timestamptz NOT NULL DEFAULT now(),
    finished_at           timestamptz,
    purge_at              timestamptz,
    models_created        integer NOT NULL DEFAULT 0,
    models_deleted        integer NOT NULL DEFAULT 0,
    twins_created         integer NOT NULL DEFAULT 0,
    twins_deleted         integer NOT NULL DEFAULT 0,
    relationships_created integer NOT NULL DEFAULT 0,
    relationships_deleted integer NOT NULL DEFAULT 0,
    error_count           integer NOT NULL DEFAULT 0,
    error                 text NOT NULL DEFAULT '',
    configuration         text NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS %[1]s.job_locks (
    job_id            text PRIMARY KEY,
    owner_instance_id text NOT NULL,
    acquired_at       timestamptz NOT NULL DEFAULT now(),
    heartbeat_at      timestamptz NOT NULL DEFAULT now(),
    ttl_seconds       integer NOT NULL
);

CREATE TABLE IF NOT EXISTS %[1]s.job_checkpoints (
    job_id     text PRIMARY KEY,
    checkpoint jsonb NOT NULL,
    updated_at timestamptz NOT NULL DEFAULT now()
);
`

// ensureJobsSchema creates the companion jobs schema for a graph.
func (s *Store) ensureJobsSchema(ctx context.Context, graph string) error {
	ddl := fmt.Sprintf(jobsSchemaTemplate, quoteIdent(JobsSchemaName(graph)))
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return classifyStoreError("ensure_jobs_schema", err)
	}
	return nil
}

// JobStorage implements job persistence against one graph's jobs schema.
type JobStorage struct {
	store  *Store
	schema string
	logger arbor.ILogger
}

// NewJobStorage binds job storage to a graph.
func NewJobStorage(store *Store, graph string, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		store:  store,
		schema: quoteIdent(JobsSchemaName(graph)),
		logger: logger,
	}
}

const jobColumns = `id, job_type, status, created_at, last_action_at, finished_at, purge_at,
	models_created, models_deleted, twins_created, twins_deleted,
	relationships_created, relationships_deleted, error_count, error, configuration`

func scanJob(row pgx.Row) (*models.JobRecord, error) {
	var job models.JobRecord
	var finished, purge *time.Time
	err := row.Scan(
		&job.ID, &job.JobType, &job.Status, &job.CreatedDateTime, &job.LastActionDateTime,
		&finished, &purge,
		&job.ModelsCreated, &job.ModelsDeleted, &job.TwinsCreated, &job.TwinsDeleted,
		&job.RelationshipsCreated, &job.RelationshipsDeleted,
		&job.ErrorCount, &job.Error, &job.Configuration,
	)
	if err != nil {
		return nil, err
	}
	job.FinishedDateTime = finished
	job.PurgeDateTime = purge
	return &job, nil
}

// CreateJob inserts a new job record, failing on a duplicate id.
func (s *JobStorage) CreateJob(ctx context.Context, job *models.JobRecord) error {
	query := fmt.Sprintf(`
		INSERT INTO %s.job_records (id, job_type, status, created_at, last_action_at, configuration)
		VALUES ($1, $2, $3, now(), now(), $4)
		ON CONFLICT (id) DO NOTHING`, s.schema)

	tag, err := s.store.pool.Exec(ctx, query, job.ID, job.JobType, job.Status, job.Configuration)
	if err != nil {
		return classifyStoreError("create_job", err)
	}
	if tag.RowsAffected() == 0 {
		return models.NewError(models.KindInvalidOperation, "job %s already exists", job.ID)
	}
	return nil
}

// GetJob fetches a job record by id.
func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.JobRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s.job_records WHERE id = $1", jobColumns, s.schema)
	job, err := scanJob(s.store.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.NewError(models.KindJobNotFound, "job %s not found", jobID)
		}
		return nil, classifyStoreError("get_job", err)
	}
	return job, nil
}

// SaveJob upserts the full record. Status transition legality is the job
// service's responsibility; storage writes what it is given.
func (s *JobStorage) SaveJob(ctx context.Context, job *models.JobRecord) error {
	query := fmt.Sprintf(`
		INSERT INTO %s.job_records (%s)
		VALUES ($1, $2, $3, $4, now(), $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			last_action_at = now(),
			finished_at = EXCLUDED.finished_at,
			purge_at = EXCLUDED.purge_at,
			models_created = EXCLUDED.models_created,
			models_deleted = EXCLUDED.models_deleted,
			twins_created = EXCLUDED.twins_created,
			twins_deleted = EXCLUDED.twins_deleted,
			relationships_created = EXCLUDED.relationships_created,
			relationships_deleted = EXCLUDED.relationships_deleted,
			error_count = EXCLUDED.error_count,
			error = EXCLUDED.error,
			configuration = EXCLUDED.configuration`,
		s.schema, jobColumns)

	_, err := s.store.pool.Exec(ctx, query,
		job.ID, job.JobType, job.Status, job.CreatedDateTime,
		job.FinishedDateTime, job.PurgeDateTime,
		job.ModelsCreated, job.ModelsDeleted, job.TwinsCreated, job.TwinsDeleted,
		job.RelationshipsCreated, job.RelationshipsDeleted,
		job.ErrorCount, job.Error, job.Configuration,
	)
	if err != nil {
		return classifyStoreError("save_job", err)
	}
	return nil
}

// ListJobs returns jobs, newest first, optionally filtered by type.
func (s *JobStorage) ListJobs(ctx context.Context, jobType models.JobType) ([]*models.JobRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s.job_records", jobColumns, s.schema)
	var args []any
	if jobType != "" {
		query += " WHERE job_type = $1"
		args = append(args, jobType)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.store.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyStoreError("list_jobs", err)
	}
	defer rows.Close()

	var out []*models.JobRecord
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, classifyStoreError("list_jobs", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStoreError("list_jobs", err)
	}
	return out, nil
}

// DeleteJob removes a job record and its checkpoint.
func (s *JobStorage) DeleteJob(ctx context.Context, jobID string) error {
	tag, err := s.store.pool.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s.job_records WHERE id = $1", s.schema), jobID)
	if err != nil {
		return classifyStoreError("delete_job", err)
	}
	if tag.RowsAffected() == 0 {
		return models.NewError(models.KindJobNotFound, "job %s not found", jobID)
	}
	_, err = s.store.pool.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s.job_checkpoints WHERE job_id = $1", s.schema), jobID)
	if err != nil {
		return classifyStoreError("delete_job_checkpoint", err)
	}
	return nil
}

// PurgeFinishedJobs removes terminal jobs whose purge time has passed.
func (s *JobStorage) PurgeFinishedJobs(ctx context.Context) (int, error) {
	tag, err := s.store.pool.Exec(ctx, fmt.Sprintf(
		"DELETE FROM %s.job_records WHERE purge_at IS NOT NULL AND purge_at <= now()", s.schema))
	if err != nil {
		return 0, classifyStoreError("purge_jobs", err)
	}
	return int(tag.RowsAffected()), nil
}

// TryAcquireLock inserts or steals the lock row for jobID. The steal
// branch only fires when the existing lock is expired by the store's own
// clock; two concurrent callers serialize on the row.
func (s *JobStorage) TryAcquireLock(ctx context.Context, jobID, owner string, ttlSeconds int) (bool, error) {
	query := fmt.Sprintf(`
		INSERT INTO %[1]s.job_locks (job_id, owner_instance_id, ttl_seconds)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_id) DO UPDATE SET
			owner_instance_id = EXCLUDED.owner_instance_id,
			acquired_at = now(),
			heartbeat_at = now(),
			ttl_seconds = EXCLUDED.ttl_seconds
		WHERE %[1]s.job_locks.heartbeat_at + make_interval(secs => %[1]s.job_locks.ttl_seconds) <= now()`,
		s.schema)

	tag, err := s.store.pool.Exec(ctx, query, jobID, owner, ttlSeconds)
	if err != nil {
		return false, classifyStoreError("acquire_lock", err)
	}
	acquired := tag.RowsAffected() > 0
	if acquired {
		s.logger.Debug().Str("job_id", jobID).Str("owner", owner).Msg("Job lock acquired")
	}
	return acquired, nil
}

// RenewLock updates the heartbeat, only for the current owner.
func (s *JobStorage) RenewLock(ctx context.Context, jobID, owner string) (bool, error) {
	tag, err := s.store.pool.Exec(ctx, fmt.Sprintf(
		"UPDATE %s.job_locks SET heartbeat_at = now() WHERE job_id = $1 AND owner_instance_id = $2",
		s.schema), jobID, owner)
	if err != nil {
		return false, classifyStoreError("renew_lock", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseLock removes the lock row, only for the current owner.
func (s *JobStorage) ReleaseLock(ctx context.Context, jobID, owner string) error {
	tag, err := s.store.pool.Exec(ctx, fmt.Sprintf(
		"DELETE FROM %s.job_locks WHERE job_id = $1 AND owner_instance_id = $2",
		s.schema), jobID, owner)
	if err != nil {
		return classifyStoreError("release_lock", err)
	}
	if tag.RowsAffected() == 0 {
		return models.NewError(models.KindInvalidOperation,
			"lock for job %s is not held by %s", jobID, owner)
	}
	return nil
}

// CleanupExpiredLocks removes every expired lock and returns the count.
func (s *JobStorage) CleanupExpiredLocks(ctx context.Context) (int, error) {
	tag, err := s.store.pool.Exec(ctx, fmt.Sprintf(
		"DELETE FROM %s.job_locks WHERE heartbeat_at + make_interval(secs => ttl_seconds) <= now()",
		s.schema))
	if err != nil {
		return 0, classifyStoreError("cleanup_locks", err)
	}
	return int(tag.RowsAffected()), nil
}

// GetLockInfo returns the lock row without deleting it, expiry computed
// server-side.
func (s *JobStorage) GetLockInfo(ctx context.Context, jobID string) (*models.JobLockInfo, error) {
	query := fmt.Sprintf(`
		SELECT job_id, owner_instance_id, acquired_at, heartbeat_at, ttl_seconds,
		       heartbeat_at + make_interval(secs => ttl_seconds) <= now() AS is_expired
		FROM %s.job_locks WHERE job_id = $1`, s.schema)

	var info models.JobLockInfo
	var ttlSeconds int
	err := s.store.pool.QueryRow(ctx, query, jobID).Scan(
		&info.JobID, &info.OwnerInstanceID, &info.AcquiredAt, &info.HeartbeatAt,
		&ttlSeconds, &info.IsExpired,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, classifyStoreError("get_lock_info", err)
	}
	info.TTL = time.Duration(ttlSeconds) * time.Second
	return &info, nil
}

// SaveCheckpoint upserts the checkpoint blob for a job.
func (s *JobStorage) SaveCheckpoint(ctx context.Context, checkpoint *models.DeleteCheckpoint) error {
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s.job_checkpoints (job_id, checkpoint, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (job_id) DO UPDATE SET checkpoint = EXCLUDED.checkpoint, updated_at = now()`,
		s.schema)
	if _, err := s.store.pool.Exec(ctx, query, checkpoint.JobID, data); err != nil {
		return classifyStoreError("save_checkpoint", err)
	}
	return nil
}

// LoadDeleteCheckpoint fetches a job's checkpoint, or nil when none exists.
func (s *JobStorage) LoadDeleteCheckpoint(ctx context.Context, jobID string) (*models.DeleteCheckpoint, error) {
	var data []byte
	err := s.store.pool.QueryRow(ctx, fmt.Sprintf(
		"SELECT checkpoint FROM %s.job_checkpoints WHERE job_id = $1", s.schema), jobID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, classifyStoreError("load_checkpoint", err)
	}
	var checkpoint models.DeleteCheckpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint for job %s: %w", jobID, err)
	}
	return &checkpoint, nil
}

// DeleteCheckpoint removes a job's checkpoint.
func (s *JobStorage) DeleteCheckpoint(ctx context.Context, jobID string) error {
	_, err := s.store.pool.Exec(ctx, fmt.Sprintf(
		"DELETE FROM %s.job_checkpoints WHERE job_id = $1", s.schema), jobID)
	if err != nil {
		return classifyStoreError("delete_checkpoint", err)
	}
	return nil
}
