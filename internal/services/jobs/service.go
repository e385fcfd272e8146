// Package jobs owns durable job records, the per-job distributed lock,
// and the import and bulk-delete executors.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/common"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
)

// Service implements the job surface for one graph.
type Service struct {
	storage  interfaces.JobStorage
	catalog  interfaces.ModelService
	twins    interfaces.TwinService
	store    interfaces.GraphStore
	graph    string
	config   common.JobsConfig
	instance string
	logger   arbor.ILogger

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewService creates a job service. The instance id identifies this
// process as a lock owner.
func NewService(storage interfaces.JobStorage, catalog interfaces.ModelService, twins interfaces.TwinService,
	store interfaces.GraphStore, graph string, config common.JobsConfig, instance string, logger arbor.ILogger) *Service {
	if config.LockTTL <= 0 {
		config.LockTTL = 60 * time.Second
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = config.LockTTL / 4
	}
	if config.DeleteBatchSize <= 0 {
		config.DeleteBatchSize = 500
	}
	return &Service{
		storage:  storage,
		catalog:  catalog,
		twins:    twins,
		store:    store,
		graph:    graph,
		config:   config,
		instance: instance,
		logger:   logger,
		running:  make(map[string]context.CancelFunc),
	}
}

var _ interfaces.JobService = (*Service)(nil)

// GetJob returns one job record.
func (s *Service) GetJob(ctx context.Context, jobID string) (*models.JobRecord, error) {
	return s.storage.GetJob(ctx, jobID)
}

// ListJobs returns jobs, optionally filtered by type.
func (s *Service) ListJobs(ctx context.Context, jobType models.JobType) ([]*models.JobRecord, error) {
	return s.storage.ListJobs(ctx, jobType)
}

// CancelJob requests cooperative cancellation. A workload running in this
// process is signalled through its context; a job that never started is
// moved to Cancelled directly.
func (s *Service) CancelJob(ctx context.Context, jobID string) (*models.JobRecord, error) {
	job, err := s.storage.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, models.NewError(models.KindInvalidOperation,
			"job %s is already in terminal state %s", jobID, job.Status)
	}

	s.mu.Lock()
	cancel, local := s.running[jobID]
	s.mu.Unlock()
	if local {
		cancel()
		s.logger.Info().Str("job_id", jobID).Msg("Job cancellation requested")
		return job, nil
	}

	// Not running here: flip the record directly. A NotStarted job has no
	// owner; a Running job on a dead instance will be reaped by lock TTL.
	now := time.Now()
	purge := now.Add(s.config.PurgeAfter)
	job.Status = models.JobStatusCancelled
	job.FinishedDateTime = &now
	job.PurgeDateTime = &purge
	if err := s.storage.SaveJob(ctx, job); err != nil {
		return nil, err
	}
	s.logger.Info().Str("job_id", jobID).Msg("Job cancelled")
	return job, nil
}

// DeleteJob removes a finished job record.
func (s *Service) DeleteJob(ctx context.Context, jobID string) error {
	job, err := s.storage.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Status.IsTerminal() {
		return models.NewError(models.KindInvalidOperation,
			"job %s is still %s; cancel it first", jobID, job.Status)
	}
	return s.storage.DeleteJob(ctx, jobID)
}

// trackRunning registers the cancel func for a locally executing job.
func (s *Service) trackRunning(jobID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[jobID] = cancel
}

func (s *Service) untrackRunning(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, jobID)
}
