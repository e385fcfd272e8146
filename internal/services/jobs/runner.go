package jobs

import (
	"context"
	"io"
	"time"

	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
)

// ImportGraph runs an import synchronously: lock, status Running, stream
// the input in-line, finalize, return the finished record.
func (s *Service) ImportGraph(ctx context.Context, jobID string, input io.Reader, output io.Writer, opts models.ImportOptions) (*models.JobRecord, error) {
	job, err := s.startJob(ctx, jobID, models.JobTypeImport)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.trackRunning(jobID, cancel)
	stopHeartbeat := s.startHeartbeat(jobID, cancel)
	defer func() {
		stopHeartbeat()
		s.untrackRunning(jobID)
		cancel()
	}()

	runErr := s.runImport(runCtx, job, input, output, opts)
	return s.finishJob(job, runErr)
}

// ImportGraphInBackground acquires the lock, marks the job running and
// returns immediately; the workload runs on its own goroutine while a
// heartbeat renews the lock.
func (s *Service) ImportGraphInBackground(ctx context.Context, jobID string, streams interfaces.StreamFactory, opts models.ImportOptions) (*models.JobRecord, error) {
	job, err := s.startJob(ctx, jobID, models.JobTypeImport)
	if err != nil {
		return nil, err
	}
	snapshot := *job

	runCtx, cancel := context.WithCancel(context.Background())
	s.trackRunning(jobID, cancel)
	stopHeartbeat := s.startHeartbeat(jobID, cancel)

	go func() {
		defer func() {
			stopHeartbeat()
			s.untrackRunning(jobID)
			cancel()
		}()
		input, output, err := streams()
		if err != nil {
			s.finishJob(job, models.WrapError(models.KindInternal, err, "failed to open job streams"))
			return
		}
		defer input.Close()
		defer output.Close()
		runErr := s.runImport(runCtx, job, input, output, opts)
		s.finishJob(job, runErr)
	}()

	return &snapshot, nil
}

// DeleteAll runs the three-phase bulk delete, resuming from a persisted
// checkpoint when one exists.
func (s *Service) DeleteAll(ctx context.Context, jobID string) (*models.JobRecord, error) {
	job, err := s.startJob(ctx, jobID, models.JobTypeDelete)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.trackRunning(jobID, cancel)
	stopHeartbeat := s.startHeartbeat(jobID, cancel)
	defer func() {
		stopHeartbeat()
		s.untrackRunning(jobID)
		cancel()
	}()

	runErr := s.runDelete(runCtx, job)
	return s.finishJob(job, runErr)
}

// startJob creates or resumes the record and takes the distributed lock.
// A fresh job is created NotStarted and moved to Running; a non-terminal
// existing record of the same type resumes.
func (s *Service) startJob(ctx context.Context, jobID string, jobType models.JobType) (*models.JobRecord, error) {
	job, err := s.storage.GetJob(ctx, jobID)
	switch {
	case err == nil:
		if job.JobType != jobType {
			return nil, models.NewError(models.KindInvalidOperation,
				"job %s already exists with type %s", jobID, job.JobType)
		}
		if job.Status.IsTerminal() {
			return nil, models.NewError(models.KindInvalidOperation,
				"job %s already exists", jobID)
		}
	case models.IsKind(err, models.KindJobNotFound):
		job = &models.JobRecord{
			ID:              jobID,
			JobType:         jobType,
			Status:          models.JobStatusNotStarted,
			CreatedDateTime: time.Now(),
		}
		if err := s.storage.CreateJob(ctx, job); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	acquired, err := s.storage.TryAcquireLock(ctx, jobID, s.instance, int(s.config.LockTTL.Seconds()))
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, models.NewError(models.KindInvalidOperation,
			"job %s is locked by another instance", jobID)
	}

	job.Status = models.JobStatusRunning
	if err := s.storage.SaveJob(ctx, job); err != nil {
		s.releaseLock(jobID)
		return nil, err
	}
	s.logger.Info().Str("job_id", jobID).Str("type", string(jobType)).Msg("Job started")
	return job, nil
}

// finishJob records the terminal status derived from the run error and
// releases the lock. Saves run on a fresh context so a cancelled workload
// can still persist its outcome.
func (s *Service) finishJob(job *models.JobRecord, runErr error) (*models.JobRecord, error) {
	switch {
	case runErr == nil && job.ErrorCount > 0:
		job.Status = models.JobStatusPartiallySucceeded
	case runErr == nil:
		job.Status = models.JobStatusSucceeded
	case models.IsKind(runErr, models.KindCancelled):
		job.Status = models.JobStatusCancelled
	default:
		job.Status = models.JobStatusFailed
		job.Error = runErr.Error()
	}
	now := time.Now()
	purge := now.Add(s.config.PurgeAfter)
	job.FinishedDateTime = &now
	job.PurgeDateTime = &purge

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.storage.SaveJob(ctx, job); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist final job status")
	}
	s.releaseLock(job.ID)

	s.logger.Info().
		Str("job_id", job.ID).
		Str("status", string(job.Status)).
		Int("errors", job.ErrorCount).
		Msg("Job finished")
	return job, nil
}

// startHeartbeat renews the lock until stopped. Losing the lock cancels
// the workload: another instance may already be running the job.
func (s *Service) startHeartbeat(jobID string, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.config.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ctx, ctxCancel := context.WithTimeout(context.Background(), 10*time.Second)
				renewed, err := s.storage.RenewLock(ctx, jobID, s.instance)
				ctxCancel()
				if err != nil {
					s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Lock heartbeat failed")
					continue
				}
				if !renewed {
					s.logger.Warn().Str("job_id", jobID).Msg("Job lock lost; cancelling workload")
					cancel()
					return
				}
			}
		}
	}()
	var once func()
	closed := false
	once = func() {
		if !closed {
			closed = true
			close(done)
		}
	}
	return once
}

func (s *Service) releaseLock(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.storage.ReleaseLock(ctx, jobID, s.instance); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to release job lock")
	}
}

// saveProgress persists intermediate counters; failures are logged, not
// fatal, because counters re-derive on the next save.
func (s *Service) saveProgress(ctx context.Context, job *models.JobRecord) {
	if err := s.storage.SaveJob(ctx, job); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist job progress")
	}
}
