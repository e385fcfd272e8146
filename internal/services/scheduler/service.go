// Package scheduler runs the periodic maintenance work: reaping expired
// job locks and purging finished job records past their retention.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/common"
	"github.com/ternarybob/tessera/internal/interfaces"
)

// Service owns the cron loop.
type Service struct {
	jobStorage interfaces.JobStorage
	config     common.JobsConfig
	cron       *cron.Cron
	logger     arbor.ILogger

	mu      sync.Mutex
	running bool
}

// NewService creates the maintenance scheduler.
func NewService(jobStorage interfaces.JobStorage, config common.JobsConfig, logger arbor.ILogger) *Service {
	if config.PurgeSchedule == "" {
		config.PurgeSchedule = "@hourly"
	}
	return &Service{
		jobStorage: jobStorage,
		config:     config,
		cron:       cron.New(),
		logger:     logger,
	}
}

// Start registers the maintenance jobs and starts the cron loop.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	if _, err := s.cron.AddFunc(s.config.PurgeSchedule, s.runMaintenance); err != nil {
		return err
	}
	s.cron.Start()
	s.running = true
	s.logger.Info().Str("schedule", s.config.PurgeSchedule).Msg("Maintenance scheduler started")
	return nil
}

// Stop halts the cron loop and waits for a running maintenance pass.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.logger.Info().Msg("Maintenance scheduler stopped")
}

// RunOnce executes one maintenance pass immediately.
func (s *Service) RunOnce() {
	s.runMaintenance()
}

func (s *Service) runMaintenance() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	reaped, err := s.jobStorage.CleanupExpiredLocks(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Expired lock cleanup failed")
	} else if reaped > 0 {
		s.logger.Info().Int("count", reaped).Msg("Expired job locks reaped")
	}

	purged, err := s.jobStorage.PurgeFinishedJobs(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Finished job purge failed")
	} else if purged > 0 {
		s.logger.Info().Int("count", purged).Msg("Finished jobs purged")
	}
}
