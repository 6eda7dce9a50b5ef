/**
 * @description
 * Cron scheduler setup for the renewal job. The batch itself is stateless;
 * the scheduler only decides when it runs.
 */
package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/expertcoachinghub/billing-service/internal/config"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron    *cron.Cron
	service *Service
	logger  *slog.Logger
	config  config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(service *Service, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:    c,
		service: service,
		logger:  logger,
		config:  cfg,
	}
}

// Start registers the renewal job and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.RenewalJobSchedule, s.runRenewals); err != nil {
		s.logger.Error("failed to schedule renewal job", "error", err)
	} else {
		s.logger.Info("scheduled renewal job", "schedule", s.config.RenewalJobSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// runRenewals executes one renewal batch at the configured batch size.
func (s *Scheduler) runRenewals() {
	s.logger.Info("starting subscription renewal job")
	ctx := context.Background()

	summary, err := s.service.RunRenewalBatch(ctx, s.config.RenewalBatchSize)
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			s.logger.Info("renewal run already in progress, skipping tick")
			return
		}
		s.logger.Error("renewal job failed", "error", err)
		return
	}

	s.logger.Info("subscription renewal job finished", "processed", summary.Processed)
}
