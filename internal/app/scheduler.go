/**
 * @description
 * Cron scheduler setup for the ledger maintenance jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/olasores/Zariel-Influncer-App-sub001/internal/config"
	"github.com/robfig/cron/v3"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.PurchaseExpirySchedule, s.jobs.ExpireStalePurchases); err != nil {
		s.logger.Error("failed to schedule stale purchase expiry job", "error", err)
	} else {
		s.logger.Info("scheduled stale purchase expiry job", "schedule", s.config.PurchaseExpirySchedule)
	}

	if _, err := s.cron.AddFunc(s.config.BalanceAuditSchedule, s.jobs.AuditBalances); err != nil {
		s.logger.Error("failed to schedule balance audit job", "error", err)
	} else {
		s.logger.Info("scheduled balance audit job", "schedule", s.config.BalanceAuditSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
