/**
 * @description
 * Scheduled maintenance jobs for the ledger-service.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/olasores/Zariel-Influncer-App-sub001/internal/config"
	"github.com/olasores/Zariel-Influncer-App-sub001/internal/domain"
)

// JobsRepository defines the store operations needed by the jobs.
type JobsRepository interface {
	ExpireStalePurchases(ctx context.Context, olderThan time.Time) (int64, error)
	FindBalanceDrift(ctx context.Context) ([]domain.BalanceDrift, error)
	LedgerTotals(ctx context.Context) (*domain.LedgerTotals, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo    JobsRepository
	logger  *slog.Logger
	config  config.Config
	now     func() time.Time
	timeout time.Duration
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo JobsRepository, logger *slog.Logger, cfg config.Config) *Jobs {
	return &Jobs{
		repo:    repo,
		logger:  logger,
		config:  cfg,
		now:     func() time.Time { return time.Now().UTC() },
		timeout: 2 * time.Minute,
	}
}

// ExpireStalePurchases releases purchases stuck in pending, e.g. after a crash
// between reservation and settlement.
func (j *Jobs) ExpireStalePurchases() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	minutes := j.config.StalePurchaseMinutes
	if minutes <= 0 {
		minutes = 15
	}
	cutoff := j.now().Add(-time.Duration(minutes) * time.Minute)

	expired, err := j.repo.ExpireStalePurchases(ctx, cutoff)
	if err != nil {
		j.logger.Error("failed to expire stale purchases", "error", err)
		return
	}
	if expired > 0 {
		j.logger.Warn("expired stale pending purchases", "count", expired, "cutoff", cutoff)
	}
}

// AuditBalances recomputes balances from the completed transaction log and reports
// drift along with ledger-wide conservation.
func (j *Jobs) AuditBalances() {
	j.logger.Info("starting balance audit job")
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	drift, err := j.repo.FindBalanceDrift(ctx)
	if err != nil {
		j.logger.Error("failed to compute balance drift", "error", err)
		return
	}
	for _, d := range drift {
		j.logger.Error("balance drift detected",
			"user_id", d.UserID,
			"stored_balance", d.StoredBalance,
			"computed_balance", d.ComputedBalance,
		)
	}

	totals, err := j.repo.LedgerTotals(ctx)
	if err != nil {
		j.logger.Error("failed to compute ledger totals", "error", err)
		return
	}
	if !totals.Conserved() {
		j.logger.Error("ledger conservation violated",
			"sum_balances", totals.SumBalances,
			"issued", totals.Issued,
			"redeemed", totals.Redeemed,
		)
	}

	j.logger.Info("balance audit job finished", "accounts", totals.AccountCount, "drifted", len(drift), "conserved", totals.Conserved())
}
