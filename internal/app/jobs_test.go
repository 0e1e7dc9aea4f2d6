package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/olasores/Zariel-Influncer-App-sub001/internal/config"
	"github.com/olasores/Zariel-Influncer-App-sub001/internal/domain"
)

type jobsRepoStub struct {
	expireCutoff time.Time
	expired      int64
	expireErr    error
	drift        []domain.BalanceDrift
	totals       *domain.LedgerTotals
}

func (s *jobsRepoStub) ExpireStalePurchases(ctx context.Context, olderThan time.Time) (int64, error) {
	s.expireCutoff = olderThan
	return s.expired, s.expireErr
}

func (s *jobsRepoStub) FindBalanceDrift(ctx context.Context) ([]domain.BalanceDrift, error) {
	return s.drift, nil
}

func (s *jobsRepoStub) LedgerTotals(ctx context.Context) (*domain.LedgerTotals, error) {
	if s.totals == nil {
		return &domain.LedgerTotals{}, nil
	}
	return s.totals, nil
}

func newTestJobs(repo JobsRepository, cfg config.Config, out *bytes.Buffer) *Jobs {
	logger := slog.New(slog.NewTextHandler(out, nil))
	jobs := NewJobs(repo, logger, cfg)
	jobs.now = func() time.Time { return fixedNow }
	return jobs
}

func TestExpireStalePurchases_UsesConfiguredCutoff(t *testing.T) {
	repo := &jobsRepoStub{expired: 2}
	var out bytes.Buffer
	jobs := newTestJobs(repo, config.Config{StalePurchaseMinutes: 30}, &out)

	jobs.ExpireStalePurchases()

	if want := fixedNow.Add(-30 * time.Minute); !repo.expireCutoff.Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, repo.expireCutoff)
	}
	if !strings.Contains(out.String(), "expired stale pending purchases") {
		t.Fatalf("expected expiry to be logged, got %q", out.String())
	}
}

func TestExpireStalePurchases_LogsStoreError(t *testing.T) {
	repo := &jobsRepoStub{expireErr: errors.New("db down")}
	var out bytes.Buffer
	jobs := newTestJobs(repo, config.Config{}, &out)

	jobs.ExpireStalePurchases()

	if want := fixedNow.Add(-15 * time.Minute); !repo.expireCutoff.Equal(want) {
		t.Fatalf("expected default cutoff %s, got %s", want, repo.expireCutoff)
	}
	if !strings.Contains(out.String(), "failed to expire stale purchases") {
		t.Fatalf("expected error log, got %q", out.String())
	}
}

func TestAuditBalances_ReportsDriftAndConservation(t *testing.T) {
	repo := &jobsRepoStub{
		drift:  []domain.BalanceDrift{{UserID: "creator", StoredBalance: 12, ComputedBalance: 10}},
		totals: &domain.LedgerTotals{Issued: 10, SumBalances: 12, AccountCount: 1},
	}
	var out bytes.Buffer
	jobs := newTestJobs(repo, config.Config{}, &out)

	jobs.AuditBalances()

	logs := out.String()
	if !strings.Contains(logs, "balance drift detected") || !strings.Contains(logs, "user_id=creator") {
		t.Fatalf("expected drift to be logged, got %q", logs)
	}
	if !strings.Contains(logs, "ledger conservation violated") {
		t.Fatalf("expected conservation violation to be logged, got %q", logs)
	}
}

func TestAuditBalances_CleanLedgerAgainstMemoryStore(t *testing.T) {
	repo, engine := newTestEngine()
	issueTokens(t, engine, "creator", 40)
	if _, err := engine.Settle(context.Background(), SettleRequest{Kind: domain.KindPurchase, From: ptr("creator"), To: ptr("company"), Amount: 15}); err != nil {
		t.Fatalf("settle: %v", err)
	}

	var out bytes.Buffer
	jobs := newTestJobs(repo, config.Config{}, &out)
	jobs.AuditBalances()

	logs := out.String()
	if strings.Contains(logs, "level=ERROR") {
		t.Fatalf("expected clean audit, got %q", logs)
	}
	if !strings.Contains(logs, "conserved=true") {
		t.Fatalf("expected conserved=true in summary, got %q", logs)
	}
}
