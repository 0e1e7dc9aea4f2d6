package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/olasores/Zariel-Influncer-App-sub001/internal/domain"
	"github.com/olasores/Zariel-Influncer-App-sub001/internal/store"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine() (*store.MemoryRepository, *Engine) {
	repo := store.NewMemoryRepository()
	return repo, NewEngine(repo, newTestLogger())
}

func issueTokens(t *testing.T, engine *Engine, userID string, amount int64) {
	t.Helper()
	if _, err := engine.Settle(context.Background(), SettleRequest{Kind: domain.KindIssuance, To: ptr(userID), Amount: amount}); err != nil {
		t.Fatalf("issue %d to %s: %v", amount, userID, err)
	}
}

func mustBalance(t *testing.T, repo store.Repository, userID string) int64 {
	t.Helper()
	balance, err := repo.GetBalance(context.Background(), userID)
	if err != nil {
		t.Fatalf("get balance for %s: %v", userID, err)
	}
	return balance
}

func assertConserved(t *testing.T, repo store.Repository) {
	t.Helper()
	totals, err := repo.LedgerTotals(context.Background())
	if err != nil {
		t.Fatalf("ledger totals: %v", err)
	}
	if !totals.Conserved() {
		t.Fatalf("conservation violated: %+v", totals)
	}
	drift, err := repo.FindBalanceDrift(context.Background())
	if err != nil {
		t.Fatalf("balance drift: %v", err)
	}
	if len(drift) != 0 {
		t.Fatalf("unexpected balance drift: %+v", drift)
	}
}

func TestValidateSettleRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     SettleRequest
		wantErr bool
	}{
		{name: "issuance", req: SettleRequest{Kind: domain.KindIssuance, To: ptr("a"), Amount: 1}},
		{name: "redemption", req: SettleRequest{Kind: domain.KindRedemption, From: ptr("a"), Amount: 1}},
		{name: "purchase", req: SettleRequest{Kind: domain.KindPurchase, From: ptr("a"), To: ptr("b"), Amount: 1}},
		{name: "ecosystem purchase", req: SettleRequest{Kind: domain.KindEcosystemPurchase, From: ptr("a"), To: ptr("b"), Amount: 1}},
		{name: "ecosystem purchase without destination", req: SettleRequest{Kind: domain.KindEcosystemPurchase, From: ptr("a"), Amount: 1}, wantErr: true},
		{name: "ecosystem purchase without source", req: SettleRequest{Kind: domain.KindEcosystemPurchase, To: ptr("b"), Amount: 1}, wantErr: true},
		{name: "zero amount", req: SettleRequest{Kind: domain.KindIssuance, To: ptr("a"), Amount: 0}, wantErr: true},
		{name: "negative amount", req: SettleRequest{Kind: domain.KindIssuance, To: ptr("a"), Amount: -5}, wantErr: true},
		{name: "unknown kind", req: SettleRequest{Kind: "gift", To: ptr("a"), Amount: 1}, wantErr: true},
		{name: "no endpoints", req: SettleRequest{Kind: domain.KindEcosystemPurchase, Amount: 1}, wantErr: true},
		{name: "same endpoints", req: SettleRequest{Kind: domain.KindPurchase, From: ptr("a"), To: ptr("a"), Amount: 1}, wantErr: true},
		{name: "issuance with source", req: SettleRequest{Kind: domain.KindIssuance, From: ptr("a"), To: ptr("b"), Amount: 1}, wantErr: true},
		{name: "redemption with destination", req: SettleRequest{Kind: domain.KindRedemption, From: ptr("a"), To: ptr("b"), Amount: 1}, wantErr: true},
		{name: "purchase without destination", req: SettleRequest{Kind: domain.KindPurchase, From: ptr("a"), Amount: 1}, wantErr: true},
		{name: "blank account", req: SettleRequest{Kind: domain.KindIssuance, To: ptr("  "), Amount: 1}, wantErr: true},
		{name: "blank reference", req: SettleRequest{Kind: domain.KindIssuance, To: ptr("a"), Amount: 1, Reference: ptr("")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSettleRequest(tt.req)
			if tt.wantErr {
				if !domain.IsValidation(err) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSettle_PurchaseMovesTokensAndConserves(t *testing.T) {
	repo, engine := newTestEngine()
	issueTokens(t, engine, "buyer", 100)

	record, err := engine.Settle(context.Background(), SettleRequest{
		Kind:   domain.KindPurchase,
		From:   ptr("buyer"),
		To:     ptr("seller"),
		Amount: 40,
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if record.Status != domain.TransactionCompleted {
		t.Fatalf("expected completed, got %s", record.Status)
	}
	if got := mustBalance(t, repo, "buyer"); got != 60 {
		t.Fatalf("expected buyer 60, got %d", got)
	}
	if got := mustBalance(t, repo, "seller"); got != 40 {
		t.Fatalf("expected seller 40, got %d", got)
	}

	stored, err := repo.FindTransactionByID(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("find transaction: %v", err)
	}
	if stored.Status != domain.TransactionCompleted || stored.Amount != 40 {
		t.Fatalf("unexpected stored record: %+v", stored)
	}
	assertConserved(t, repo)
}

func TestSettle_RedemptionAndEcosystemTransferConserve(t *testing.T) {
	repo, engine := newTestEngine()
	issueTokens(t, engine, "user", 100)

	if _, err := engine.Settle(context.Background(), SettleRequest{Kind: domain.KindRedemption, From: ptr("user"), Amount: 30}); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if _, err := engine.Settle(context.Background(), SettleRequest{Kind: domain.KindEcosystemPurchase, From: ptr("user"), To: ptr("platform"), Amount: 20}); err != nil {
		t.Fatalf("ecosystem purchase: %v", err)
	}
	if got := mustBalance(t, repo, "user"); got != 50 {
		t.Fatalf("expected 50, got %d", got)
	}
	if got := mustBalance(t, repo, "platform"); got != 20 {
		t.Fatalf("expected platform to receive 20, got %d", got)
	}
	assertConserved(t, repo)
}

func TestSettle_InsufficientFundsLeavesNoTrace(t *testing.T) {
	repo, engine := newTestEngine()
	issueTokens(t, engine, "buyer", 50)

	record, err := engine.Settle(context.Background(), SettleRequest{
		Kind:   domain.KindPurchase,
		From:   ptr("buyer"),
		To:     ptr("seller"),
		Amount: 75,
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if record == nil || record.Status != domain.TransactionFailed {
		t.Fatalf("expected attempt resolved to failed, got %+v", record)
	}
	if got := mustBalance(t, repo, "buyer"); got != 50 {
		t.Fatalf("expected buyer to keep 50, got %d", got)
	}
	if _, err := repo.FindAccount(context.Background(), "seller"); !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("expected seller account creation to roll back, got %v", err)
	}
	history, _ := repo.ListTransactionsByAccount(context.Background(), "buyer", domain.TransactionListOptions{})
	if len(history) != 1 {
		t.Fatalf("expected only the issuance in history, got %d records", len(history))
	}
}

func TestSettle_MissingSourceAccountIsInsufficientFunds(t *testing.T) {
	_, engine := newTestEngine()

	_, err := engine.Settle(context.Background(), SettleRequest{Kind: domain.KindRedemption, From: ptr("ghost"), Amount: 1})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestSettle_ReplayWithSameReferenceAppliesOnce(t *testing.T) {
	repo, engine := newTestEngine()

	req := SettleRequest{Kind: domain.KindIssuance, To: ptr("user"), Amount: 25, Reference: ptr("payment:evt-1")}
	first, err := engine.Settle(context.Background(), req)
	if err != nil {
		t.Fatalf("first settle: %v", err)
	}
	second, err := engine.Settle(context.Background(), req)
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected replay to return the original record, got %s and %s", first.ID, second.ID)
	}
	if got := mustBalance(t, repo, "user"); got != 25 {
		t.Fatalf("expected a single credit of 25, got %d", got)
	}

	// Same reference under another kind is a different settlement.
	if _, err := engine.Settle(context.Background(), SettleRequest{Kind: domain.KindRedemption, From: ptr("user"), Amount: 5, Reference: ptr("payment:evt-1")}); err != nil {
		t.Fatalf("redemption with shared reference: %v", err)
	}
	if got := mustBalance(t, repo, "user"); got != 20 {
		t.Fatalf("expected 20, got %d", got)
	}
}

func TestSettle_ConcurrentReplaysProduceOneRecord(t *testing.T) {
	repo, engine := newTestEngine()

	const attempts = 16
	ids := make(chan string, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record, err := engine.Settle(context.Background(), SettleRequest{
				Kind: domain.KindIssuance, To: ptr("user"), Amount: 10, Reference: ptr("payment:evt-42"),
			})
			if err != nil {
				t.Errorf("settle: %v", err)
				return
			}
			ids <- record.ID.String()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{})
	for id := range ids {
		seen[id] = struct{}{}
	}
	if len(seen) != 1 {
		t.Fatalf("expected exactly one record id, got %d", len(seen))
	}
	if got := mustBalance(t, repo, "user"); got != 10 {
		t.Fatalf("expected balance 10, got %d", got)
	}
}

func TestSettle_ConcurrentSpendsNeverOverdraw(t *testing.T) {
	repo, engine := newTestEngine()
	issueTokens(t, engine, "buyer", 100)

	const attempts = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := engine.Settle(context.Background(), SettleRequest{
				Kind:   domain.KindPurchase,
				From:   ptr("buyer"),
				To:     ptr(fmt.Sprintf("seller-%d", i)),
				Amount: 100,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrInsufficientFunds):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 1 || rejected != attempts-1 {
		t.Fatalf("expected 1 success and %d rejections, got %d and %d", attempts-1, succeeded, rejected)
	}
	if got := mustBalance(t, repo, "buyer"); got != 0 {
		t.Fatalf("expected buyer balance 0, got %d", got)
	}
	assertConserved(t, repo)
}

type failingAppendRepo struct {
	*store.MemoryRepository
}

func (r failingAppendRepo) WithinTransaction(ctx context.Context, fn func(tx store.LedgerTx) error) error {
	return r.MemoryRepository.WithinTransaction(ctx, func(tx store.LedgerTx) error {
		return fn(failingAppendTx{LedgerTx: tx})
	})
}

type failingAppendTx struct {
	store.LedgerTx
}

func (failingAppendTx) AppendTransaction(ctx context.Context, tx *domain.Transaction) error {
	return errors.New("disk full")
}

func TestSettle_StoreFailureIsRetryableAndRollsBack(t *testing.T) {
	mem, seedEngine := newTestEngine()
	issueTokens(t, seedEngine, "buyer", 100)

	engine := NewEngine(failingAppendRepo{MemoryRepository: mem}, newTestLogger())
	record, err := engine.Settle(context.Background(), SettleRequest{
		Kind:      domain.KindPurchase,
		From:      ptr("buyer"),
		To:        ptr("seller"),
		Amount:    30,
		Reference: ptr("purchase-1"),
	})
	if !errors.Is(err, domain.ErrSettlementFailed) || !domain.IsRetryable(err) {
		t.Fatalf("expected retryable ErrSettlementFailed, got %v", err)
	}
	if record == nil || record.Status != domain.TransactionFailed {
		t.Fatalf("expected failed attempt record, got %+v", record)
	}
	if got := mustBalance(t, mem, "buyer"); got != 100 {
		t.Fatalf("expected buyer balance untouched, got %d", got)
	}
	if _, err := mem.FindAccount(context.Background(), "seller"); !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("expected no seller account, got %v", err)
	}

	// The caller retries with the same reference once the store recovers.
	retried, err := seedEngine.Settle(context.Background(), SettleRequest{
		Kind:      domain.KindPurchase,
		From:      ptr("buyer"),
		To:        ptr("seller"),
		Amount:    30,
		Reference: ptr("purchase-1"),
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.Status != domain.TransactionCompleted {
		t.Fatalf("expected completed retry, got %s", retried.Status)
	}
	assertConserved(t, mem)
}

func TestSettleWithin_CallbackErrorRollsBack(t *testing.T) {
	repo, engine := newTestEngine()
	issueTokens(t, engine, "buyer", 10)

	_, err := engine.SettleWithin(context.Background(), SettleRequest{
		Kind: domain.KindPurchase, From: ptr("buyer"), To: ptr("seller"), Amount: 10,
	}, func(ctx context.Context, tx store.LedgerTx, record *domain.Transaction) error {
		return domain.ErrNotPurchasable
	})
	if !errors.Is(err, domain.ErrNotPurchasable) {
		t.Fatalf("expected ErrNotPurchasable to pass through, got %v", err)
	}
	if got := mustBalance(t, repo, "buyer"); got != 10 {
		t.Fatalf("expected rollback, got buyer balance %d", got)
	}
}
