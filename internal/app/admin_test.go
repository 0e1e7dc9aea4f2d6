package app

import (
	"context"
	"errors"
	"testing"

	"github.com/olasores/Zariel-Influncer-App-sub001/internal/domain"
	"github.com/olasores/Zariel-Influncer-App-sub001/internal/store"
)

var testAdmin = domain.Identity{UserID: "admin-1", Role: domain.RoleAdmin}

func newTestAdminService() (*store.MemoryRepository, *Engine, *AdminService) {
	repo, engine := newTestEngine()
	return repo, engine, NewAdminService(repo, engine, NewClaimsAuthorizer([]string{"support-7"}), newTestLogger())
}

func TestClaimsAuthorizer(t *testing.T) {
	authorizer := NewClaimsAuthorizer([]string{" support-7 ", ""})
	tests := []struct {
		name     string
		identity domain.Identity
		want     bool
	}{
		{name: "admin role", identity: domain.Identity{UserID: "u1", Role: domain.RoleAdmin}, want: true},
		{name: "allowlisted creator", identity: domain.Identity{UserID: "support-7", Role: domain.RoleCreator}, want: true},
		{name: "company", identity: domain.Identity{UserID: "u2", Role: domain.RoleCompany}, want: false},
		{name: "anonymous admin claim", identity: domain.Identity{Role: domain.RoleAdmin}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := authorizer.IsAdmin(context.Background(), tt.identity); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSetBalance_RaiseRecordsSingleIssuance(t *testing.T) {
	repo, engine, admin := newTestAdminService()
	issueTokens(t, engine, "creator", 30)

	if err := admin.SetBalance(context.Background(), testAdmin, "creator", 100, "promo credit", nil); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	if got := mustBalance(t, repo, "creator"); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}

	history, err := repo.ListTransactionsByAccount(context.Background(), "creator", domain.TransactionListOptions{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected seed issuance plus one adjustment, got %d records", len(history))
	}
	latest := history[0]
	if latest.Kind != domain.KindIssuance || latest.Amount != 70 || latest.InitiatedBy != testAdmin.UserID || latest.Notes != "promo credit" {
		t.Fatalf("unexpected adjustment record: %+v", latest)
	}
	assertConserved(t, repo)
}

func TestSetBalance_LowerRecordsSingleRedemption(t *testing.T) {
	repo, engine, admin := newTestAdminService()
	issueTokens(t, engine, "creator", 80)

	if err := admin.SetBalance(context.Background(), domain.Identity{UserID: "support-7", Role: domain.RoleCreator}, "creator", 15, "", nil); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	if got := mustBalance(t, repo, "creator"); got != 15 {
		t.Fatalf("expected 15, got %d", got)
	}
	history, _ := repo.ListTransactionsByAccount(context.Background(), "creator", domain.TransactionListOptions{})
	if history[0].Kind != domain.KindRedemption || history[0].Amount != 65 {
		t.Fatalf("unexpected adjustment record: %+v", history[0])
	}
	assertConserved(t, repo)
}

func TestSetBalance_SameBalanceIsNoop(t *testing.T) {
	repo, engine, admin := newTestAdminService()
	issueTokens(t, engine, "creator", 40)

	if err := admin.SetBalance(context.Background(), testAdmin, "creator", 40, "", nil); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	history, _ := repo.ListTransactionsByAccount(context.Background(), "creator", domain.TransactionListOptions{})
	if len(history) != 1 {
		t.Fatalf("expected no adjustment record, got %d records", len(history))
	}
}

func TestSetBalance_IdempotencyKeyAppliesOnce(t *testing.T) {
	repo, engine, admin := newTestAdminService()
	issueTokens(t, engine, "creator", 10)

	ref := ptr("admin:ticket-991")
	for i := 0; i < 2; i++ {
		if err := admin.SetBalance(context.Background(), testAdmin, "creator", 50, "", ref); err != nil {
			t.Fatalf("set balance attempt %d: %v", i, err)
		}
	}
	if got := mustBalance(t, repo, "creator"); got != 50 {
		t.Fatalf("expected 50, got %d", got)
	}
	history, _ := repo.ListTransactionsByAccount(context.Background(), "creator", domain.TransactionListOptions{})
	if len(history) != 2 {
		t.Fatalf("expected one adjustment, got %d records", len(history))
	}
}

func TestSetBalance_IdempotencyKeySurvivesBalanceMovement(t *testing.T) {
	repo, engine, admin := newTestAdminService()
	issueTokens(t, engine, "creator", 100)

	ref := ptr("admin:ticket-1204")
	if err := admin.SetBalance(context.Background(), testAdmin, "creator", 30, "", ref); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	if _, err := engine.Settle(context.Background(), SettleRequest{Kind: domain.KindRedemption, From: ptr("creator"), Amount: 20}); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	// The retry now sees balance 10, so a fresh computation would be an issuance of 20.
	if err := admin.SetBalance(context.Background(), testAdmin, "creator", 30, "", ref); err != nil {
		t.Fatalf("retry set balance: %v", err)
	}
	if got := mustBalance(t, repo, "creator"); got != 10 {
		t.Fatalf("expected retry to leave balance at 10, got %d", got)
	}

	history, _ := repo.ListTransactionsByAccount(context.Background(), "creator", domain.TransactionListOptions{})
	keyed := 0
	for _, record := range history {
		if record.Reference != nil && *record.Reference == *ref {
			keyed++
			if record.Kind != domain.KindRedemption || record.Amount != 70 {
				t.Fatalf("unexpected keyed record: %+v", record)
			}
		}
	}
	if keyed != 1 {
		t.Fatalf("expected one record under the key, got %d", keyed)
	}
	assertConserved(t, repo)
}

func TestSetBalance_Rejections(t *testing.T) {
	repo, engine, admin := newTestAdminService()
	issueTokens(t, engine, "creator", 10)

	tests := []struct {
		name   string
		caller domain.Identity
		target string
		value  int64
		check  func(error) bool
	}{
		{name: "non admin", caller: domain.Identity{UserID: "creator", Role: domain.RoleCreator}, target: "creator", value: 1000, check: func(err error) bool { return errors.Is(err, domain.ErrUnauthorized) }},
		{name: "negative balance", caller: testAdmin, target: "creator", value: -1, check: domain.IsValidation},
		{name: "blank target", caller: testAdmin, target: " ", value: 5, check: domain.IsValidation},
		{name: "unknown target", caller: testAdmin, target: "ghost", value: 5, check: func(err error) bool { return errors.Is(err, domain.ErrNotFound) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := admin.SetBalance(context.Background(), tt.caller, tt.target, tt.value, "", nil)
			if !tt.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}

	if got := mustBalance(t, repo, "creator"); got != 10 {
		t.Fatalf("expected balance untouched, got %d", got)
	}
	if _, err := repo.FindAccount(context.Background(), "ghost"); !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("expected no account to be created for unknown target, got %v", err)
	}
}

func TestListAccountTransactions_RequiresAdmin(t *testing.T) {
	_, engine, admin := newTestAdminService()
	issueTokens(t, engine, "creator", 10)

	if _, err := admin.ListAccountTransactions(context.Background(), domain.Identity{UserID: "creator", Role: domain.RoleCreator}, "creator", domain.TransactionListOptions{}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	history, err := admin.ListAccountTransactions(context.Background(), testAdmin, "creator", domain.TransactionListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 record, got %d", len(history))
	}
}
