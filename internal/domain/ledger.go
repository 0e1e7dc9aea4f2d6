/**
 * @description
 * This file defines the core ledger models for the ledger-service: accounts holding
 * Zaryo token balances and the immutable transaction records that move them.
 *
 * @notes
 * - Amounts are whole tokens stored as `int64`.
 * - A transaction's amount reaches balances only when its status is `completed`,
 *   and it does so exactly once.
 */

package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TransactionKind classifies what a ledger transaction settles.
type TransactionKind string

const (
	KindPurchase          TransactionKind = "purchase"
	KindRedemption        TransactionKind = "redemption"
	KindIssuance          TransactionKind = "issuance"
	KindEcosystemPurchase TransactionKind = "ecosystem_purchase"
)

// Valid reports whether k is one of the known kinds.
func (k TransactionKind) Valid() bool {
	switch k {
	case KindPurchase, KindRedemption, KindIssuance, KindEcosystemPurchase:
		return true
	default:
		return false
	}
}

// TransactionStatus is the lifecycle state of a ledger transaction.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionCompleted || s == TransactionFailed
}

// Account is a user's token wallet. There is exactly one per user identity.
type Account struct {
	UserID    string    `json:"user_id"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction is the append-only ledger record for any balance movement.
// This struct maps directly to the `ledger_transactions` table.
type Transaction struct {
	ID          uuid.UUID         `json:"id"`
	FromAccount *string           `json:"from_account,omitempty"`
	ToAccount   *string           `json:"to_account,omitempty"`
	Amount      int64             `json:"amount"`
	Kind        TransactionKind   `json:"kind"`
	Status      TransactionStatus `json:"status"`
	Reference   *string           `json:"reference,omitempty"`
	Notes       string            `json:"notes,omitempty"`
	InitiatedBy string            `json:"initiated_by,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// NewPendingTransaction builds an unsaved transaction in the pending state.
func NewPendingTransaction(kind TransactionKind, from, to *string, amount int64, reference *string) *Transaction {
	return &Transaction{
		ID:          uuid.New(),
		FromAccount: from,
		ToAccount:   to,
		Amount:      amount,
		Kind:        kind,
		Status:      TransactionPending,
		Reference:   reference,
		CreatedAt:   time.Now().UTC(),
	}
}

// Transition moves the transaction to next. Terminal states never change again.
func (t *Transaction) Transition(next TransactionStatus) error {
	if t.Status == next {
		return nil
	}
	if t.Status.Terminal() {
		return fmt.Errorf("transaction %s is %s and cannot become %s", t.ID, t.Status, next)
	}
	if next == TransactionPending {
		return fmt.Errorf("transaction %s cannot return to pending", t.ID)
	}
	t.Status = next
	return nil
}

// SignedAmountFor returns the balance effect of t on userID: negative when the
// account is the source, positive when it is the destination.
func (t *Transaction) SignedAmountFor(userID string) int64 {
	var delta int64
	if t.FromAccount != nil && *t.FromAccount == userID {
		delta -= t.Amount
	}
	if t.ToAccount != nil && *t.ToAccount == userID {
		delta += t.Amount
	}
	return delta
}

// TransactionListOptions controls pagination for history queries.
type TransactionListOptions struct {
	Limit  int
	Offset int
}

// Normalize clamps the options to the supported page sizes.
func (o TransactionListOptions) Normalize() TransactionListOptions {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// WalletSummary is the display view of an account. TotalEarned and TotalSpent
// are aggregated from completed transactions, never stored.
type WalletSummary struct {
	UserID      string `json:"user_id"`
	Balance     int64  `json:"balance"`
	TotalEarned int64  `json:"total_earned"`
	TotalSpent  int64  `json:"total_spent"`
}

// LedgerTotals aggregates completed amounts across the whole ledger by kind.
type LedgerTotals struct {
	Issued       int64 `json:"issued"`
	Redeemed     int64 `json:"redeemed"`
	Purchases    int64 `json:"purchases"`
	Ecosystem    int64 `json:"ecosystem"`
	SumBalances  int64 `json:"sum_balances"`
	AccountCount int64 `json:"account_count"`
}

// Conserved reports whether balances account for exactly the tokens issued minus
// those redeemed. Transfers between accounts net to zero.
func (t LedgerTotals) Conserved() bool {
	return t.SumBalances == t.Issued-t.Redeemed
}

// BalanceDrift records an account whose stored balance disagrees with its history.
type BalanceDrift struct {
	UserID          string `json:"user_id"`
	StoredBalance   int64  `json:"stored_balance"`
	ComputedBalance int64  `json:"computed_balance"`
}
