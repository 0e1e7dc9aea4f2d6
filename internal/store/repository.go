/**
 * @description
 * This file defines the `Repository` and `LedgerTx` interfaces, the contract for all
 * data access required by the ledger-service. Balance-mutating writes are only
 * reachable through `LedgerTx`, which exists solely inside `WithinTransaction`, so a
 * balance change and its transaction record always commit together or not at all.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models and error taxonomy.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/olasores/Zariel-Influncer-App-sub001/internal/domain"
)

var (
	ErrAccountNotFound      = fmt.Errorf("account %w", domain.ErrNotFound)
	ErrTransactionNotFound  = fmt.Errorf("transaction %w", domain.ErrNotFound)
	ErrContentNotFound      = fmt.Errorf("content item %w", domain.ErrNotFound)
	ErrPurchaseNotFound     = fmt.Errorf("purchase %w", domain.ErrNotFound)
	ErrSubscriptionNotFound = fmt.Errorf("subscription period %w", domain.ErrNotFound)

	ErrAccountExists     = errors.New("account already exists")
	ErrDuplicateRef      = errors.New("a completed transaction with this kind and reference already exists")
	ErrContentNotActive  = errors.New("content item is no longer active")
	ErrPurchaseInFlight  = errors.New("content item already has a pending or completed purchase")
	ErrPurchaseNotActive = errors.New("purchase is no longer pending")
	ErrNegativeBalance   = errors.New("balance would become negative")
)

// Repository defines the set of methods for interacting with the ledger database.
type Repository interface {
	// Account reads. GetBalance returns ErrAccountNotFound for unknown users.
	GetBalance(ctx context.Context, userID string) (int64, error)
	FindAccount(ctx context.Context, userID string) (*domain.Account, error)
	EnsureAccount(ctx context.Context, userID string) (*domain.Account, error)
	SummarizeWallet(ctx context.Context, userID string) (*domain.WalletSummary, error)

	// Transaction history
	FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error)
	ListTransactionsByAccount(ctx context.Context, userID string, opts domain.TransactionListOptions) ([]domain.Transaction, error)
	LedgerTotals(ctx context.Context) (*domain.LedgerTotals, error)
	FindBalanceDrift(ctx context.Context) ([]domain.BalanceDrift, error)

	// Content catalogue
	CreateContentItem(ctx context.Context, item *domain.ContentItem) error
	FindContentItemByID(ctx context.Context, contentID uuid.UUID) (*domain.ContentItem, error)
	ArchiveContentItem(ctx context.Context, contentID uuid.UUID, ownerID string) (*domain.ContentItem, error)
	CountContentByOwner(ctx context.Context, ownerID string) (map[domain.ContentStatus]int64, error)

	// Purchases
	ReservePurchase(ctx context.Context, purchase *domain.Purchase) error
	FindPurchaseByID(ctx context.Context, purchaseID uuid.UUID) (*domain.Purchase, error)
	MarkPurchaseRefunded(ctx context.Context, purchaseID uuid.UUID) error
	ExpireStalePurchases(ctx context.Context, olderThan time.Time) (int64, error)

	// Subscription periods
	FindSubscriptionPeriod(ctx context.Context, userID string) (*domain.SubscriptionPeriod, error)
	UpsertSubscriptionPeriod(ctx context.Context, period *domain.SubscriptionPeriod) error

	// WithinTransaction runs fn as one atomic unit. If fn returns an error every
	// write made through tx is discarded.
	WithinTransaction(ctx context.Context, fn func(tx LedgerTx) error) error

	Ping(ctx context.Context) error
}

// LedgerTx is the write surface available inside one atomic unit.
type LedgerTx interface {
	// ClaimReference serializes settlements sharing kind and reference and
	// returns the already completed record for them, if any.
	ClaimReference(ctx context.Context, kind domain.TransactionKind, reference string) (*domain.Transaction, error)

	// CreateAccount inserts a zero-balance account; existing accounts are left untouched.
	CreateAccount(ctx context.Context, userID string) error

	// LockAccount locks the account row until the unit ends and returns its balance.
	LockAccount(ctx context.Context, userID string) (int64, error)

	// ApplyBalanceDelta adjusts a locked account. It never lets a balance go negative.
	ApplyBalanceDelta(ctx context.Context, userID string, delta int64) error

	// AppendTransaction stores an immutable record.
	AppendTransaction(ctx context.Context, tx *domain.Transaction) error

	// MarkContentSold moves an item from active to sold, provided owner and price
	// still match what the buyer agreed to.
	MarkContentSold(ctx context.Context, contentID uuid.UUID, sellerID string, price int64) error

	// CompletePurchase moves a pending purchase to completed and links its transaction.
	CompletePurchase(ctx context.Context, purchaseID uuid.UUID, transactionID uuid.UUID) error
}
