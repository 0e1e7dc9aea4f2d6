/**
 * @description
 * This file provides an in-memory implementation of the `Repository` interface.
 * It backs STORE_DRIVER=memory for local development and the service test suites.
 *
 * @notes
 * - `WithinTransaction` holds the write lock for the whole unit and stages every
 *   write on an overlay that is only applied when fn returns nil. Calling other
 *   repository methods from inside fn deadlocks; use the supplied LedgerTx only.
 */

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/olasores/Zariel-Influncer-App-sub001/internal/domain"
)

// MemoryRepository keeps the whole ledger in process memory.
type MemoryRepository struct {
	mu            sync.RWMutex
	accounts      map[string]*domain.Account
	transactions  []domain.Transaction
	content       map[uuid.UUID]*domain.ContentItem
	purchases     map[uuid.UUID]*domain.Purchase
	subscriptions map[string]*domain.SubscriptionPeriod
	now           func() time.Time
}

// NewMemoryRepository creates an empty in-memory ledger.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts:      make(map[string]*domain.Account),
		content:       make(map[uuid.UUID]*domain.ContentItem),
		purchases:     make(map[uuid.UUID]*domain.Purchase),
		subscriptions: make(map[string]*domain.SubscriptionPeriod),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) GetBalance(ctx context.Context, userID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[userID]
	if !ok {
		return 0, ErrAccountNotFound
	}
	return account.Balance, nil
}

func (r *MemoryRepository) FindAccount(ctx context.Context, userID string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (r *MemoryRepository) EnsureAccount(ctx context.Context, userID string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[userID]
	if !ok {
		now := r.now()
		account = &domain.Account{UserID: userID, CreatedAt: now, UpdatedAt: now}
		r.accounts[userID] = account
	}
	copied := *account
	return &copied, nil
}

func (r *MemoryRepository) SummarizeWallet(ctx context.Context, userID string) (*domain.WalletSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	summary := &domain.WalletSummary{UserID: userID, Balance: account.Balance}
	for _, tx := range r.transactions {
		if tx.Status != domain.TransactionCompleted {
			continue
		}
		if tx.ToAccount != nil && *tx.ToAccount == userID {
			summary.TotalEarned += tx.Amount
		}
		if tx.FromAccount != nil && *tx.FromAccount == userID {
			summary.TotalSpent += tx.Amount
		}
	}
	return summary, nil
}

func (r *MemoryRepository) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.transactions {
		if r.transactions[i].ID == transactionID {
			copied := r.transactions[i]
			return &copied, nil
		}
	}
	return nil, ErrTransactionNotFound
}

func (r *MemoryRepository) ListTransactionsByAccount(ctx context.Context, userID string, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	opts = opts.Normalize()

	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]domain.Transaction, 0)
	// Newest first: records are appended in commit order.
	for i := len(r.transactions) - 1; i >= 0; i-- {
		tx := r.transactions[i]
		if (tx.FromAccount != nil && *tx.FromAccount == userID) || (tx.ToAccount != nil && *tx.ToAccount == userID) {
			matched = append(matched, tx)
		}
	}
	if opts.Offset >= len(matched) {
		return []domain.Transaction{}, nil
	}
	end := opts.Offset + opts.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[opts.Offset:end], nil
}

func (r *MemoryRepository) LedgerTotals(ctx context.Context) (*domain.LedgerTotals, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	totals := &domain.LedgerTotals{AccountCount: int64(len(r.accounts))}
	for _, account := range r.accounts {
		totals.SumBalances += account.Balance
	}
	for _, tx := range r.transactions {
		if tx.Status != domain.TransactionCompleted {
			continue
		}
		switch tx.Kind {
		case domain.KindIssuance:
			totals.Issued += tx.Amount
		case domain.KindRedemption:
			totals.Redeemed += tx.Amount
		case domain.KindPurchase:
			totals.Purchases += tx.Amount
		case domain.KindEcosystemPurchase:
			totals.Ecosystem += tx.Amount
		}
	}
	return totals, nil
}

func (r *MemoryRepository) FindBalanceDrift(ctx context.Context) ([]domain.BalanceDrift, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	computed := make(map[string]int64, len(r.accounts))
	for _, tx := range r.transactions {
		if tx.Status != domain.TransactionCompleted {
			continue
		}
		if tx.FromAccount != nil {
			computed[*tx.FromAccount] -= tx.Amount
		}
		if tx.ToAccount != nil {
			computed[*tx.ToAccount] += tx.Amount
		}
	}

	var drift []domain.BalanceDrift
	for userID, account := range r.accounts {
		if account.Balance != computed[userID] {
			drift = append(drift, domain.BalanceDrift{
				UserID:          userID,
				StoredBalance:   account.Balance,
				ComputedBalance: computed[userID],
			})
		}
	}
	sort.Slice(drift, func(i, j int) bool { return drift[i].UserID < drift[j].UserID })
	return drift, nil
}

func (r *MemoryRepository) CreateContentItem(ctx context.Context, item *domain.ContentItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	item.CreatedAt = now
	item.UpdatedAt = now
	copied := *item
	r.content[item.ID] = &copied
	return nil
}

func (r *MemoryRepository) FindContentItemByID(ctx context.Context, contentID uuid.UUID) (*domain.ContentItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.content[contentID]
	if !ok {
		return nil, ErrContentNotFound
	}
	copied := *item
	return &copied, nil
}

func (r *MemoryRepository) ArchiveContentItem(ctx context.Context, contentID uuid.UUID, ownerID string) (*domain.ContentItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.content[contentID]
	if !ok || item.OwnerID != ownerID {
		return nil, ErrContentNotFound
	}
	if item.Status != domain.ContentActive || r.hasOpenPurchase(contentID, domain.PurchasePending) {
		return nil, ErrContentNotActive
	}
	item.Status = domain.ContentArchived
	item.UpdatedAt = r.now()
	copied := *item
	return &copied, nil
}

func (r *MemoryRepository) CountContentByOwner(ctx context.Context, ownerID string) (map[domain.ContentStatus]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := map[domain.ContentStatus]int64{
		domain.ContentActive:   0,
		domain.ContentSold:     0,
		domain.ContentArchived: 0,
	}
	for _, item := range r.content {
		if item.OwnerID == ownerID {
			counts[item.Status]++
		}
	}
	return counts, nil
}

func (r *MemoryRepository) hasOpenPurchase(contentID uuid.UUID, statuses ...domain.PurchaseStatus) bool {
	for _, p := range r.purchases {
		if p.ContentID != contentID {
			continue
		}
		for _, s := range statuses {
			if p.Status == s {
				return true
			}
		}
	}
	return false
}

func (r *MemoryRepository) ReservePurchase(ctx context.Context, purchase *domain.Purchase) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.content[purchase.ContentID]
	if !ok || item.Status != domain.ContentActive || item.OwnerID != purchase.SellerID || item.PriceTokens != purchase.TokensPaid {
		return ErrContentNotActive
	}
	if r.hasOpenPurchase(purchase.ContentID, domain.PurchasePending, domain.PurchaseCompleted) {
		return ErrPurchaseInFlight
	}

	now := r.now()
	purchase.Status = domain.PurchasePending
	purchase.CreatedAt = now
	purchase.UpdatedAt = now
	copied := *purchase
	r.purchases[purchase.ID] = &copied
	return nil
}

func (r *MemoryRepository) FindPurchaseByID(ctx context.Context, purchaseID uuid.UUID) (*domain.Purchase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.purchases[purchaseID]
	if !ok {
		return nil, ErrPurchaseNotFound
	}
	copied := *p
	return &copied, nil
}

func (r *MemoryRepository) MarkPurchaseRefunded(ctx context.Context, purchaseID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.purchases[purchaseID]
	if !ok {
		return ErrPurchaseNotFound
	}
	if p.Status != domain.PurchasePending {
		return ErrPurchaseNotActive
	}
	p.Status = domain.PurchaseRefunded
	p.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) ExpireStalePurchases(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired int64
	now := r.now()
	for _, p := range r.purchases {
		if p.Status == domain.PurchasePending && p.CreatedAt.Before(olderThan) {
			p.Status = domain.PurchaseRefunded
			p.UpdatedAt = now
			expired++
		}
	}
	return expired, nil
}

func (r *MemoryRepository) FindSubscriptionPeriod(ctx context.Context, userID string) (*domain.SubscriptionPeriod, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sp, ok := r.subscriptions[userID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	copied := *sp
	return &copied, nil
}

func (r *MemoryRepository) UpsertSubscriptionPeriod(ctx context.Context, period *domain.SubscriptionPeriod) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	period.UpdatedAt = r.now()
	copied := *period
	r.subscriptions[period.UserID] = &copied
	return nil
}

func (r *MemoryRepository) WithinTransaction(ctx context.Context, fn func(tx LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memLedgerTx{
		repo:      r,
		created:   make(map[string]bool),
		balances:  make(map[string]int64),
		sold:      make(map[uuid.UUID]bool),
		completed: make(map[uuid.UUID]uuid.UUID),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

// memLedgerTx stages writes until commit. The repository write lock is held
// for its whole lifetime.
type memLedgerTx struct {
	repo      *MemoryRepository
	created   map[string]bool
	balances  map[string]int64
	appended  []domain.Transaction
	sold      map[uuid.UUID]bool
	completed map[uuid.UUID]uuid.UUID
}

func (t *memLedgerTx) findCompleted(kind domain.TransactionKind, reference string) *domain.Transaction {
	match := func(tx domain.Transaction) bool {
		return tx.Kind == kind && tx.Status == domain.TransactionCompleted &&
			tx.Reference != nil && *tx.Reference == reference
	}
	for i := range t.appended {
		if match(t.appended[i]) {
			copied := t.appended[i]
			return &copied
		}
	}
	for i := range t.repo.transactions {
		if match(t.repo.transactions[i]) {
			copied := t.repo.transactions[i]
			return &copied
		}
	}
	return nil
}

func (t *memLedgerTx) ClaimReference(ctx context.Context, kind domain.TransactionKind, reference string) (*domain.Transaction, error) {
	return t.findCompleted(kind, reference), nil
}

func (t *memLedgerTx) exists(userID string) bool {
	if t.created[userID] {
		return true
	}
	_, ok := t.repo.accounts[userID]
	return ok
}

func (t *memLedgerTx) CreateAccount(ctx context.Context, userID string) error {
	if !t.exists(userID) {
		t.created[userID] = true
	}
	return nil
}

func (t *memLedgerTx) LockAccount(ctx context.Context, userID string) (int64, error) {
	if !t.exists(userID) {
		return 0, ErrAccountNotFound
	}
	return t.balance(userID), nil
}

func (t *memLedgerTx) balance(userID string) int64 {
	if b, ok := t.balances[userID]; ok {
		return b
	}
	if account, ok := t.repo.accounts[userID]; ok {
		return account.Balance
	}
	return 0
}

func (t *memLedgerTx) ApplyBalanceDelta(ctx context.Context, userID string, delta int64) error {
	if !t.exists(userID) {
		return ErrAccountNotFound
	}
	next := t.balance(userID) + delta
	if next < 0 {
		return ErrNegativeBalance
	}
	t.balances[userID] = next
	return nil
}

func (t *memLedgerTx) AppendTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.Status == domain.TransactionCompleted && tx.Reference != nil {
		if t.findCompleted(tx.Kind, *tx.Reference) != nil {
			return ErrDuplicateRef
		}
	}
	t.appended = append(t.appended, *tx)
	return nil
}

func (t *memLedgerTx) MarkContentSold(ctx context.Context, contentID uuid.UUID, sellerID string, price int64) error {
	item, ok := t.repo.content[contentID]
	if !ok || t.sold[contentID] || item.Status != domain.ContentActive || item.OwnerID != sellerID || item.PriceTokens != price {
		return ErrContentNotActive
	}
	t.sold[contentID] = true
	return nil
}

func (t *memLedgerTx) CompletePurchase(ctx context.Context, purchaseID uuid.UUID, transactionID uuid.UUID) error {
	p, ok := t.repo.purchases[purchaseID]
	if !ok {
		return ErrPurchaseNotFound
	}
	if _, done := t.completed[purchaseID]; done || p.Status != domain.PurchasePending {
		return ErrPurchaseNotActive
	}
	t.completed[purchaseID] = transactionID
	return nil
}

func (t *memLedgerTx) commit() {
	r := t.repo
	now := r.now()

	for userID := range t.created {
		r.accounts[userID] = &domain.Account{UserID: userID, CreatedAt: now, UpdatedAt: now}
	}
	for userID, balance := range t.balances {
		account := r.accounts[userID]
		account.Balance = balance
		account.UpdatedAt = now
	}
	r.transactions = append(r.transactions, t.appended...)
	for contentID := range t.sold {
		item := r.content[contentID]
		item.Status = domain.ContentSold
		item.UpdatedAt = now
	}
	for purchaseID, transactionID := range t.completed {
		p := r.purchases[purchaseID]
		id := transactionID
		p.Status = domain.PurchaseCompleted
		p.TransactionID = &id
		p.UpdatedAt = now
	}
}
