/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Balance locking uses row-level `SELECT ... FOR UPDATE`; idempotent settlement
 * references are serialized with transaction-scoped advisory locks.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/olasores/Zariel-Influncer-App-sub001/internal/domain"
)

const (
	pgUniqueViolation     = "23505"
	pgCheckViolation      = "23514"
	pgSerializationFailed = "40001"
	pgDeadlockDetected    = "40P01"
)

const transactionColumns = `id, from_account, to_account, amount, kind, status, reference, notes, initiated_by, created_at`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var kind, status string
	err := row.Scan(
		&tx.ID,
		&tx.FromAccount,
		&tx.ToAccount,
		&tx.Amount,
		&kind,
		&status,
		&tx.Reference,
		&tx.Notes,
		&tx.InitiatedBy,
		&tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	tx.Kind = domain.TransactionKind(kind)
	tx.Status = domain.TransactionStatus(status)
	return &tx, nil
}

func scanContentItem(row rowScanner) (*domain.ContentItem, error) {
	var item domain.ContentItem
	var status string
	if err := row.Scan(&item.ID, &item.OwnerID, &item.Title, &item.PriceTokens, &status, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	item.Status = domain.ContentStatus(status)
	return &item, nil
}

// IsRetryablePgError reports whether err is a serialization failure or deadlock.
func IsRetryablePgError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailed || pgErr.Code == pgDeadlockDetected
	}
	return false
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// GetBalance returns the stored balance for a user's account.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx, `SELECT balance FROM ledger_accounts WHERE user_id = $1`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return balance, nil
}

// FindAccount retrieves a user's account.
func (r *PostgresRepository) FindAccount(ctx context.Context, userID string) (*domain.Account, error) {
	var account domain.Account
	query := `SELECT user_id, balance, created_at, updated_at FROM ledger_accounts WHERE user_id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(&account.UserID, &account.Balance, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// EnsureAccount returns the user's account, creating it with a zero balance on first use.
func (r *PostgresRepository) EnsureAccount(ctx context.Context, userID string) (*domain.Account, error) {
	if _, err := r.db.Exec(ctx, `INSERT INTO ledger_accounts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return nil, err
	}
	return r.FindAccount(ctx, userID)
}

// SummarizeWallet derives earned and spent totals from completed transactions.
func (r *PostgresRepository) SummarizeWallet(ctx context.Context, userID string) (*domain.WalletSummary, error) {
	summary := domain.WalletSummary{UserID: userID}
	query := `
		SELECT a.balance,
		       COALESCE((SELECT SUM(amount) FROM ledger_transactions
		                 WHERE to_account = a.user_id AND status = 'completed'), 0) AS earned,
		       COALESCE((SELECT SUM(amount) FROM ledger_transactions
		                 WHERE from_account = a.user_id AND status = 'completed'), 0) AS spent
		FROM ledger_accounts a
		WHERE a.user_id = $1
	`
	err := r.db.QueryRow(ctx, query, userID).Scan(&summary.Balance, &summary.TotalEarned, &summary.TotalSpent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &summary, nil
}

// FindTransactionByID retrieves a single ledger transaction.
func (r *PostgresRepository) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	row := r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM ledger_transactions WHERE id = $1`, transactionID)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

// ListTransactionsByAccount retrieves transactions touching userID on either side, newest first.
func (r *PostgresRepository) ListTransactionsByAccount(ctx context.Context, userID string, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	opts = opts.Normalize()
	query := `
		SELECT ` + transactionColumns + `
		FROM ledger_transactions
		WHERE from_account = $1 OR to_account = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, userID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]domain.Transaction, 0, opts.Limit)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	return transactions, rows.Err()
}

// LedgerTotals aggregates completed amounts per kind alongside the sum of balances.
func (r *PostgresRepository) LedgerTotals(ctx context.Context) (*domain.LedgerTotals, error) {
	var totals domain.LedgerTotals
	query := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE kind = 'issuance'), 0),
			COALESCE(SUM(amount) FILTER (WHERE kind = 'redemption'), 0),
			COALESCE(SUM(amount) FILTER (WHERE kind = 'purchase'), 0),
			COALESCE(SUM(amount) FILTER (WHERE kind = 'ecosystem_purchase'), 0)
		FROM ledger_transactions
		WHERE status = 'completed'
	`
	err := r.db.QueryRow(ctx, query).Scan(&totals.Issued, &totals.Redeemed, &totals.Purchases, &totals.Ecosystem)
	if err != nil {
		return nil, err
	}
	err = r.db.QueryRow(ctx, `SELECT COALESCE(SUM(balance), 0), COUNT(*) FROM ledger_accounts`).Scan(&totals.SumBalances, &totals.AccountCount)
	if err != nil {
		return nil, err
	}
	return &totals, nil
}

// FindBalanceDrift returns every account whose balance differs from its completed history.
func (r *PostgresRepository) FindBalanceDrift(ctx context.Context) ([]domain.BalanceDrift, error) {
	query := `
		WITH movements AS (
			SELECT to_account AS user_id, amount AS delta
			FROM ledger_transactions WHERE status = 'completed' AND to_account IS NOT NULL
			UNION ALL
			SELECT from_account AS user_id, -amount AS delta
			FROM ledger_transactions WHERE status = 'completed' AND from_account IS NOT NULL
		)
		SELECT a.user_id, a.balance, COALESCE(SUM(m.delta), 0) AS computed
		FROM ledger_accounts a
		LEFT JOIN movements m ON m.user_id = a.user_id
		GROUP BY a.user_id, a.balance
		HAVING a.balance <> COALESCE(SUM(m.delta), 0)
		ORDER BY a.user_id
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drift []domain.BalanceDrift
	for rows.Next() {
		var d domain.BalanceDrift
		if err := rows.Scan(&d.UserID, &d.StoredBalance, &d.ComputedBalance); err != nil {
			return nil, err
		}
		drift = append(drift, d)
	}
	return drift, rows.Err()
}

// CreateContentItem inserts a new content item.
func (r *PostgresRepository) CreateContentItem(ctx context.Context, item *domain.ContentItem) error {
	query := `
		INSERT INTO content_items (id, owner_id, title, price_tokens, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query, item.ID, item.OwnerID, item.Title, item.PriceTokens, string(item.Status)).
		Scan(&item.CreatedAt, &item.UpdatedAt)
}

// FindContentItemByID retrieves a content item.
func (r *PostgresRepository) FindContentItemByID(ctx context.Context, contentID uuid.UUID) (*domain.ContentItem, error) {
	query := `SELECT id, owner_id, title, price_tokens, status, created_at, updated_at FROM content_items WHERE id = $1`
	item, err := scanContentItem(r.db.QueryRow(ctx, query, contentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrContentNotFound
		}
		return nil, err
	}
	return item, nil
}

// ArchiveContentItem withdraws an owner's active item from sale.
func (r *PostgresRepository) ArchiveContentItem(ctx context.Context, contentID uuid.UUID, ownerID string) (*domain.ContentItem, error) {
	query := `
		UPDATE content_items
		SET status = 'archived', updated_at = NOW()
		WHERE id = $1 AND owner_id = $2 AND status = 'active'
		  AND NOT EXISTS (SELECT 1 FROM purchases p WHERE p.content_id = $1 AND p.status = 'pending')
		RETURNING id, owner_id, title, price_tokens, status, created_at, updated_at
	`
	item, err := scanContentItem(r.db.QueryRow(ctx, query, contentID, ownerID))
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	existing, findErr := r.FindContentItemByID(ctx, contentID)
	if findErr != nil {
		return nil, findErr
	}
	if existing.OwnerID != ownerID {
		return nil, ErrContentNotFound
	}
	return nil, ErrContentNotActive
}

// CountContentByOwner returns the owner's item counts keyed by status.
func (r *PostgresRepository) CountContentByOwner(ctx context.Context, ownerID string) (map[domain.ContentStatus]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM content_items WHERE owner_id = $1 GROUP BY status`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[domain.ContentStatus]int64{
		domain.ContentActive:   0,
		domain.ContentSold:     0,
		domain.ContentArchived: 0,
	}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[domain.ContentStatus(status)] = count
	}
	return counts, rows.Err()
}

// ReservePurchase inserts a pending purchase. The insert only succeeds while the item
// is active and has no other pending or completed purchase against it.
func (r *PostgresRepository) ReservePurchase(ctx context.Context, purchase *domain.Purchase) error {
	query := `
		INSERT INTO purchases (id, content_id, seller_id, buyer_id, tokens_paid, status)
		SELECT $1, c.id, $3, $4, $5, 'pending'
		FROM content_items c
		WHERE c.id = $2 AND c.status = 'active' AND c.owner_id = $3 AND c.price_tokens = $5
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		purchase.ID,
		purchase.ContentID,
		purchase.SellerID,
		purchase.BuyerID,
		purchase.TokensPaid,
	).Scan(&purchase.CreatedAt, &purchase.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrContentNotActive
		}
		if isPgCode(err, pgUniqueViolation) {
			return ErrPurchaseInFlight
		}
		return err
	}
	purchase.Status = domain.PurchasePending
	return nil
}

// FindPurchaseByID retrieves a purchase.
func (r *PostgresRepository) FindPurchaseByID(ctx context.Context, purchaseID uuid.UUID) (*domain.Purchase, error) {
	var p domain.Purchase
	var status string
	query := `
		SELECT id, content_id, seller_id, buyer_id, tokens_paid, status, transaction_id, created_at, updated_at
		FROM purchases WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, purchaseID).Scan(
		&p.ID, &p.ContentID, &p.SellerID, &p.BuyerID, &p.TokensPaid, &status, &p.TransactionID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPurchaseNotFound
		}
		return nil, err
	}
	p.Status = domain.PurchaseStatus(status)
	return &p, nil
}

// MarkPurchaseRefunded releases a pending purchase. Completed purchases are never touched.
func (r *PostgresRepository) MarkPurchaseRefunded(ctx context.Context, purchaseID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE purchases SET status = 'refunded', updated_at = NOW() WHERE id = $1 AND status = 'pending'`, purchaseID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, findErr := r.FindPurchaseByID(ctx, purchaseID); findErr != nil {
			return findErr
		}
		return ErrPurchaseNotActive
	}
	return nil
}

// ExpireStalePurchases refunds purchases left pending since before olderThan.
func (r *PostgresRepository) ExpireStalePurchases(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE purchases SET status = 'refunded', updated_at = NOW() WHERE status = 'pending' AND created_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// FindSubscriptionPeriod retrieves a user's current subscription period.
func (r *PostgresRepository) FindSubscriptionPeriod(ctx context.Context, userID string) (*domain.SubscriptionPeriod, error) {
	var sp domain.SubscriptionPeriod
	var status string
	query := `SELECT user_id, current_period_end, status, updated_at FROM subscription_periods WHERE user_id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(&sp.UserID, &sp.CurrentPeriodEnd, &status, &sp.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	sp.Status = domain.SubscriptionStatus(status)
	return &sp, nil
}

// UpsertSubscriptionPeriod creates or replaces a user's subscription period.
func (r *PostgresRepository) UpsertSubscriptionPeriod(ctx context.Context, period *domain.SubscriptionPeriod) error {
	query := `
		INSERT INTO subscription_periods (user_id, current_period_end, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			current_period_end = EXCLUDED.current_period_end,
			status = EXCLUDED.status,
			updated_at = NOW()
		RETURNING updated_at
	`
	return r.db.QueryRow(ctx, query, period.UserID, period.CurrentPeriodEnd, string(period.Status)).Scan(&period.UpdatedAt)
}

// WithinTransaction runs fn inside a single database transaction.
func (r *PostgresRepository) WithinTransaction(ctx context.Context, fn func(tx LedgerTx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgLedgerTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Ping checks database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

type pgLedgerTx struct {
	tx pgx.Tx
}

func (t *pgLedgerTx) ClaimReference(ctx context.Context, kind domain.TransactionKind, reference string) (*domain.Transaction, error) {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, string(kind)+":"+reference); err != nil {
		return nil, fmt.Errorf("failed to lock reference: %w", err)
	}
	query := `
		SELECT ` + transactionColumns + `
		FROM ledger_transactions
		WHERE kind = $1 AND reference = $2 AND status = 'completed'
	`
	existing, err := scanTransaction(t.tx.QueryRow(ctx, query, string(kind), reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return existing, nil
}

func (t *pgLedgerTx) CreateAccount(ctx context.Context, userID string) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO ledger_accounts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	return err
}

func (t *pgLedgerTx) LockAccount(ctx context.Context, userID string) (int64, error) {
	var balance int64
	// Use FOR UPDATE to lock the row, preventing race conditions.
	err := t.tx.QueryRow(ctx, `SELECT balance FROM ledger_accounts WHERE user_id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return balance, nil
}

func (t *pgLedgerTx) ApplyBalanceDelta(ctx context.Context, userID string, delta int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE ledger_accounts SET balance = balance + $1, updated_at = NOW() WHERE user_id = $2`, delta, userID)
	if err != nil {
		if isPgCode(err, pgCheckViolation) {
			return ErrNegativeBalance
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (t *pgLedgerTx) AppendTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO ledger_transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := t.tx.Exec(ctx, query,
		tx.ID,
		tx.FromAccount,
		tx.ToAccount,
		tx.Amount,
		string(tx.Kind),
		string(tx.Status),
		tx.Reference,
		tx.Notes,
		tx.InitiatedBy,
		tx.CreatedAt,
	)
	if err != nil && isPgCode(err, pgUniqueViolation) {
		return ErrDuplicateRef
	}
	return err
}

func (t *pgLedgerTx) MarkContentSold(ctx context.Context, contentID uuid.UUID, sellerID string, price int64) error {
	query := `
		UPDATE content_items
		SET status = 'sold', updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND owner_id = $2 AND price_tokens = $3
	`
	tag, err := t.tx.Exec(ctx, query, contentID, sellerID, price)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrContentNotActive
	}
	return nil
}

func (t *pgLedgerTx) CompletePurchase(ctx context.Context, purchaseID uuid.UUID, transactionID uuid.UUID) error {
	query := `
		UPDATE purchases
		SET status = 'completed', transaction_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	tag, err := t.tx.Exec(ctx, query, purchaseID, transactionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPurchaseNotActive
	}
	return nil
}
