/**
 * @description
 * This file contains the settlement service, which turns a buyer's request for a
 * content item into a completed purchase. The item flips to `sold` in the same
 * atomic unit as the token transfer, so an item is never sold without payment and
 * never paid for twice.
 *
 * @dependencies
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/olasores/Zariel-Influncer-App-sub001/internal/domain"
	"github.com/olasores/Zariel-Influncer-App-sub001/internal/store"
)

// OwnershipHook hands a sold item to its buyer in the content collaborator.
type OwnershipHook interface {
	OwnershipTransferred(ctx context.Context, purchase *domain.Purchase, item *domain.ContentItem) error
}

// SettlementNotifier tells buyer and seller that a purchase settled.
type SettlementNotifier interface {
	NotifySettled(ctx context.Context, record *domain.Transaction, purchase *domain.Purchase) error
}

// SettlementService coordinates content purchases.
type SettlementService struct {
	repo      store.Repository
	engine    *Engine
	ownership OwnershipHook
	notifier  SettlementNotifier
	logger    *slog.Logger
}

// NewSettlementService creates a new settlement service. Hooks may be nil.
func NewSettlementService(repo store.Repository, engine *Engine, ownership OwnershipHook, notifier SettlementNotifier, logger *slog.Logger) *SettlementService {
	return &SettlementService{
		repo:      repo,
		engine:    engine,
		ownership: ownership,
		notifier:  notifier,
		logger:    logger,
	}
}

// PurchaseContent buys contentID on behalf of buyerID, who must be the caller.
func (s *SettlementService) PurchaseContent(ctx context.Context, caller domain.Identity, buyerID string, contentID uuid.UUID) (*domain.Purchase, error) {
	buyerID = strings.TrimSpace(buyerID)
	if buyerID == "" {
		return nil, domain.NewValidationError("buyer_id", "is required")
	}
	if contentID == uuid.Nil {
		return nil, domain.NewValidationError("content_id", "is required")
	}
	if caller.UserID == "" || caller.UserID != buyerID {
		return nil, fmt.Errorf("%w: buyer does not match the authenticated user", domain.ErrUnauthorized)
	}

	item, err := s.repo.FindContentItemByID(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if !item.Purchasable() {
		return nil, domain.ErrNotPurchasable
	}
	if item.OwnerID == buyerID {
		return nil, domain.ErrSelfPurchase
	}
	if item.PriceTokens <= 0 {
		return nil, domain.NewValidationError("price_tokens", "item has no positive price")
	}

	purchase := &domain.Purchase{
		ID:         uuid.New(),
		ContentID:  item.ID,
		SellerID:   item.OwnerID,
		BuyerID:    buyerID,
		TokensPaid: item.PriceTokens,
	}
	if err := s.repo.ReservePurchase(ctx, purchase); err != nil {
		if errors.Is(err, store.ErrPurchaseInFlight) || errors.Is(err, store.ErrContentNotActive) {
			s.logger.Info("purchase rejected as race", "content_id", contentID, "buyer_id", buyerID, "reason", err.Error())
			return nil, domain.ErrNotPurchasable
		}
		return nil, fmt.Errorf("reserve purchase: %w", err)
	}

	record, err := s.engine.SettleWithin(ctx, SettleRequest{
		Kind:        domain.KindPurchase,
		From:        ptr(buyerID),
		To:          ptr(item.OwnerID),
		Amount:      item.PriceTokens,
		Reference:   ptr(purchase.ID.String()),
		Notes:       "content purchase " + item.ID.String(),
		InitiatedBy: caller.UserID,
	}, func(ctx context.Context, tx store.LedgerTx, record *domain.Transaction) error {
		if err := tx.MarkContentSold(ctx, item.ID, item.OwnerID, item.PriceTokens); err != nil {
			if errors.Is(err, store.ErrContentNotActive) {
				return domain.ErrNotPurchasable
			}
			return err
		}
		if err := tx.CompletePurchase(ctx, purchase.ID, record.ID); err != nil {
			if errors.Is(err, store.ErrPurchaseNotActive) {
				return domain.ErrNotPurchasable
			}
			return err
		}
		return nil
	})
	if err != nil {
		// Use a detached context so a cancelled request still releases the item.
		if refundErr := s.repo.MarkPurchaseRefunded(context.WithoutCancel(ctx), purchase.ID); refundErr != nil {
			s.logger.Error("failed to release purchase after settlement error", "purchase_id", purchase.ID, "error", refundErr)
		}
		return nil, err
	}

	purchase.Status = domain.PurchaseCompleted
	purchase.TransactionID = ptr(record.ID)
	purchase.UpdatedAt = time.Now().UTC()
	item.Status = domain.ContentSold

	s.runHooks(ctx, record, purchase, item)
	return purchase, nil
}

// runHooks fires the post-commit collaborators. Their failures never undo the sale.
func (s *SettlementService) runHooks(ctx context.Context, record *domain.Transaction, purchase *domain.Purchase, item *domain.ContentItem) {
	if s.ownership != nil {
		if err := s.ownership.OwnershipTransferred(ctx, purchase, item); err != nil {
			s.logger.Error("ownership transfer hook failed", "purchase_id", purchase.ID, "content_id", item.ID, "error", err)
		}
	}
	if s.notifier != nil {
		if err := s.notifier.NotifySettled(ctx, record, purchase); err != nil {
			s.logger.Error("settlement notification failed", "purchase_id", purchase.ID, "transaction_id", record.ID, "error", err)
		}
	}
}
