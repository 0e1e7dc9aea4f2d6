/**
 * @description
 * This file contains the account-facing business logic for the ledger-service:
 * wallets, transaction history, upload entitlement, the content catalogue and
 * the per-role overview.
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

const maxContentTitleLength = 200

// Entitlement is the upload capability view for one user.
type Entitlement struct {
	UserID           string     `json:"user_id"`
	CanUpload        bool       `json:"can_upload"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
}

// Overview is the role-specific dashboard payload.
type Overview struct {
	Role        domain.Role                    `json:"role"`
	Wallet      *domain.WalletSummary          `json:"wallet"`
	Listings    map[domain.ContentStatus]int64 `json:"listings,omitempty"`
	Entitlement *Entitlement                   `json:"entitlement,omitempty"`
	Ledger      *domain.LedgerTotals           `json:"ledger,omitempty"`
}

// Service provides the account-facing use cases.
type Service struct {
	repo   store.Repository
	engine *Engine
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new ledger service instance.
func NewService(repo store.Repository, engine *Engine, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		engine: engine,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GetWallet returns the caller's balance and derived totals, opening the account on first use.
func (s *Service) GetWallet(ctx context.Context, userID string) (*domain.WalletSummary, error) {
	if _, err := s.repo.EnsureAccount(ctx, userID); err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}
	return s.repo.SummarizeWallet(ctx, userID)
}

// ListTransactions returns the caller's history, newest first.
func (s *Service) ListTransactions(ctx context.Context, userID string, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	return s.repo.ListTransactionsByAccount(ctx, userID, opts)
}

// CheckUploadEntitlement reports whether userID currently has a running subscription
// period. It is evaluated against the clock on every call.
func (s *Service) CheckUploadEntitlement(ctx context.Context, userID string) (bool, error) {
	entitlement, err := s.Entitlement(ctx, userID)
	if err != nil {
		return false, err
	}
	return entitlement.CanUpload, nil
}

// Entitlement returns the full entitlement view for userID.
func (s *Service) Entitlement(ctx context.Context, userID string) (*Entitlement, error) {
	result := &Entitlement{UserID: userID}
	period, err := s.repo.FindSubscriptionPeriod(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			return result, nil
		}
		return nil, err
	}
	end := period.CurrentPeriodEnd
	result.CurrentPeriodEnd = &end
	result.CanUpload = period.AllowsUploadAt(s.now())
	return result, nil
}

// UpsertSubscription records the billing collaborator's view of a subscription period.
func (s *Service) UpsertSubscription(ctx context.Context, userID string, req domain.UpsertSubscriptionRequest) (*domain.SubscriptionPeriod, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.NewValidationError("user_id", "is required")
	}
	if req.CurrentPeriodEnd.IsZero() {
		return nil, domain.NewValidationError("current_period_end", "is required")
	}
	switch req.Status {
	case domain.SubscriptionActive, domain.SubscriptionCancelled, domain.SubscriptionExpired:
	case "":
		req.Status = domain.SubscriptionActive
	default:
		return nil, domain.NewValidationError("status", fmt.Sprintf("unknown subscription status %q", req.Status))
	}

	period := &domain.SubscriptionPeriod{
		UserID:           userID,
		CurrentPeriodEnd: req.CurrentPeriodEnd.UTC(),
		Status:           req.Status,
	}
	if err := s.repo.UpsertSubscriptionPeriod(ctx, period); err != nil {
		return nil, err
	}
	s.logger.Info("subscription period recorded", "user_id", userID, "period_end", period.CurrentPeriodEnd, "status", period.Status)
	return period, nil
}

// CreateContent lists a new item owned by the caller. Listing requires an active
// upload entitlement.
func (s *Service) CreateContent(ctx context.Context, caller domain.Identity, req domain.CreateContentRequest) (*domain.ContentItem, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, domain.NewValidationError("title", "is required")
	}
	if len(title) > maxContentTitleLength {
		return nil, domain.NewValidationError("title", fmt.Sprintf("must be at most %d characters", maxContentTitleLength))
	}
	if req.PriceTokens <= 0 {
		return nil, domain.NewValidationError("price_tokens", "must be a positive whole number of tokens")
	}

	allowed, err := s.CheckUploadEntitlement(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, domain.ErrUploadNotEntitled
	}

	item := &domain.ContentItem{
		ID:          uuid.New(),
		OwnerID:     caller.UserID,
		Title:       title,
		PriceTokens: req.PriceTokens,
		Status:      domain.ContentActive,
	}
	if err := s.repo.CreateContentItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// GetContent returns a single content item.
func (s *Service) GetContent(ctx context.Context, contentID uuid.UUID) (*domain.ContentItem, error) {
	return s.repo.FindContentItemByID(ctx, contentID)
}

// ArchiveContent withdraws an owner's active item from sale.
func (s *Service) ArchiveContent(ctx context.Context, caller domain.Identity, contentID uuid.UUID) (*domain.ContentItem, error) {
	item, err := s.repo.ArchiveContentItem(ctx, contentID, caller.UserID)
	if err != nil {
		if errors.Is(err, store.ErrContentNotActive) {
			return nil, domain.ErrNotPurchasable
		}
		return nil, err
	}
	return item, nil
}

// SettleInternal runs a server-to-server settlement on behalf of a trusted collaborator.
func (s *Service) SettleInternal(ctx context.Context, req domain.InternalSettlementRequest) (*domain.Transaction, error) {
	return s.engine.Settle(ctx, SettleRequest{
		Kind:        req.Kind,
		From:        req.From,
		To:          req.To,
		Amount:      req.Amount,
		Reference:   req.Reference,
		Notes:       req.Notes,
		InitiatedBy: domain.System.UserID,
	})
}

type overviewHandler func(s *Service, ctx context.Context, caller domain.Identity, out *Overview) error

var overviewHandlers = map[domain.Role]overviewHandler{
	domain.RoleCreator: creatorOverview,
	domain.RoleCompany: companyOverview,
	domain.RoleAdmin:   adminOverview,
}

// Overview builds the dashboard for the caller's role.
func (s *Service) Overview(ctx context.Context, caller domain.Identity) (*Overview, error) {
	handler, ok := overviewHandlers[caller.Role]
	if !ok {
		return nil, domain.NewValidationError("role", fmt.Sprintf("unsupported role %q", caller.Role))
	}

	wallet, err := s.GetWallet(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	out := &Overview{Role: caller.Role, Wallet: wallet}
	if err := handler(s, ctx, caller, out); err != nil {
		return nil, err
	}
	return out, nil
}

func creatorOverview(s *Service, ctx context.Context, caller domain.Identity, out *Overview) error {
	counts, err := s.repo.CountContentByOwner(ctx, caller.UserID)
	if err != nil {
		return err
	}
	out.Listings = counts
	return nil
}

func companyOverview(s *Service, ctx context.Context, caller domain.Identity, out *Overview) error {
	entitlement, err := s.Entitlement(ctx, caller.UserID)
	if err != nil {
		return err
	}
	out.Entitlement = entitlement
	return nil
}

func adminOverview(s *Service, ctx context.Context, caller domain.Identity, out *Overview) error {
	totals, err := s.repo.LedgerTotals(ctx)
	if err != nil {
		return err
	}
	out.Ledger = totals
	return nil
}
