package domain

import (
	"time"

	"github.com/google/uuid"
)

// ContentStatus is the sale state of a content item.
type ContentStatus string

const (
	ContentActive   ContentStatus = "active"
	ContentSold     ContentStatus = "sold"
	ContentArchived ContentStatus = "archived"
)

// ContentItem is a sellable unit (video or asset). Once sold, price and owner are frozen.
type ContentItem struct {
	ID          uuid.UUID     `json:"id"`
	OwnerID     string        `json:"owner_id"`
	Title       string        `json:"title"`
	PriceTokens int64         `json:"price_tokens"`
	Status      ContentStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Purchasable reports whether the item may currently be bought.
func (c *ContentItem) Purchasable() bool {
	return c.Status == ContentActive
}

// PurchaseStatus is the lifecycle state of a purchase.
type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseCompleted PurchaseStatus = "completed"
	PurchaseRefunded  PurchaseStatus = "refunded"
)

// Purchase binds the sale of a content item to the ledger transaction that paid for it.
type Purchase struct {
	ID            uuid.UUID      `json:"id"`
	ContentID     uuid.UUID      `json:"content_id"`
	SellerID      string         `json:"seller_id"`
	BuyerID       string         `json:"buyer_id"`
	TokensPaid    int64          `json:"tokens_paid"`
	Status        PurchaseStatus `json:"status"`
	TransactionID *uuid.UUID     `json:"transaction_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// SubscriptionStatus is the billing state of a subscription period.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

// SubscriptionPeriod gates upload capability for company and creator accounts.
type SubscriptionPeriod struct {
	UserID           string             `json:"user_id"`
	CurrentPeriodEnd time.Time          `json:"current_period_end"`
	Status           SubscriptionStatus `json:"status"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// AllowsUploadAt reports whether the period is still running at now.
// Only the period end is consulted; a cancelled subscription keeps its paid-up time.
func (s *SubscriptionPeriod) AllowsUploadAt(now time.Time) bool {
	return s.CurrentPeriodEnd.After(now)
}

// CreateContentRequest is the DTO for listing a new content item.
type CreateContentRequest struct {
	Title       string `json:"title"`
	PriceTokens int64  `json:"price_tokens"`
}

// PurchaseRequest is the DTO for buying a content item.
type PurchaseRequest struct {
	BuyerID   string    `json:"buyer_id"`
	ContentID uuid.UUID `json:"content_id"`
}

// AdjustBalanceRequest is the DTO for an admin balance correction.
type AdjustBalanceRequest struct {
	UserID     string `json:"user_id"`
	NewBalance *int64 `json:"new_balance"`
	Notes      string `json:"notes"`
}

// UpsertSubscriptionRequest is the DTO billing uses to record a subscription period.
type UpsertSubscriptionRequest struct {
	CurrentPeriodEnd time.Time          `json:"current_period_end"`
	Status           SubscriptionStatus `json:"status"`
}

// InternalSettlementRequest is the DTO for server-to-server settlements.
type InternalSettlementRequest struct {
	Kind      TransactionKind `json:"kind"`
	From      *string         `json:"from,omitempty"`
	To        *string         `json:"to,omitempty"`
	Amount    int64           `json:"amount"`
	Reference *string         `json:"reference,omitempty"`
	Notes     string          `json:"notes,omitempty"`
}
