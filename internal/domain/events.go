package domain

import (
	"time"

	"github.com/google/uuid"
)

// FundsReceivedEvent is emitted by the payment gateway integration once an external
// token purchase has been paid for.
type FundsReceivedEvent struct {
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id"`
	Tokens     int64     `json:"tokens"`
	Provider   string    `json:"provider"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SettlementNotification informs buyer and seller that a purchase settled.
type SettlementNotification struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	PurchaseID    *uuid.UUID      `json:"purchase_id,omitempty"`
	Kind          TransactionKind `json:"kind"`
	FromAccount   *string         `json:"from_account,omitempty"`
	ToAccount     *string         `json:"to_account,omitempty"`
	Amount        int64           `json:"amount"`
	SettledAt     time.Time       `json:"settled_at"`
}

// OwnershipTransferredEvent asks the content collaborator to hand the asset to the buyer.
type OwnershipTransferredEvent struct {
	PurchaseID    uuid.UUID `json:"purchase_id"`
	ContentID     uuid.UUID `json:"content_id"`
	PreviousOwner string    `json:"previous_owner"`
	NewOwner      string    `json:"new_owner"`
	TransferredAt time.Time `json:"transferred_at"`
}
