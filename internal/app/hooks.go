package app

import (
	"context"
	"time"

	"github.com/olasores/Zariel-Influncer-App-sub001/internal/domain"
	"github.com/olasores/Zariel-Influncer-App-sub001/pkg/rabbitmq"
)

// EventHooks publishes post-settlement events to RabbitMQ. It satisfies both
// OwnershipHook and SettlementNotifier.
type EventHooks struct {
	producer rabbitmq.Publisher
	timeout  time.Duration
}

func NewEventHooks(producer rabbitmq.Publisher) *EventHooks {
	return &EventHooks{producer: producer, timeout: 5 * time.Second}
}

func (h *EventHooks) OwnershipTransferred(ctx context.Context, purchase *domain.Purchase, item *domain.ContentItem) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cancel()

	return h.producer.PublishOwnershipTransferred(ctx, domain.OwnershipTransferredEvent{
		PurchaseID:    purchase.ID,
		ContentID:     item.ID,
		PreviousOwner: purchase.SellerID,
		NewOwner:      purchase.BuyerID,
		TransferredAt: time.Now().UTC(),
	})
}

func (h *EventHooks) NotifySettled(ctx context.Context, record *domain.Transaction, purchase *domain.Purchase) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cancel()

	event := domain.SettlementNotification{
		TransactionID: record.ID,
		Kind:          record.Kind,
		FromAccount:   record.FromAccount,
		ToAccount:     record.ToAccount,
		Amount:        record.Amount,
		SettledAt:     record.CreatedAt,
	}
	if purchase != nil {
		event.PurchaseID = &purchase.ID
	}
	return h.producer.PublishSettlement(ctx, event)
}
