package app

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/olasores/Zariel-Influncer-App-sub001/internal/domain"
	"github.com/olasores/Zariel-Influncer-App-sub001/pkg/rabbitmq"
)

type publisherStub struct {
	rabbitmq.Publisher

	settlements []domain.SettlementNotification
	transfers   []domain.OwnershipTransferredEvent
}

func (p *publisherStub) PublishSettlement(ctx context.Context, event domain.SettlementNotification) error {
	p.settlements = append(p.settlements, event)
	return nil
}

func (p *publisherStub) PublishOwnershipTransferred(ctx context.Context, event domain.OwnershipTransferredEvent) error {
	p.transfers = append(p.transfers, event)
	return nil
}

func TestEventHooks_PublishesPurchaseEvents(t *testing.T) {
	publisher := &publisherStub{}
	hooks := NewEventHooks(publisher)

	purchase := &domain.Purchase{ID: uuid.New(), ContentID: uuid.New(), SellerID: "seller", BuyerID: "buyer", TokensPaid: 12}
	item := &domain.ContentItem{ID: purchase.ContentID, OwnerID: "seller"}
	record := &domain.Transaction{ID: uuid.New(), Kind: domain.KindPurchase, FromAccount: ptr("buyer"), ToAccount: ptr("seller"), Amount: 12}

	if err := hooks.OwnershipTransferred(context.Background(), purchase, item); err != nil {
		t.Fatalf("ownership hook: %v", err)
	}
	if err := hooks.NotifySettled(context.Background(), record, purchase); err != nil {
		t.Fatalf("notify hook: %v", err)
	}

	if len(publisher.transfers) != 1 {
		t.Fatalf("expected one ownership event, got %d", len(publisher.transfers))
	}
	transfer := publisher.transfers[0]
	if transfer.PreviousOwner != "seller" || transfer.NewOwner != "buyer" || transfer.ContentID != item.ID {
		t.Fatalf("unexpected ownership event: %+v", transfer)
	}

	if len(publisher.settlements) != 1 {
		t.Fatalf("expected one settlement event, got %d", len(publisher.settlements))
	}
	settled := publisher.settlements[0]
	if settled.TransactionID != record.ID || settled.PurchaseID == nil || *settled.PurchaseID != purchase.ID || settled.Amount != 12 {
		t.Fatalf("unexpected settlement event: %+v", settled)
	}
}
