package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/olasores/Zariel-Influncer-App-sub001/internal/domain"
)

// FundsReceivedConsumer credits tokens paid for through the payment gateway.
type FundsReceivedConsumer struct {
	engine  *Engine
	logger  *slog.Logger
	timeout time.Duration
}

func NewFundsReceivedConsumer(engine *Engine, logger *slog.Logger) *FundsReceivedConsumer {
	return &FundsReceivedConsumer{engine: engine, logger: logger, timeout: 15 * time.Second}
}

// HandleMessage returns true when the delivery should be acknowledged. Malformed
// events are dropped; only system failures are requeued.
func (c *FundsReceivedConsumer) HandleMessage(body []byte) bool {
	var event domain.FundsReceivedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Warn("funds-consumer: failed to unmarshal payload", "error", err)
		return true
	}

	event.EventID = strings.TrimSpace(event.EventID)
	event.UserID = strings.TrimSpace(event.UserID)
	if event.EventID == "" || event.UserID == "" {
		c.logger.Warn("funds-consumer: event missing identifiers; dropping", "event_id", event.EventID, "user_id", event.UserID)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.processEvent(ctx, event); err != nil {
		if domain.IsValidation(err) || domain.IsBusinessRejection(err) {
			c.logger.Warn("funds-consumer: event rejected; dropping", "event_id", event.EventID, "reason", err.Error())
			return true
		}
		c.logger.Error("funds-consumer: processing error", "event_id", event.EventID, "error", err)
		return false
	}
	return true
}

func (c *FundsReceivedConsumer) processEvent(ctx context.Context, event domain.FundsReceivedEvent) error {
	provider := strings.TrimSpace(event.Provider)
	if provider == "" {
		provider = "payment_gateway"
	}

	record, err := c.engine.Settle(ctx, SettleRequest{
		Kind:        domain.KindIssuance,
		To:          ptr(event.UserID),
		Amount:      event.Tokens,
		Reference:   ptr("payment:" + event.EventID),
		Notes:       "token purchase via " + provider,
		InitiatedBy: domain.System.UserID,
	})
	if err != nil {
		return err
	}

	c.logger.Info("funds-consumer: tokens issued", "event_id", event.EventID, "user_id", event.UserID, "amount", record.Amount, "transaction_id", record.ID)
	return nil
}
