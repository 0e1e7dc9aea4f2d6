/**
 * @description
 * This file contains the transaction engine, the only code path that moves Zaryo
 * tokens between accounts. Every settlement runs as one atomic unit: the balance
 * deltas and the completed transaction record commit together or not at all.
 *
 * Key features:
 * - Idempotent settlement keyed on (kind, reference).
 * - Accounts are locked in sorted-ID order to avoid deadlocks between opposite transfers.
 * - Business rejections pass through untouched; anything else becomes a retryable
 *   `ErrSettlementFailed` and the in-flight record is resolved to `failed`.
 *
 * @dependencies
 * - internal/domain, internal/store: For domain models and the atomic write surface.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/olasores/Zariel-Influncer-App-sub001/internal/domain"
	"github.com/olasores/Zariel-Influncer-App-sub001/internal/store"
)

// SettleRequest describes one balance movement.
type SettleRequest struct {
	Kind        domain.TransactionKind
	From        *string
	To          *string
	Amount      int64
	Reference   *string
	Notes       string
	InitiatedBy string
}

// SettleFunc runs extra writes inside the settlement's atomic unit after the
// record has been appended. Returning an error rolls the whole unit back.
type SettleFunc func(ctx context.Context, tx store.LedgerTx, record *domain.Transaction) error

// PlanFunc derives a settlement from state read inside the atomic unit.
// A nil request with a nil error means there is nothing to settle.
type PlanFunc func(ctx context.Context, tx store.LedgerTx) (*SettleRequest, error)

// Engine settles token movements against the ledger store.
type Engine struct {
	repo   store.Repository
	logger *slog.Logger
}

// NewEngine creates a new transaction engine.
func NewEngine(repo store.Repository, logger *slog.Logger) *Engine {
	return &Engine{repo: repo, logger: logger}
}

// ValidateSettleRequest checks amount and the endpoint shape required by the kind.
func ValidateSettleRequest(req SettleRequest) error {
	if !req.Kind.Valid() {
		return domain.NewValidationError("kind", fmt.Sprintf("unknown transaction kind %q", req.Kind))
	}
	if req.Amount <= 0 {
		return domain.NewValidationError("amount", "must be a positive whole number of tokens")
	}

	hasFrom := req.From != nil
	hasTo := req.To != nil
	if hasFrom && strings.TrimSpace(*req.From) == "" {
		return domain.NewValidationError("from", "must not be blank")
	}
	if hasTo && strings.TrimSpace(*req.To) == "" {
		return domain.NewValidationError("to", "must not be blank")
	}
	if !hasFrom && !hasTo {
		return domain.NewValidationError("accounts", "at least one of from or to is required")
	}
	if hasFrom && hasTo && *req.From == *req.To {
		return domain.NewValidationError("to", "must differ from the source account")
	}
	if req.Reference != nil && strings.TrimSpace(*req.Reference) == "" {
		return domain.NewValidationError("reference", "must not be blank")
	}

	switch req.Kind {
	case domain.KindIssuance:
		if hasFrom || !hasTo {
			return domain.NewValidationError("accounts", "issuance credits a destination only")
		}
	case domain.KindRedemption:
		if !hasFrom || hasTo {
			return domain.NewValidationError("accounts", "redemption debits a source only")
		}
	case domain.KindPurchase, domain.KindEcosystemPurchase:
		if !hasFrom || !hasTo {
			return domain.NewValidationError("accounts", fmt.Sprintf("%s requires both source and destination", req.Kind))
		}
	}
	return nil
}

// Settle applies req atomically and returns the completed record. Replaying a
// (kind, reference) pair that already completed returns the original record.
func (e *Engine) Settle(ctx context.Context, req SettleRequest) (*domain.Transaction, error) {
	return e.SettleWithin(ctx, req, nil)
}

// SettleWithin is Settle with fn executed inside the same atomic unit. fn is not
// invoked on an idempotent replay.
func (e *Engine) SettleWithin(ctx context.Context, req SettleRequest, fn SettleFunc) (*domain.Transaction, error) {
	if err := ValidateSettleRequest(req); err != nil {
		return nil, err
	}
	return e.run(ctx, func(context.Context, store.LedgerTx) (*SettleRequest, error) {
		return &req, nil
	}, fn)
}

// SettleComputed lets plan read locked state before choosing what to settle.
// It returns (nil, nil) when plan decides there is nothing to do.
func (e *Engine) SettleComputed(ctx context.Context, plan PlanFunc) (*domain.Transaction, error) {
	return e.run(ctx, plan, nil)
}

func (e *Engine) run(ctx context.Context, plan PlanFunc, fn SettleFunc) (*domain.Transaction, error) {
	var (
		record   *domain.Transaction
		replayed *domain.Transaction
		request  *SettleRequest
	)

	err := e.repo.WithinTransaction(ctx, func(tx store.LedgerTx) error {
		req, err := plan(ctx, tx)
		if err != nil || req == nil {
			return err
		}
		if err := ValidateSettleRequest(*req); err != nil {
			return err
		}
		request = req

		if req.Reference != nil {
			existing, err := tx.ClaimReference(ctx, req.Kind, *req.Reference)
			if err != nil {
				return fmt.Errorf("claim reference: %w", err)
			}
			if existing != nil {
				replayed = existing
				return nil
			}
		}

		record = domain.NewPendingTransaction(req.Kind, req.From, req.To, req.Amount, req.Reference)
		record.Notes = req.Notes
		record.InitiatedBy = req.InitiatedBy
		return e.apply(ctx, tx, record, fn)
	})

	if err == nil {
		if replayed != nil {
			e.logger.Info("settlement replayed", "transaction_id", replayed.ID, "kind", replayed.Kind, "reference", deref(replayed.Reference))
			return replayed, nil
		}
		if record == nil {
			return nil, nil
		}
		_ = record.Transition(domain.TransactionCompleted)
		e.logger.Info("settlement completed",
			"transaction_id", record.ID,
			"kind", record.Kind,
			"from", deref(record.FromAccount),
			"to", deref(record.ToAccount),
			"amount", record.Amount,
		)
		return record, nil
	}

	if record != nil {
		_ = record.Transition(domain.TransactionFailed)
	}

	switch {
	case domain.IsBusinessRejection(err):
		e.logger.Info("settlement rejected", "reason", err.Error(), "kind", kindOf(request))
		return record, err
	case domain.IsValidation(err), errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUnauthorized):
		return record, err
	case errors.Is(err, store.ErrDuplicateRef) && request != nil && request.Reference != nil:
		// A concurrent attempt with the same reference won the race.
		existing, lookupErr := e.lookupCompleted(ctx, request.Kind, *request.Reference)
		if lookupErr == nil && existing != nil {
			return existing, nil
		}
	}

	e.logger.Error("settlement failed", "kind", kindOf(request), "error", err, "retryable", store.IsRetryablePgError(err))
	return record, fmt.Errorf("%w: %w", domain.ErrSettlementFailed, err)
}

func (e *Engine) apply(ctx context.Context, tx store.LedgerTx, record *domain.Transaction, fn SettleFunc) error {
	if record.ToAccount != nil {
		if err := tx.CreateAccount(ctx, *record.ToAccount); err != nil {
			return fmt.Errorf("create destination account: %w", err)
		}
	}

	ids := make([]string, 0, 2)
	if record.FromAccount != nil {
		ids = append(ids, *record.FromAccount)
	}
	if record.ToAccount != nil {
		ids = append(ids, *record.ToAccount)
	}
	sort.Strings(ids)

	balances := make(map[string]int64, len(ids))
	for _, id := range ids {
		balance, err := tx.LockAccount(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrAccountNotFound) && record.FromAccount != nil && id == *record.FromAccount {
				return fmt.Errorf("%w: account %s has no tokens", domain.ErrInsufficientFunds, id)
			}
			return fmt.Errorf("lock account %s: %w", id, err)
		}
		balances[id] = balance
	}

	if record.FromAccount != nil {
		from := *record.FromAccount
		if balances[from] < record.Amount {
			return fmt.Errorf("%w: balance %d is below %d", domain.ErrInsufficientFunds, balances[from], record.Amount)
		}
		if err := tx.ApplyBalanceDelta(ctx, from, -record.Amount); err != nil {
			if errors.Is(err, store.ErrNegativeBalance) {
				return domain.ErrInsufficientFunds
			}
			return fmt.Errorf("debit %s: %w", from, err)
		}
	}
	if record.ToAccount != nil {
		if err := tx.ApplyBalanceDelta(ctx, *record.ToAccount, record.Amount); err != nil {
			return fmt.Errorf("credit %s: %w", *record.ToAccount, err)
		}
	}

	completed := *record
	if err := completed.Transition(domain.TransactionCompleted); err != nil {
		return err
	}
	if err := tx.AppendTransaction(ctx, &completed); err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}

	if fn != nil {
		return fn(ctx, tx, &completed)
	}
	return nil
}

func (e *Engine) lookupCompleted(ctx context.Context, kind domain.TransactionKind, reference string) (*domain.Transaction, error) {
	var existing *domain.Transaction
	err := e.repo.WithinTransaction(ctx, func(tx store.LedgerTx) error {
		var err error
		existing, err = tx.ClaimReference(ctx, kind, reference)
		return err
	})
	return existing, err
}

func kindOf(req *SettleRequest) domain.TransactionKind {
	if req == nil {
		return ""
	}
	return req.Kind
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ptr[T any](v T) *T {
	return &v
}
