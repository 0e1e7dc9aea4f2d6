package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/olasores/Zariel-Influncer-App-sub001/internal/domain"
	"github.com/olasores/Zariel-Influncer-App-sub001/internal/store"
)

// Authorizer decides whether an identity may perform administrative actions.
type Authorizer interface {
	IsAdmin(ctx context.Context, identity domain.Identity) bool
}

// ClaimsAuthorizer trusts the role claim and an explicit allowlist of user ids.
type ClaimsAuthorizer struct {
	allowlist map[string]struct{}
}

func NewClaimsAuthorizer(adminUserIDs []string) *ClaimsAuthorizer {
	allowlist := make(map[string]struct{}, len(adminUserIDs))
	for _, id := range adminUserIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			allowlist[trimmed] = struct{}{}
		}
	}
	return &ClaimsAuthorizer{allowlist: allowlist}
}

func (a *ClaimsAuthorizer) IsAdmin(ctx context.Context, identity domain.Identity) bool {
	if identity.UserID == "" {
		return false
	}
	if identity.Role == domain.RoleAdmin {
		return true
	}
	_, ok := a.allowlist[identity.UserID]
	return ok
}

// AdminService applies privileged balance corrections. Every correction is
// settled through the engine, so it leaves the same audit trail as any other movement.
type AdminService struct {
	repo       store.Repository
	engine     *Engine
	authorizer Authorizer
	logger     *slog.Logger
}

func NewAdminService(repo store.Repository, engine *Engine, authorizer Authorizer, logger *slog.Logger) *AdminService {
	return &AdminService{repo: repo, engine: engine, authorizer: authorizer, logger: logger}
}

// SetBalance moves targetUserID's balance to newBalance by issuing or redeeming
// the difference. The difference is computed from the locked balance, so a
// concurrent settlement cannot make the correction overshoot.
func (a *AdminService) SetBalance(ctx context.Context, caller domain.Identity, targetUserID string, newBalance int64, notes string, reference *string) error {
	if !a.authorizer.IsAdmin(ctx, caller) {
		a.logger.Warn("admin balance adjustment denied", "caller", caller.UserID, "target", targetUserID)
		return domain.ErrUnauthorized
	}
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" {
		return domain.NewValidationError("user_id", "is required")
	}
	if newBalance < 0 {
		return domain.NewValidationError("new_balance", "must not be negative")
	}

	notes = strings.TrimSpace(notes)
	if notes == "" {
		notes = "admin balance adjustment"
	}

	record, err := a.engine.SettleComputed(ctx, func(ctx context.Context, tx store.LedgerTx) (*SettleRequest, error) {
		req := &SettleRequest{Reference: reference, Notes: notes, InitiatedBy: caller.UserID}

		// The kind is derived from the balance, which may have moved since the
		// key was first used, so a replay must match either kind.
		if reference != nil {
			existing, err := claimAdjustmentReference(ctx, tx, *reference)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				req.Kind = existing.Kind
				req.From = existing.FromAccount
				req.To = existing.ToAccount
				req.Amount = existing.Amount
				return req, nil
			}
		}

		current, err := tx.LockAccount(ctx, targetUserID)
		if err != nil {
			return nil, err
		}

		delta := newBalance - current
		switch {
		case delta > 0:
			req.Kind = domain.KindIssuance
			req.To = ptr(targetUserID)
			req.Amount = delta
		case delta < 0:
			req.Kind = domain.KindRedemption
			req.From = ptr(targetUserID)
			req.Amount = -delta
		default:
			return nil, nil
		}
		return req, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("target %w", store.ErrAccountNotFound)
		}
		return err
	}

	if record == nil {
		a.logger.Info("admin balance adjustment was a no-op", "caller", caller.UserID, "target", targetUserID, "balance", newBalance)
		return nil
	}
	a.logger.Info("admin balance adjusted",
		"caller", caller.UserID,
		"target", targetUserID,
		"new_balance", newBalance,
		"kind", record.Kind,
		"amount", record.Amount,
		"transaction_id", record.ID,
	)
	return nil
}

// claimAdjustmentReference locks reference for both adjustment kinds, in a fixed
// order, and returns the completed adjustment already recorded under it.
func claimAdjustmentReference(ctx context.Context, tx store.LedgerTx, reference string) (*domain.Transaction, error) {
	for _, kind := range []domain.TransactionKind{domain.KindIssuance, domain.KindRedemption} {
		existing, err := tx.ClaimReference(ctx, kind, reference)
		if err != nil {
			return nil, fmt.Errorf("claim reference: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}
	return nil, nil
}

// ListAccountTransactions returns another user's history for support tooling.
func (a *AdminService) ListAccountTransactions(ctx context.Context, caller domain.Identity, userID string, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	if !a.authorizer.IsAdmin(ctx, caller) {
		return nil, domain.ErrUnauthorized
	}
	if _, err := a.repo.FindAccount(ctx, userID); err != nil {
		return nil, err
	}
	return a.repo.ListTransactionsByAccount(ctx, userID, opts)
}
