/**
 * @description
 * HTTP handlers for the ledger-service. Handlers decode requests, resolve the
 * caller from the context and translate service errors into status codes.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: For URL parameters.
 * - internal/app, internal/domain: For use cases and the error taxonomy.
 */

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/olasores/Zariel-Influncer-App-sub001/internal/app"
	"github.com/olasores/Zariel-Influncer-App-sub001/internal/domain"
)

const maxRequestBodyBytes = 1 << 20

// LedgerHandlers holds the dependencies for the ledger HTTP handlers.
type LedgerHandlers struct {
	service       *app.Service
	settlement    *app.SettlementService
	admin         *app.AdminService
	limiter       app.RateLimiter
	purchaseLimit int
	logger        *slog.Logger
}

// NewLedgerHandlers creates a new instance of LedgerHandlers.
func NewLedgerHandlers(service *app.Service, settlement *app.SettlementService, admin *app.AdminService, logger *slog.Logger) *LedgerHandlers {
	return &LedgerHandlers{
		service:    service,
		settlement: settlement,
		admin:      admin,
		logger:     logger,
	}
}

// WithPurchaseRateLimit enables per-buyer purchase limiting.
func (h *LedgerHandlers) WithPurchaseRateLimit(limiter app.RateLimiter, perMinute int) *LedgerHandlers {
	h.limiter = limiter
	h.purchaseLimit = perMinute
	return h
}

type purchaseResponse struct {
	Purchase *domain.Purchase `json:"purchase"`
	Message  string           `json:"message"`
}

// PurchaseHandler settles a content purchase for the authenticated buyer.
func (h *LedgerHandlers) PurchaseHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	var req domain.PurchaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.BuyerID) == "" {
		req.BuyerID = caller.UserID
	}

	if h.limiter != nil && h.purchaseLimit > 0 {
		count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), app.PurchaseRateLimitScope, caller.UserID, h.purchaseLimit, time.Minute)
		if err != nil {
			h.logger.Warn("purchase rate limiter unavailable", "user_id", caller.UserID, "error", err)
		} else if count > h.purchaseLimit {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "Too many purchase attempts. Please wait and try again.")
			return
		}
	}

	purchase, err := h.settlement.PurchaseContent(r.Context(), caller, req.BuyerID, req.ContentID)
	if err != nil {
		h.writeServiceError(w, "purchase", err)
		return
	}

	writeJSON(w, http.StatusCreated, purchaseResponse{Purchase: purchase, Message: "Purchase settled"})
}

// GetWalletHandler returns the caller's balance and derived totals.
func (h *LedgerHandlers) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	wallet, err := h.service.GetWallet(r.Context(), caller.UserID)
	if err != nil {
		h.writeServiceError(w, "get_wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// ListTransactionsHandler returns the caller's transaction history, newest first.
func (h *LedgerHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	transactions, err := h.service.ListTransactions(r.Context(), caller.UserID, opts)
	if err != nil {
		h.writeServiceError(w, "list_transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, transactionPage(transactions, opts))
}

// GetEntitlementHandler reports whether the caller may upload content right now.
func (h *LedgerHandlers) GetEntitlementHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	entitlement, err := h.service.Entitlement(r.Context(), caller.UserID)
	if err != nil {
		h.writeServiceError(w, "get_entitlement", err)
		return
	}
	writeJSON(w, http.StatusOK, entitlement)
}

// OverviewHandler returns the role-specific dashboard for the caller.
func (h *LedgerHandlers) OverviewHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	overview, err := h.service.Overview(r.Context(), caller)
	if err != nil {
		h.writeServiceError(w, "overview", err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// CreateContentHandler lists a new content item owned by the caller.
func (h *LedgerHandlers) CreateContentHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	var req domain.CreateContentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	item, err := h.service.CreateContent(r.Context(), caller, req)
	if err != nil {
		h.writeServiceError(w, "create_content", err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// GetContentHandler returns a single content item.
func (h *LedgerHandlers) GetContentHandler(w http.ResponseWriter, r *http.Request) {
	contentID, ok := contentIDParam(w, r)
	if !ok {
		return
	}

	item, err := h.service.GetContent(r.Context(), contentID)
	if err != nil {
		h.writeServiceError(w, "get_content", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// ArchiveContentHandler withdraws one of the caller's active items.
func (h *LedgerHandlers) ArchiveContentHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}
	contentID, ok := contentIDParam(w, r)
	if !ok {
		return
	}

	item, err := h.service.ArchiveContent(r.Context(), caller, contentID)
	if err != nil {
		h.writeServiceError(w, "archive_content", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// AdminSetBalanceHandler sets a user's balance to an absolute value.
func (h *LedgerHandlers) AdminSetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	var req domain.AdjustBalanceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.NewBalance == nil {
		writeError(w, http.StatusBadRequest, "new_balance is required")
		return
	}

	var reference *string
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
		ref := "admin:" + key
		reference = &ref
	}

	if err := h.admin.SetBalance(r.Context(), caller, req.UserID, *req.NewBalance, req.Notes, reference); err != nil {
		h.writeServiceError(w, "admin_set_balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// AdminListTransactionsHandler returns any account's history for administrators.
func (h *LedgerHandlers) AdminListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}

	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	transactions, err := h.admin.ListAccountTransactions(r.Context(), caller, chi.URLParam(r, "userID"), opts)
	if err != nil {
		h.writeServiceError(w, "admin_list_transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, transactionPage(transactions, opts))
}

// InternalSettleHandler lets trusted services settle any transaction kind.
func (h *LedgerHandlers) InternalSettleHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.InternalSettlementRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	record, err := h.service.SettleInternal(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "internal_settle", err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// InternalUpsertSubscriptionHandler records a billing period for a user.
func (h *LedgerHandlers) InternalUpsertSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.UpsertSubscriptionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	period, err := h.service.UpsertSubscription(r.Context(), chi.URLParam(r, "userID"), req)
	if err != nil {
		h.writeServiceError(w, "internal_upsert_subscription", err)
		return
	}
	writeJSON(w, http.StatusOK, period)
}

type transactionListResponse struct {
	Transactions []domain.Transaction `json:"transactions"`
	Limit        int                  `json:"limit"`
	Offset       int                  `json:"offset"`
}

func transactionPage(transactions []domain.Transaction, opts domain.TransactionListOptions) transactionListResponse {
	if transactions == nil {
		transactions = []domain.Transaction{}
	}
	opts = opts.Normalize()
	return transactionListResponse{Transactions: transactions, Limit: opts.Limit, Offset: opts.Offset}
}

func parseListOptions(r *http.Request) (domain.TransactionListOptions, error) {
	var opts domain.TransactionListOptions
	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return opts, errors.New("limit must be a non-negative integer")
		}
		opts.Limit = limit
	}
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return opts, errors.New("offset must be a non-negative integer")
		}
		opts.Offset = offset
	}
	return opts, nil
}

func contentIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	contentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid content ID format")
		return uuid.Nil, false
	}
	return contentID, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// writeServiceError maps the domain error taxonomy onto HTTP statuses.
func (h *LedgerHandlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "endpoint", endpoint, "error", err)
		if status == http.StatusServiceUnavailable {
			writeError(w, status, "Settlement could not be completed. Please retry.")
			return
		}
		writeError(w, status, "Internal server error")
		return
	}

	h.logger.Info("request rejected", "endpoint", endpoint, "status", status, "reason", err.Error())
	writeError(w, status, err.Error())
}

func statusForError(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrUploadNotEntitled):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrNotPurchasable):
		return http.StatusConflict
	case errors.Is(err, domain.ErrSelfPurchase):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrSettlementFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
