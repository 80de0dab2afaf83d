// Package wallet provides the HTTP handlers for wallet lifecycle, deposits,
// withdrawals, and the transaction audit trail.
package wallet

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/binopt/settlement-engine/internal/model"
	"github.com/binopt/settlement-engine/internal/store"
)

// Service handles wallet operations. All balance math happens in the store's
// conditional updates; this layer only validates and translates errors.
type Service struct {
	store store.Store
}

// NewService creates a new wallet service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// CreateWalletRequest is the JSON body for POST /api/v1/wallets.
type CreateWalletRequest struct {
	UserID   string `json:"user_id"`
	Currency string `json:"currency"` // empty → store default
}

// DepositRequest is the JSON body for deposit calls.
type DepositRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	PaymentID string          `json:"payment_id"`
}

// WithdrawRequest is the JSON body for withdrawal calls.
type WithdrawRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// CreateWallet handles POST /api/v1/wallets
func (s *Service) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req CreateWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	wallet, err := s.store.CreateWallet(r.Context(), req.UserID, req.Currency)
	if err != nil {
		if errors.Is(err, store.ErrWalletExists) {
			writeError(w, "wallet already exists", http.StatusConflict)
			return
		}
		writeError(w, "failed to create wallet", http.StatusInternalServerError)
		return
	}

	slog.Info("wallet created", "user", req.UserID, "currency", wallet.Currency)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(wallet)
}

// GetWallet handles GET /api/v1/users/{userID}/wallet
func (s *Service) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	wallet, err := s.store.GetWallet(r.Context(), userID)
	if err != nil {
		writeError(w, "wallet not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(wallet)
}

// Deposit handles POST /api/v1/users/{userID}/wallet/deposit
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	txn, err := s.store.Deposit(r.Context(), userID, req.Amount, req.PaymentID)
	if err != nil {
		if errors.Is(err, store.ErrWalletNotFound) {
			writeError(w, "wallet not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to deposit", http.StatusInternalServerError)
		return
	}

	slog.Info("deposit completed", "user", userID, "amount", req.Amount.String(), "txn_id", txn.ID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(txn)
}

// Withdraw handles POST /api/v1/users/{userID}/wallet/withdraw
// Locked funds are never withdrawable: the debit runs against the spendable
// balance only.
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	txn, err := s.store.Withdraw(r.Context(), userID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrWalletNotFound):
			writeError(w, "wallet not found", http.StatusNotFound)
		case errors.Is(err, store.ErrInsufficientFunds):
			writeError(w, "insufficient funds", http.StatusBadRequest)
		default:
			writeError(w, "failed to withdraw", http.StatusInternalServerError)
		}
		return
	}

	slog.Info("withdrawal requested", "user", userID, "amount", req.Amount.String(), "txn_id", txn.ID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(txn)
}

// ListTransactions handles GET /api/v1/users/{userID}/wallet/transactions?limit=N
func (s *Service) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		if n > 200 {
			n = 200
		}
		limit = n
	}

	txns, err := s.store.ListTransactions(r.Context(), userID, limit)
	if err != nil {
		writeError(w, "failed to list transactions", http.StatusInternalServerError)
		return
	}
	if txns == nil {
		txns = []model.Transaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txns)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
