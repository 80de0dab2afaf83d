// Package trade provides the HTTP handlers and settlement logic for
// binary-options positions: stake locking at creation, delayed settlement
// through the queue, and terminal payout application.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/binopt/settlement-engine/internal/asset"
	"github.com/binopt/settlement-engine/internal/metrics"
	"github.com/binopt/settlement-engine/internal/model"
	"github.com/binopt/settlement-engine/internal/oracle"
	"github.com/binopt/settlement-engine/internal/queue"
	"github.com/binopt/settlement-engine/internal/risk"
	"github.com/binopt/settlement-engine/internal/store"
)

// Config holds the trading parameters. Zero values fall back to defaults.
type Config struct {
	MinStake       decimal.Decimal // default 10
	MaxStake       decimal.Decimal // default 100000
	MinDuration    int             // seconds, default 60
	MaxDuration    int             // seconds, default 300
	WinMultiplier  decimal.Decimal // payout = stake × multiplier, default 1.75
	LossMultiplier decimal.Decimal // default 0.5
}

func (c *Config) applyDefaults() {
	if !c.MinStake.IsPositive() {
		c.MinStake = decimal.NewFromInt(10)
	}
	if !c.MaxStake.IsPositive() {
		c.MaxStake = decimal.NewFromInt(100000)
	}
	if c.MinDuration <= 0 {
		c.MinDuration = 60
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 300
	}
	if !c.WinMultiplier.IsPositive() {
		c.WinMultiplier = decimal.NewFromFloat(1.75)
	}
	if !c.LossMultiplier.IsPositive() {
		c.LossMultiplier = decimal.NewFromFloat(0.5)
	}
}

// Service handles trade operations. Concurrency safety comes from the
// store's conditional updates, not from serialization here: any number of
// requests and settlement workers may run against the same trade.
type Service struct {
	store   store.Store
	oracle  oracle.Oracle
	queue   queue.Queue
	limiter   *risk.Limiter
	cfg       Config
	wsHub     *WSHub    // optional WebSocket hub for real-time broadcasts
	historian Historian // optional historical price source
}

// NewService creates a new trade service.
// Pass nil for limiter and hub to disable risk limits and broadcasting.
func NewService(st store.Store, orc oracle.Oracle, q queue.Queue, limiter *risk.Limiter, hub *WSHub, cfg Config) *Service {
	cfg.applyDefaults()
	return &Service{
		store:   st,
		oracle:  orc,
		queue:   q,
		limiter: limiter,
		cfg:     cfg,
		wsHub:   hub,
	}
}

// --- Request types ---

// TradeRequest is the JSON body for POST /api/v1/trades.
type TradeRequest struct {
	UserID    string          `json:"user_id"`
	Asset     string          `json:"asset"`
	Stake     decimal.Decimal `json:"amount"`
	Direction string          `json:"direction"` // "UP" or "DOWN"
	Duration  int             `json:"duration"`  // seconds until expiry
}

// --- HTTP Handlers ---

// CreateTrade handles POST /api/v1/trades
// Locks the stake, records the ACTIVE trade, and schedules settlement.
func (s *Service) CreateTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// --- Input validation ---
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.Direction != model.DirectionUp && req.Direction != model.DirectionDown {
		writeError(w, "direction must be UP or DOWN", http.StatusBadRequest)
		return
	}
	if req.Stake.LessThan(s.cfg.MinStake) || req.Stake.GreaterThan(s.cfg.MaxStake) {
		writeError(w, fmt.Sprintf("amount must be between %s and %s",
			s.cfg.MinStake.String(), s.cfg.MaxStake.String()), http.StatusBadRequest)
		return
	}
	if req.Duration < s.cfg.MinDuration || req.Duration > s.cfg.MaxDuration {
		writeError(w, fmt.Sprintf("duration must be between %d and %d seconds",
			s.cfg.MinDuration, s.cfg.MaxDuration), http.StatusBadRequest)
		return
	}

	symbol, err := asset.Normalize(req.Asset)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	// --- Risk limits ---
	if s.limiter != nil {
		wallet, err := s.store.GetWallet(ctx, req.UserID)
		if err != nil {
			if errors.Is(err, store.ErrWalletNotFound) {
				writeError(w, "wallet not found", http.StatusNotFound)
				return
			}
			writeError(w, "failed to check risk limits", http.StatusInternalServerError)
			return
		}
		active, err := s.store.ListActiveTrades(ctx, req.UserID)
		if err != nil {
			writeError(w, "failed to check risk limits", http.StatusInternalServerError)
			return
		}
		if err := s.limiter.CheckLimit(req.Stake, len(active), wallet.Locked); err != nil {
			writeError(w, err.Error(), http.StatusConflict)
			return
		}
	}

	// Entry price is captured before the lock so a feed outage never leaves
	// funds reserved against a trade that was not created.
	entryPrice, err := s.oracle.CurrentPrice(ctx, symbol)
	if err != nil {
		if errors.Is(err, oracle.ErrUnavailable) {
			writeError(w, "price feed unavailable, try again", http.StatusServiceUnavailable)
			return
		}
		writeError(w, "failed to fetch entry price", http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()
	trade := &model.Trade{
		ID:         uuid.New().String(),
		UserID:     req.UserID,
		Asset:      symbol,
		Stake:      req.Stake,
		Direction:  req.Direction,
		EntryPrice: entryPrice,
		Duration:   req.Duration,
		ExpiresAt:  now.Add(time.Duration(req.Duration) * time.Second),
		Status:     model.TradeActive,
		CreatedAt:  now,
	}

	if err := s.store.CreateTrade(ctx, trade); err != nil {
		switch {
		case errors.Is(err, store.ErrInsufficientFunds):
			writeError(w, "insufficient funds", http.StatusBadRequest)
		case errors.Is(err, store.ErrWalletNotFound):
			writeError(w, "wallet not found", http.StatusNotFound)
		default:
			writeError(w, "failed to create trade", http.StatusInternalServerError)
		}
		return
	}

	// Enqueue failure is recoverable: the reconciliation sweep re-drives any
	// ACTIVE trade found past expiry.
	if err := s.queue.Enqueue(ctx, trade.ID, time.Duration(req.Duration)*time.Second); err != nil {
		slog.Error("settlement enqueue failed, reconciliation will recover",
			"trade_id", trade.ID, "err", err)
	}

	metrics.TradesCreated.WithLabelValues(req.Direction).Inc()

	slog.Info("trade created",
		"trade_id", trade.ID,
		"user", req.UserID,
		"asset", symbol,
		"direction", req.Direction,
		"amount", req.Stake.String(),
		"entry_price", entryPrice.String(),
		"expires_at", trade.ExpiresAt,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(trade)
}

// GetTrade handles GET /api/v1/trades/{tradeID}
func (s *Service) GetTrade(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeID")

	trade, err := s.store.GetTrade(r.Context(), tradeID)
	if err != nil {
		writeError(w, "trade not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trade)
}

// CancelTrade handles POST /api/v1/trades/{tradeID}/cancel
// Refunds the full stake while the trade is still ACTIVE.
func (s *Service) CancelTrade(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeID")
	ctx := r.Context()

	trade, err := s.Cancel(ctx, tradeID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrTradeNotFound):
			writeError(w, "trade not found", http.StatusNotFound)
		case errors.Is(err, store.ErrAlreadySettled):
			writeError(w, "trade is no longer active", http.StatusConflict)
		default:
			writeError(w, "failed to cancel trade", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trade)
}

// ListActiveTrades handles GET /api/v1/users/{userID}/trades/active
func (s *Service) ListActiveTrades(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	trades, err := s.store.ListActiveTrades(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to list trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// ListTradeHistory handles GET /api/v1/users/{userID}/trades/history?limit=N
func (s *Service) ListTradeHistory(w http.ResponseWriter, r *http.Request) {
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

	trades, err := s.store.ListSettledTrades(r.Context(), userID, limit)
	if err != nil {
		writeError(w, "failed to list trade history", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// --- Settlement ---

// Settle resolves one trade against the current price: WON when the
// direction called the move correctly, LOST otherwise (a flat price loses).
// Safe to call any number of times and from any number of workers — a trade
// that already left ACTIVE is acknowledged as done.
//
// A nil return means the trade is terminal. Errors are transient unless they
// wrap store.ErrInvariant.
func (s *Service) Settle(ctx context.Context, tradeID string) error {
	start := time.Now()
	defer func() {
		metrics.SettlementDuration.Observe(time.Since(start).Seconds())
	}()

	trade, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		if errors.Is(err, store.ErrTradeNotFound) {
			slog.Warn("settlement job for unknown trade, dropping", "trade_id", tradeID)
			return nil
		}
		return fmt.Errorf("load trade %s: %w", tradeID, err)
	}
	if trade.Terminal() {
		return nil
	}

	exitPrice, err := s.oracle.CurrentPrice(ctx, trade.Asset)
	if err != nil {
		return fmt.Errorf("exit price for %s: %w", trade.Asset, err)
	}

	isWin := (trade.Direction == model.DirectionUp && exitPrice.GreaterThan(trade.EntryPrice)) ||
		(trade.Direction == model.DirectionDown && exitPrice.LessThan(trade.EntryPrice))

	status := model.TradeLost
	multiplier := s.cfg.LossMultiplier
	if isWin {
		status = model.TradeWon
		multiplier = s.cfg.WinMultiplier
	}
	payout := trade.Stake.Mul(multiplier)

	settled, err := s.store.SettleTrade(ctx, tradeID, model.Settlement{
		Status:     status,
		ExitPrice:  exitPrice,
		Payout:     payout,
		ProfitLoss: payout.Sub(trade.Stake),
		SettledAt:  time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadySettled) {
			// Another worker won the transition. Nothing to do.
			return nil
		}
		return fmt.Errorf("settle trade %s: %w", tradeID, err)
	}

	metrics.TradesSettled.WithLabelValues(status).Inc()

	slog.Info("trade settled",
		"trade_id", settled.ID,
		"user", settled.UserID,
		"asset", settled.Asset,
		"status", status,
		"entry_price", settled.EntryPrice.String(),
		"exit_price", exitPrice.String(),
		"payout", payout.String(),
	)

	if s.wsHub != nil {
		s.wsHub.BroadcastSettlement(settled)
	}
	return nil
}

// Cancel transitions an ACTIVE trade to CANCELLED and refunds the full
// stake. Races against settlement are resolved by the store: whichever
// transition lands first wins, the other gets ErrAlreadySettled.
func (s *Service) Cancel(ctx context.Context, tradeID string) (*model.Trade, error) {
	trade, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if trade.Terminal() {
		return nil, store.ErrAlreadySettled
	}

	settled, err := s.store.SettleTrade(ctx, tradeID, model.Settlement{
		Status:     model.TradeCancelled,
		ExitPrice:  trade.EntryPrice,
		Payout:     trade.Stake,
		ProfitLoss: decimal.Zero,
		SettledAt:  time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	metrics.TradesSettled.WithLabelValues(model.TradeCancelled).Inc()

	slog.Info("trade cancelled",
		"trade_id", settled.ID,
		"user", settled.UserID,
		"refund", trade.Stake.String(),
	)

	if s.wsHub != nil {
		s.wsHub.BroadcastSettlement(settled)
	}
	return settled, nil
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
