package trade

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/binopt/settlement-engine/internal/asset"
	"github.com/binopt/settlement-engine/internal/oracle"
)

// Historian serves historical price series. The CoinGecko client implements
// it; when no historian is configured the history route returns 404.
type Historian interface {
	HistoricalPrices(ctx context.Context, symbol string, days int) ([]oracle.PricePoint, error)
}

// SetHistorian wires an optional historical price source.
func (s *Service) SetHistorian(h Historian) {
	s.historian = h
}

// PriceResponse is the JSON body for GET /api/v1/prices/{symbol}.
type PriceResponse struct {
	Symbol   string `json:"symbol"`
	Price    string `json:"price"`
	Currency string `json:"currency"`
	At       int64  `json:"at"` // unix millis
}

// GetPrice handles GET /api/v1/prices/{symbol}
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	symbol, err := asset.Normalize(chi.URLParam(r, "symbol"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	price, err := s.oracle.CurrentPrice(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, oracle.ErrUnavailable) {
			writeError(w, "price feed unavailable", http.StatusServiceUnavailable)
			return
		}
		writeError(w, "failed to fetch price", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(PriceResponse{
		Symbol:   symbol,
		Price:    price.String(),
		Currency: "INR",
		At:       time.Now().UnixMilli(),
	})
}

// GetPriceHistory handles GET /api/v1/prices/{symbol}/history?days=N
func (s *Service) GetPriceHistory(w http.ResponseWriter, r *http.Request) {
	if s.historian == nil {
		writeError(w, "price history not available", http.StatusNotFound)
		return
	}

	symbol, err := asset.Normalize(chi.URLParam(r, "symbol"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	days := 1
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 90 {
			writeError(w, "days must be between 1 and 90", http.StatusBadRequest)
			return
		}
		days = n
	}

	points, err := s.historian.HistoricalPrices(r.Context(), symbol, days)
	if err != nil {
		if errors.Is(err, oracle.ErrUnavailable) {
			writeError(w, "price feed unavailable", http.StatusServiceUnavailable)
			return
		}
		writeError(w, "failed to fetch price history", http.StatusInternalServerError)
		return
	}
	if points == nil {
		points = []oracle.PricePoint{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(points)
}
